package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CrossAppSender is the host platform capability that signs and sends on
// behalf of a federated embedded wallet. The key never leaves the host.
type CrossAppSender interface {
	SendTransaction(ctx context.Context, signer common.Address, tx CrossAppTransaction) (common.Hash, error)
}

// RelayError is returned by the relay for rejected or failed sends.
type RelayError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *RelayError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cross-app relay error (%d): %s", e.StatusCode, e.Message)
}

// ErrorCode exposes the wallet error code so rejections classify the same way
// as provider rejections.
func (e *RelayError) ErrorCode() int {
	if e == nil {
		return 0
	}
	return e.Code
}

// HTTPRelay sends cross-app transactions through the host platform relay.
type HTTPRelay struct {
	baseURL    *url.URL
	secret     string
	httpClient *http.Client
}

// NewHTTPRelay constructs a relay client. When httpClient is nil a client
// with the given timeout is used.
func NewHTTPRelay(rawURL, secret string, timeout time.Duration, httpClient *http.Client) (*HTTPRelay, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("invalid relay url %q", rawURL)
	}
	if httpClient == nil {
		if timeout <= 0 {
			timeout = time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPRelay{baseURL: parsed, secret: secret, httpClient: httpClient}, nil
}

type relayRequest struct {
	Signer      string              `json:"signer"`
	Transaction CrossAppTransaction `json:"transaction"`
}

type relayResponse struct {
	Hash string `json:"hash"`
}

// SendTransaction posts the transaction and returns its hash.
func (r *HTTPRelay) SendTransaction(ctx context.Context, signer common.Address, tx CrossAppTransaction) (common.Hash, error) {
	body, err := json.Marshal(relayRequest{Signer: signer.Hex(), Transaction: tx})
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode relay request: %w", err)
	}
	rel := &url.URL{Path: path.Join(r.baseURL.Path, "/transactions")}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL.ResolveReference(rel).String(), bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set("Authorization", "Bearer "+r.secret)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("perform relay request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read relay response: %w", err)
	}
	if resp.StatusCode >= 400 {
		relayErr := &RelayError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, &struct {
			Error *RelayError `json:"error"`
		}{Error: relayErr}); err != nil || relayErr.Message == "" {
			_ = json.Unmarshal(data, relayErr)
		}
		if relayErr.Message == "" {
			relayErr.Message = string(bytes.TrimSpace(data))
		}
		return common.Hash{}, relayErr
	}

	var out relayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return common.Hash{}, fmt.Errorf("decode relay response: %w", err)
	}
	if len(strings.TrimPrefix(out.Hash, "0x")) != 64 {
		return common.Hash{}, fmt.Errorf("relay returned invalid hash %q", out.Hash)
	}
	return common.HexToHash(out.Hash), nil
}
