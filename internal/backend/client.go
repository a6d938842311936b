// Package backend is the client of the Maxxit REST backend, the durable owner
// of setup and onboarding state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/config"
	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// APIError represents backend validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the backend through a circuit breaker.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        *slog.Logger
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a backend client from configuration.
func NewClient(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid backend url %q", cfg.BaseURL))
	}
	c := &Client{
		baseURL:    parsed,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		log:        logger.Named("backend"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	name := "backend:" + parsed.Host
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    seconds(cfg.Breaker.IntervalSeconds, time.Minute),
		Timeout:     seconds(cfg.Breaker.OpenSeconds, 30*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			c.log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		// 4xx 是业务错误，不应打开熔断器
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return c, nil
}

func seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

// State returns the breaker state for health reporting.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// SetupStatus fetches the persisted setup state for a venue.
func (c *Client) SetupStatus(ctx context.Context, venue, userWallet string) (SetupStatus, error) {
	var out SetupStatus
	err := c.get(ctx, "setup-status", venuePath(venue, "setup-status"), url.Values{"userWallet": {userWallet}}, &out)
	return out, err
}

// CreateAgent provisions, or returns the existing, agent wallet.
func (c *Client) CreateAgent(ctx context.Context, venue, userWallet string) (AgentResult, error) {
	var out AgentResult
	if err := c.post(ctx, "create-agent", venuePath(venue, "create-agent"), map[string]string{"userWallet": userWallet}, &out); err != nil {
		return AgentResult{}, err
	}
	if !out.Success {
		return out, xerrors.New(xerrors.CodeBackendFailure, failureMessage(out.Error, "agent creation failed"))
	}
	return out, nil
}

// CreateDeployment ties the agent to the user and venue. The backend treats
// repeated calls for the same agent as idempotent.
func (c *Client) CreateDeployment(ctx context.Context, venue, agentID, userWallet string) (DeploymentResult, error) {
	var out DeploymentResult
	payload := map[string]string{"agentId": agentID, "userWallet": userWallet}
	if err := c.post(ctx, "create-deployment", venuePath(venue, "create-deployment"), payload, &out); err != nil {
		return DeploymentResult{}, err
	}
	if !out.Success {
		return out, xerrors.New(xerrors.CodeBackendFailure, failureMessage(out.Error, "deployment creation failed"))
	}
	return out, nil
}

// MarkApproval records that the allowance was granted on-chain.
func (c *Client) MarkApproval(ctx context.Context, venue, userWallet, txHash string) error {
	payload := map[string]string{"userWallet": userWallet, "txHash": txHash}
	return c.post(ctx, "mark-approval", venuePath(venue, "mark-approval"), payload, nil)
}

// ResetConnection clears the venue setup and the agent wallet on the backend.
func (c *Client) ResetConnection(ctx context.Context, venue, userWallet string) error {
	return c.post(ctx, "reset", venuePath(venue, "reset"), map[string]string{"userWallet": userWallet}, nil)
}

// CurrentUser fetches the authenticated user record.
func (c *Client) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	var out CurrentUser
	if err := c.get(ctx, "user", "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OnboardingStatus fetches the wizard state.
func (c *Client) OnboardingStatus(ctx context.Context, userWallet string) (OnboardingStatus, error) {
	var out OnboardingStatus
	err := c.get(ctx, "onboarding-status", "/api/openclaw/onboarding-status", url.Values{"userWallet": {userWallet}}, &out)
	return out, err
}

// TelegramStatus reports whether Telegram is linked.
func (c *Client) TelegramStatus(ctx context.Context, userWallet string) (TelegramStatus, error) {
	var out TelegramStatus
	err := c.get(ctx, "telegram-status", "/api/openclaw/telegram/status", url.Values{"userWallet": {userWallet}}, &out)
	return out, err
}

// InstanceStatus reports agent instance readiness.
func (c *Client) InstanceStatus(ctx context.Context, userWallet string) (InstanceStatus, error) {
	var out InstanceStatus
	err := c.get(ctx, "instance-status", "/api/openclaw/instance/status", url.Values{"userWallet": {userWallet}}, &out)
	return out, err
}

// LLMBalance fetches the remaining LLM credit.
func (c *Client) LLMBalance(ctx context.Context, userWallet string) (LLMBalance, error) {
	var out LLMBalance
	err := c.get(ctx, "llm-balance", "/api/openclaw/llm-balance", url.Values{"userWallet": {userWallet}}, &out)
	return out, err
}

func venuePath(venue, action string) string {
	return path.Join("/api/openclaw", strings.ToLower(venue), action)
}

func failureMessage(msg, fallback string) string {
	if strings.TrimSpace(msg) != "" {
		return msg
	}
	return fallback
}

func (c *Client) post(ctx context.Context, endpoint, p string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.call(ctx, endpoint, http.MethodPost, p, nil, body, out)
}

func (c *Client) get(ctx context.Context, endpoint, p string, query url.Values, out any) error {
	return c.call(ctx, endpoint, http.MethodGet, p, query, nil, out)
}

func (c *Client) call(ctx context.Context, endpoint, method, p string, query url.Values, body []byte, out any) error {
	started := time.Now()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := c.newRequest(ctx, method, p, query, body)
		if err != nil {
			return nil, err
		}
		return c.do(req)
	})
	metrics.ObserveBackend(endpoint, err, time.Since(started))
	if err != nil {
		return c.classify(endpoint, err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeBackendFailure, err, "decode "+endpoint+" response")
	}
	return nil
}

func (c *Client) classify(endpoint string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "backend temporarily unavailable")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, endpoint)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return xerrors.Wrap(xerrors.CodeNotFound, err, endpoint)
	}
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, endpoint)
}

func (c *Client) newRequest(ctx context.Context, method, p string, query url.Values, body []byte) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, p)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}); err != nil || apiErr.Message == "" {
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return nil, apiErr
	}
	return data, nil
}
