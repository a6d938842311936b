package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/auth"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/backend"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/setup"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/venue"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/ethereum"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/ethtest"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wizard"
)

var (
	ownerAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	agentAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type stubBackend struct {
	onboarding     backend.OnboardingStatus
	telegramLinked bool
}

func (stubBackend) SetupStatus(context.Context, string, string) (backend.SetupStatus, error) {
	return backend.SetupStatus{}, nil
}

func (stubBackend) CreateAgent(context.Context, string, string) (backend.AgentResult, error) {
	return backend.AgentResult{Success: true, Agent: &backend.Ref{ID: "agent-1"}, OstiumAgentAddress: agentAddr.Hex()}, nil
}

func (stubBackend) CreateDeployment(context.Context, string, string, string) (backend.DeploymentResult, error) {
	return backend.DeploymentResult{Success: true}, nil
}

func (stubBackend) MarkApproval(context.Context, string, string, string) error { return nil }

func (stubBackend) ResetConnection(context.Context, string, string) error { return nil }

func (b stubBackend) OnboardingStatus(context.Context, string) (backend.OnboardingStatus, error) {
	return b.onboarding, nil
}

func (b stubBackend) TelegramStatus(context.Context, string) (backend.TelegramStatus, error) {
	return backend.TelegramStatus{Linked: b.telegramLinked}, nil
}

func (stubBackend) InstanceStatus(context.Context, string) (backend.InstanceStatus, error) {
	return backend.InstanceStatus{}, nil
}

func (stubBackend) LLMBalance(context.Context, string) (backend.LLMBalance, error) {
	return backend.LLMBalance{}, nil
}

func newTestServer(t *testing.T, connected bool, opts ...Option) http.Handler {
	t.Helper()
	return buildTestServer(t, stubBackend{}, func(session *wallet.Session, node *ethtest.Node) {
		if connected {
			session.Connect(wallet.Handle{Address: ownerAddr, ClientType: "metamask", Provider: node.WalletClient()})
		}
	}, opts...)
}

func buildTestServer(t *testing.T, status stubBackend, wire func(*wallet.Session, *ethtest.Node), opts ...Option) http.Handler {
	t.Helper()
	v, err := venue.New(venue.Ostium, web3.ChainDefinition{
		ChainID:            42161,
		NetworkName:        "Arbitrum One",
		RPCURL:             "https://arb1.arbitrum.io/rpc",
		DelegationContract: "0x6D0bA1f9996DBD8885827e1b2e8f6593e7702411",
		Token:              "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		Spender:            "0x0B9f5243B29938668c9Cfbd7557A389EC7Ef88b8",
		ApproveAmount:      "1000000000000",
		MinAllowance:       "1000000",
		DefaultFundingWei:  "500000000000000",
	})
	if err != nil {
		t.Fatalf("venue: %v", err)
	}
	node := ethtest.NewNode(v.ChainID(), ownerAddr)
	reader := ethereum.NewFromRPC(ethereum.Config{Name: "ostium", PollInterval: 10 * time.Millisecond}, node.ChainClient())
	t.Cleanup(reader.Close)

	session := wallet.NewSession()
	wire(session, node)
	t.Cleanup(session.Close)
	resolver := wallet.NewResolver(session)

	orch := setup.New(v, resolver, status, venue.NewFactReader(v, reader))
	manager := setup.NewManager(orch)
	t.Cleanup(manager.Close)
	wz := wizard.New(status,
		wizard.WithGate(wizard.StepOstium, orch),
		wizard.WithIntervals(5*time.Millisecond, 5*time.Millisecond, 5*time.Millisecond))
	t.Cleanup(wz.Close)

	opts = append([]Option{WithNetwork("mainnet")}, opts...)
	return NewServer(":0", resolver, manager, wz, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, decoded
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, false)

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	if body["status"] != "ok" || body["network"] != "mainnet" {
		t.Fatalf("unexpected health body: %v", body)
	}

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "openclaw_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestIdentityWithoutWallet(t *testing.T) {
	h := newTestServer(t, false)

	rec, body := do(t, h, http.MethodGet, "/api/v1/identity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if body["source"] != "none" || body["address"] != nil {
		t.Fatalf("unexpected identity: %v", body)
	}

	rec, body = do(t, h, http.MethodPost, "/api/v1/identity/connect", "")
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected %d, got %d", http.StatusPreconditionFailed, rec.Code)
	}
	if body["code"] != "NO_PROVIDER" {
		t.Fatalf("unexpected error body: %v", body)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/identity", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestSetupRoutes(t *testing.T) {
	h := newTestServer(t, true)

	t.Run("unknown venue", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/api/v1/setup/hyperliquid", "")
		if rec.Code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
			t.Fatalf("unexpected response %d %v", rec.Code, body)
		}
	})

	t.Run("snapshot", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/api/v1/setup/ostium", "")
		if rec.Code != http.StatusOK || body["phase"] != "idle" {
			t.Fatalf("unexpected response %d %v", rec.Code, body)
		}
	})

	t.Run("start", func(t *testing.T) {
		rec, body := do(t, h, http.MethodPost, "/api/v1/setup/ostium/start", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d: %v", rec.Code, body)
		}
		if body["phase"] != "agent-created" || body["agentAddress"] != agentAddr.Hex() {
			t.Fatalf("unexpected state: %v", body)
		}
	})

	t.Run("fund locked", func(t *testing.T) {
		rec, body := do(t, h, http.MethodPost, "/api/v1/setup/ostium/fund", `{"amountWei":"1000"}`)
		if rec.Code != http.StatusConflict || body["code"] != "STEP_LOCKED" {
			t.Fatalf("unexpected response %d %v", rec.Code, body)
		}
		state, ok := body["state"].(map[string]any)
		if !ok || state["phase"] != "agent-created" {
			t.Fatalf("expected state in error body: %v", body)
		}
	})

	t.Run("bad amount", func(t *testing.T) {
		rec, body := do(t, h, http.MethodPost, "/api/v1/setup/ostium/fund", `{"amountWei":"-5"}`)
		if rec.Code != http.StatusBadRequest || body["code"] != "INVALID_ARGUMENT" {
			t.Fatalf("unexpected response %d %v", rec.Code, body)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodGet, "/api/v1/setup/ostium/start", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodPost, "/api/v1/setup/ostium/withdraw", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/api/v1/setup", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}
		if _, ok := body["ostium"]; !ok {
			t.Fatalf("expected ostium in list: %v", body)
		}
	})
}

func TestWizardRoutes(t *testing.T) {
	h := newTestServer(t, true)

	rec, body := do(t, h, http.MethodPost, "/api/v1/wizard/advance", `{"step":"telegram"}`)
	if rec.Code != http.StatusConflict || body["error"] != "Complete the plan step first" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodPost, "/api/v1/wizard/complete", `{"step":"plan","value":"pro"}`)
	if rec.Code != http.StatusOK || body["currentStep"] != "model" || body["plan"] != "pro" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/wizard/skip", `{"step":"plan"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/wizard/complete", `{"step":"deposit"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec, body = do(t, h, http.MethodGet, "/api/v1/wizard", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	completed, _ := body["completedSteps"].([]any)
	if len(completed) != 1 || completed[0] != "plan" {
		t.Fatalf("unexpected completed steps: %v", body["completedSteps"])
	}
}

func TestGuardProtectsActions(t *testing.T) {
	h := newTestServer(t, true, WithGuard(auth.NewGuard("secret")))

	rec, _ := do(t, h, http.MethodGet, "/api/v1/setup/ostium", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reads should not need a token, got %d", rec.Code)
	}

	rec, body := do(t, h, http.MethodPost, "/api/v1/setup/ostium/start", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if body["error"] != auth.ErrMissingToken.Error() {
		t.Fatalf("unexpected error body: %v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/setup/ostium/start", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestConnectLoadsWizardAndWatchesTelegram(t *testing.T) {
	status := stubBackend{
		onboarding: backend.OnboardingStatus{
			CompletedSteps: []string{"plan", "model"},
			Plan:           "pro",
			Model:          "gpt-4o",
		},
		telegramLinked: true,
	}
	h := buildTestServer(t, status, func(session *wallet.Session, node *ethtest.Node) {
		session.SetInjected(node.WalletClient())
	})

	rec, body := do(t, h, http.MethodGet, "/api/v1/wizard", "")
	if rec.Code != http.StatusOK || body["currentStep"] != "plan" {
		t.Fatalf("unexpected wizard before connect %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodPost, "/api/v1/identity/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected connect status %d: %v", rec.Code, body)
	}
	if addr, _ := body["address"].(string); !strings.EqualFold(addr, ownerAddr.Hex()) || body["source"] != "injected" {
		t.Fatalf("unexpected identity: %v", body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body = do(t, h, http.MethodGet, "/api/v1/wizard", "")
		if body["telegramLinked"] == true {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("telegram link was never picked up: %v", body)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if body["plan"] != "pro" || body["currentStep"] != "openai" {
		t.Fatalf("unexpected wizard after connect: %v", body)
	}

	rec, body = do(t, h, http.MethodPost, "/api/v1/wizard/complete", `{"step":"telegram"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("completing telegram failed %d: %v", rec.Code, body)
	}
	completed, _ := body["completedSteps"].([]any)
	if len(completed) != 3 || completed[2] != "telegram" {
		t.Fatalf("unexpected completed steps: %v", body["completedSteps"])
	}
}
