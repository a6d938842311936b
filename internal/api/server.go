package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/auth"
	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/setup"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wizard"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// IdentitySource resolves the session wallet.
type IdentitySource interface {
	Identity() wallet.Identity
	RequestAccounts(ctx context.Context) (common.Address, error)
}

// Server 暴露本地 REST 接口，驱动钱包连接、场馆配置与引导向导。
type Server struct {
	addr     string
	identity IdentitySource
	setups   *setup.Manager
	wizard   *wizard.Wizard
	network  string
	guard    *auth.Guard
	log      *slog.Logger
}

// Option customises the server.
type Option func(*Server)

// WithNetwork reports the active network on /healthz.
func WithNetwork(network string) Option {
	return func(s *Server) {
		s.network = network
	}
}

// WithGuard requires a bearer token on every state-changing request.
func WithGuard(g *auth.Guard) Option {
	return func(s *Server) {
		s.guard = g
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, identity IdentitySource, setups *setup.Manager, wz *wizard.Wizard, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		identity: identity,
		setups:   setups,
		wizard:   wz,
		log:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/v1/identity", instrument("identity", http.HandlerFunc(s.handleIdentity)))
	mux.Handle("/api/v1/identity/connect", instrument("identity_connect", http.HandlerFunc(s.handleConnect)))
	mux.Handle("/api/v1/setup", instrument("setup", http.HandlerFunc(s.handleSetupList)))
	mux.Handle("/api/v1/setup/", instrument("setup_venue", http.HandlerFunc(s.handleSetup)))
	mux.Handle("/api/v1/wizard", instrument("wizard", http.HandlerFunc(s.handleWizard)))
	mux.Handle("/api/v1/wizard/", instrument("wizard_action", http.HandlerFunc(s.handleWizardAction)))

	return s.guard.Middleware(auth.MiddlewareConfig{
		Methods:    []string{http.MethodPost},
		AuditEvent: "openclaw_api",
		Reject: func(w http.ResponseWriter, status int, err error) {
			writeError(w, status, xerrors.CodeInvalidArgument, err.Error())
		},
	})(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnknown, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

type errorBody struct {
	Error string       `json:"error"`
	Code  xerrors.Code `json:"code"`
	State any          `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeFailure 输出统一的错误响应，state 为失败后的最新状态。
func writeFailure(w http.ResponseWriter, err error, state any) {
	writeJSON(w, statusFor(err), errorBody{
		Error: xerrors.UserMessage(err),
		Code:  xerrors.CodeOf(err),
		State: state,
	})
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeNoWallet, xerrors.CodeNoProvider:
		return http.StatusPreconditionFailed
	case xerrors.CodeBusy, xerrors.CodeConflict, xerrors.CodeInvalidTransition, xerrors.CodeStepLocked,
		xerrors.CodeUserRejected, xerrors.CodeWrongNetwork, xerrors.CodeChainNotAdded:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeRPCFailure, xerrors.CodeBackendFailure, xerrors.CodeBackendInconsistency:
		return http.StatusBadGateway
	case xerrors.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody 解析可选的 JSON 请求体，空请求体视为零值。
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 "+allowed)
}
