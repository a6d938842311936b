package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// MiddlewareConfig 配置认证中间件的行为。
type MiddlewareConfig struct {
	// Methods 为需要认证的 HTTP 方法，为空时所有请求都需要认证。
	Methods []string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
	// Reject 写出拒绝响应，为空时使用 http.Error。
	Reject func(w http.ResponseWriter, status int, err error)
}

func (c MiddlewareConfig) guarded(method string) bool {
	if len(c.Methods) == 0 {
		return true
	}
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Middleware 返回一个 HTTP 中间件：校验 token 并为受保护请求写审计日志。
func (g *Guard) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Enabled() || !cfg.guarded(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if err := g.Authenticate(r.Header.Get("Authorization")); err != nil {
				status := http.StatusUnauthorized
				if !errors.Is(err, ErrMissingToken) {
					status = http.StatusForbidden
				}
				if cfg.Reject != nil {
					cfg.Reject(w, status, err)
				} else {
					http.Error(w, http.StatusText(status), status)
				}
				logger.Audit().Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("error", err.Error()),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithCaller(r.Context(), Caller{Name: "token", Remote: r.RemoteAddr})
			next.ServeHTTP(aw, r.WithContext(ctx))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger.Audit().Info("api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
