package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// 认证错误。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Caller 描述通过认证的调用方。
type Caller struct {
	Name   string
	Remote string
}

// Guard 使用静态 bearer token 保护本地 API。token 为空时不做校验。
type Guard struct {
	token string
}

// NewGuard 构造 Guard。
func NewGuard(token string) *Guard {
	return &Guard{token: strings.TrimSpace(token)}
}

// Enabled reports whether a token is configured.
func (g *Guard) Enabled() bool {
	return g != nil && g.token != ""
}

// Authenticate 校验 Authorization 头。
func (g *Guard) Authenticate(header string) error {
	if !g.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(g.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
