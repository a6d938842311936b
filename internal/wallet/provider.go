package wallet

import (
	"context"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Provider is a raw EIP-1193 style JSON-RPC endpoint. *rpc.Client from
// go-ethereum satisfies it, so a local signer (Clef, Frame) or an embedded
// wallet bridge can be plugged in directly.
type Provider interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// ErrNoProvider is returned when no signing provider is available.
var ErrNoProvider = xerrors.New(xerrors.CodeNoProvider, "")

// ErrNoWallet is returned when the session has no resolved address.
var ErrNoWallet = xerrors.New(xerrors.CodeNoWallet, "")

// SigningProvider returns the provider used for low-level calls, following
// the resolution priority: an embedded wallet, then the first connected
// wallet, then the injected provider.
func SigningProvider(snap Snapshot) (Provider, error) {
	for _, h := range snap.Handles {
		if h.ClientType == ClientTypePrivy && h.Provider != nil {
			return h.Provider, nil
		}
	}
	if len(snap.Handles) > 0 && snap.Handles[0].Provider != nil {
		return snap.Handles[0].Provider, nil
	}
	if snap.Injected != nil {
		return snap.Injected, nil
	}
	return nil, ErrNoProvider
}
