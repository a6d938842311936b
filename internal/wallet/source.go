package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Source identifies which signer technology backs the resolved address.
type Source string

// Sources in strict priority order.
const (
	SourceCrossApp  Source = "cross_app"
	SourceEmbedded  Source = "embedded"
	SourceConnected Source = "connected_wallet"
	SourceInjected  Source = "injected"
	SourceNone      Source = "none"
)

// ClientTypePrivy marks an embedded wallet handle.
const ClientTypePrivy = "privy"

// LinkedAccountCrossApp is the linked account type of a federated wallet.
const LinkedAccountCrossApp = "cross_app"

// Handle is one connected wallet.
type Handle struct {
	Address    common.Address
	ClientType string
	Provider   Provider
}

// LinkedAccount is an account attached to the authenticated user.
type LinkedAccount struct {
	Type            string   `json:"type"`
	ProviderAppID   string   `json:"providerAppId,omitempty"`
	EmbeddedWallets []string `json:"embeddedWallets,omitempty"`
}

// User is the authenticated user record.
type User struct {
	ID             string          `json:"id"`
	WalletAddress  string          `json:"walletAddress,omitempty"`
	LinkedAccounts []LinkedAccount `json:"linkedAccounts,omitempty"`
}

// Snapshot is the set of inputs identity resolution depends on.
type Snapshot struct {
	Handles         []Handle
	User            *User
	Injected        Provider
	InjectedAccount *common.Address
}

// Identity is the single signer identity of the session. Address is nil only
// for SourceNone and for SourceInjected before accounts were requested.
type Identity struct {
	Address            *common.Address `json:"address"`
	Source             Source          `json:"source"`
	ProviderAppMatched bool            `json:"providerAppMatched"`
}

// Equal reports whether two identities are the same.
func (i Identity) Equal(other Identity) bool {
	if i.Source != other.Source || i.ProviderAppMatched != other.ProviderAppMatched {
		return false
	}
	if i.Address == nil || other.Address == nil {
		return i.Address == nil && other.Address == nil
	}
	return *i.Address == *other.Address
}

// Resolve picks the identity for snap. It is a pure function of its inputs
// and never fails: no wallet at all is reported as SourceNone.
func Resolve(snap Snapshot, providerAppID string) Identity {
	providerAppID = strings.TrimSpace(providerAppID)

	if snap.User != nil {
		for _, account := range snap.User.LinkedAccounts {
			if account.Type != LinkedAccountCrossApp {
				continue
			}
			if providerAppID != "" && account.ProviderAppID != providerAppID {
				continue
			}
			for _, raw := range account.EmbeddedWallets {
				if !common.IsHexAddress(raw) {
					continue
				}
				addr := common.HexToAddress(raw)
				return Identity{
					Address:            &addr,
					Source:             SourceCrossApp,
					ProviderAppMatched: providerAppID != "",
				}
			}
		}
	}

	for _, h := range snap.Handles {
		if h.ClientType == ClientTypePrivy {
			addr := h.Address
			return Identity{Address: &addr, Source: SourceEmbedded}
		}
	}

	if len(snap.Handles) > 0 {
		addr := snap.Handles[0].Address
		return Identity{Address: &addr, Source: SourceConnected}
	}

	if snap.Injected != nil {
		id := Identity{Source: SourceInjected}
		if snap.InjectedAccount != nil {
			addr := *snap.InjectedAccount
			id.Address = &addr
		}
		return id
	}

	return Identity{Source: SourceNone}
}
