package wallet

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Inputs supplies the current resolution inputs. It is read fresh before
// every signing operation.
type Inputs interface {
	Snapshot() Snapshot
	BindInjected(addr common.Address)
}

// Session holds the wallets and user of the single operator session.
type Session struct {
	mu              sync.RWMutex
	handles         []Handle
	user            *User
	injected        Provider
	injectedAccount *common.Address
}

var _ Inputs = (*Session)(nil)

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Connect adds a wallet handle, replacing an existing handle for the same
// address in place.
func (s *Session) Connect(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.handles {
		if s.handles[i].Address == h.Address {
			old := s.handles[i].Provider
			s.handles[i] = h
			if old != h.Provider {
				closeProvider(old)
			}
			return
		}
	}
	s.handles = append(s.handles, h)
}

// Disconnect removes the handle for addr.
func (s *Session) Disconnect(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.handles {
		if s.handles[i].Address == addr {
			closeProvider(s.handles[i].Provider)
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			return true
		}
	}
	return false
}

// SetUser replaces the authenticated user record.
func (s *Session) SetUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	clone := *u
	clone.LinkedAccounts = append([]LinkedAccount(nil), u.LinkedAccounts...)
	s.user = &clone
}

// SetInjected installs the injected provider. Its account stays unknown until
// BindInjected is called after eth_requestAccounts.
func (s *Session) SetInjected(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected != p {
		closeProvider(s.injected)
	}
	s.injected = p
	s.injectedAccount = nil
}

// BindInjected records the account granted by the injected provider.
func (s *Session) BindInjected(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectedAccount = &addr
}

// Snapshot copies the current inputs.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Handles:  append([]Handle(nil), s.handles...),
		Injected: s.injected,
	}
	if s.user != nil {
		user := *s.user
		snap.User = &user
	}
	if s.injectedAccount != nil {
		addr := *s.injectedAccount
		snap.InjectedAccount = &addr
	}
	return snap
}

// Close releases the providers held by the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		closeProvider(h.Provider)
	}
	closeProvider(s.injected)
	s.handles = nil
	s.injected = nil
	s.injectedAccount = nil
}

func closeProvider(p Provider) {
	if closer, ok := p.(interface{ Close() }); ok {
		closer.Close()
	}
}
