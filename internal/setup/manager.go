package setup

import (
	"context"
	"sort"
	"strings"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Manager holds one orchestrator per venue.
type Manager struct {
	byVenue map[string]*Orchestrator
}

// NewManager indexes orchestrators by venue name.
func NewManager(orchestrators ...*Orchestrator) *Manager {
	m := &Manager{byVenue: make(map[string]*Orchestrator, len(orchestrators))}
	for _, o := range orchestrators {
		if o != nil {
			m.byVenue[o.Venue()] = o
		}
	}
	return m
}

// Get returns the orchestrator of venue.
func (m *Manager) Get(venue string) (*Orchestrator, error) {
	o, ok := m.byVenue[strings.ToLower(strings.TrimSpace(venue))]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "unknown venue "+venue,
			xerrors.WithMetadata("venue", venue))
	}
	return o, nil
}

// Venues lists the managed venues in name order.
func (m *Manager) Venues() []string {
	names := make([]string, 0, len(m.byVenue))
	for name := range m.byVenue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the state of every venue.
func (m *Manager) Snapshots() map[string]State {
	out := make(map[string]State, len(m.byVenue))
	for name, o := range m.byVenue {
		out[name] = o.Snapshot()
	}
	return out
}

// Hydrate binds the session wallet on every venue. A missing wallet is not
// an error here; the next operation reports it.
func (m *Manager) Hydrate(ctx context.Context) error {
	for _, o := range m.byVenue {
		if err := o.Hydrate(ctx); err != nil && !xerrors.Is(err, xerrors.CodeNoWallet) {
			return err
		}
	}
	return nil
}

// Close stops background polling of every venue.
func (m *Manager) Close() {
	for _, o := range m.byVenue {
		o.Close()
	}
}
