// Package progress holds the per-venue setup milestones and the cache that
// mirrors them between restarts. The backend stays the durable owner.
package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Milestone is one monotonic setup flag.
type Milestone string

// Milestones in the order they are normally reached.
const (
	AgentCreated       Milestone = "agentCreated"
	DelegationComplete Milestone = "delegationComplete"
	AllowanceComplete  Milestone = "allowanceComplete"
	AgentFunded        Milestone = "agentFunded"
	DeploymentCreated  Milestone = "deploymentCreated"
)

// All lists every milestone.
var All = []Milestone{AgentCreated, DelegationComplete, AllowanceComplete, AgentFunded, DeploymentCreated}

var requires = map[Milestone][]Milestone{
	AgentCreated:       nil,
	DelegationComplete: {AgentCreated},
	AllowanceComplete:  {AgentCreated},
	AgentFunded:        {AgentCreated, DelegationComplete, AllowanceComplete},
	DeploymentCreated:  {AgentCreated, DelegationComplete, AllowanceComplete, AgentFunded},
}

// Progress is the setup state of one user on one venue. Flags only move from
// false to true; Reset is the only way back.
type Progress struct {
	AgentCreated       bool      `json:"agentCreated"`
	DelegationComplete bool      `json:"delegationComplete"`
	AllowanceComplete  bool      `json:"allowanceComplete"`
	AgentFunded        bool      `json:"agentFunded"`
	DeploymentCreated  bool      `json:"deploymentCreated"`
	AgentAddress       string    `json:"agentAddress,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Has reports whether m was reached.
func (p Progress) Has(m Milestone) bool {
	switch m {
	case AgentCreated:
		return p.AgentCreated
	case DelegationComplete:
		return p.DelegationComplete
	case AllowanceComplete:
		return p.AllowanceComplete
	case AgentFunded:
		return p.AgentFunded
	case DeploymentCreated:
		return p.DeploymentCreated
	}
	return false
}

// Reached returns the milestones set so far, in order.
func (p Progress) Reached() []Milestone {
	var out []Milestone
	for _, m := range All {
		if p.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// Mark sets m. It reports whether the flag changed and refuses milestones
// whose prerequisites are missing.
func (p *Progress) Mark(m Milestone) (bool, error) {
	pre, ok := requires[m]
	if !ok {
		return false, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown milestone %q", m))
	}
	if p.Has(m) {
		return false, nil
	}
	for _, r := range pre {
		if !p.Has(r) {
			return false, xerrors.New(xerrors.CodeInvalidTransition,
				fmt.Sprintf("%s requires %s", m, r),
				xerrors.WithMetadata("milestone", string(m)))
		}
	}
	switch m {
	case AgentCreated:
		p.AgentCreated = true
	case DelegationComplete:
		p.DelegationComplete = true
	case AllowanceComplete:
		p.AllowanceComplete = true
	case AgentFunded:
		p.AgentFunded = true
	case DeploymentCreated:
		p.DeploymentCreated = true
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Store caches Progress per venue and wallet.
type Store interface {
	// Load returns the cached progress; found is false when nothing is cached.
	Load(ctx context.Context, venue, userWallet string) (p Progress, found bool, err error)
	Save(ctx context.Context, venue, userWallet string, p Progress) error
	Delete(ctx context.Context, venue, userWallet string) error
	Close() error
}

func cacheKey(venue, userWallet string) string {
	return strings.ToLower(strings.TrimSpace(venue)) + ":" + strings.ToLower(strings.TrimSpace(userWallet))
}
