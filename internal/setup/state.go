package setup

import (
	"fmt"
	"math/big"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/progress"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/venue"
)

// Phase is the orchestrator state of one venue.
type Phase string

// Phases. creating-agent, enabling-permissions and creating-deployment are
// transient: a failure leaves them for the phase they were entered from.
const (
	PhaseIdle                Phase = "idle"
	PhaseCreatingAgent       Phase = "creating-agent"
	PhaseAgentCreated        Phase = "agent-created"
	PhaseEnablingPermissions Phase = "enabling-permissions"
	PhaseAgentFundedCheck    Phase = "agent-funded-check"
	PhaseCreatingDeployment  Phase = "creating-deployment"
	PhaseComplete            Phase = "complete"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:                {PhaseCreatingAgent, PhaseAgentCreated, PhaseAgentFundedCheck, PhaseComplete},
	PhaseCreatingAgent:       {PhaseAgentCreated, PhaseAgentFundedCheck, PhaseComplete, PhaseIdle},
	PhaseAgentCreated:        {PhaseEnablingPermissions, PhaseAgentFundedCheck, PhaseComplete, PhaseIdle},
	PhaseEnablingPermissions: {PhaseAgentCreated, PhaseAgentFundedCheck},
	PhaseAgentFundedCheck:    {PhaseCreatingDeployment, PhaseComplete, PhaseIdle},
	PhaseCreatingDeployment:  {PhaseComplete, PhaseAgentFundedCheck},
	PhaseComplete:            {PhaseIdle},
}

// CanTransition reports whether from may move to to. Staying put is always allowed.
func CanTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Phase) error {
	return xerrors.New(xerrors.CodeInvalidTransition,
		fmt.Sprintf("cannot move from %s to %s", from, to),
		xerrors.WithMetadata("from", string(from)),
		xerrors.WithMetadata("to", string(to)))
}

// State is a snapshot of one venue setup.
type State struct {
	Venue        string            `json:"venue"`
	UserWallet   string            `json:"userWallet,omitempty"`
	Phase        Phase             `json:"phase"`
	Progress     progress.Progress `json:"progress"`
	Facts        venue.Facts       `json:"facts"`
	AgentAddress string            `json:"agentAddress,omitempty"`
	AgentID      string            `json:"agentId,omitempty"`
	DeploymentID string            `json:"deploymentId,omitempty"`
	FundingWei   *big.Int          `json:"fundingWei,omitempty"`
	LastTxHash   string            `json:"lastTxHash,omitempty"`
	Message      string            `json:"message,omitempty"`
	Busy         bool              `json:"busy"`
}

func (s State) clone() State {
	out := s
	if s.FundingWei != nil {
		out.FundingWei = new(big.Int).Set(s.FundingWei)
	}
	return out
}

// restingPhase derives where a setup rests given its milestones.
func restingPhase(p progress.Progress) Phase {
	switch {
	case p.DeploymentCreated:
		return PhaseComplete
	case p.DelegationComplete && p.AllowanceComplete:
		return PhaseAgentFundedCheck
	case p.AgentCreated:
		return PhaseAgentCreated
	default:
		return PhaseIdle
	}
}
