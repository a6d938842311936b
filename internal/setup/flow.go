package setup

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/backend"
	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/events"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/journal"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/poller"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/progress"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/venue"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// Start creates or recovers the agent of the venue. A setup the backend
// already considers complete moves straight to complete without any
// transaction.
func (o *Orchestrator) Start(ctx context.Context) (State, error) {
	release, err := o.begin()
	if err != nil {
		return o.Snapshot(), err
	}
	defer release()

	owner, err := o.bind(ctx)
	if err != nil {
		return o.view(), o.fail(ctx, "start", err)
	}
	if cur := o.phase(); cur != PhaseIdle {
		return o.view(), o.fail(ctx, "start", transitionError(cur, PhaseCreatingAgent))
	}
	if err := o.setPhase(ctx, PhaseCreatingAgent); err != nil {
		return o.view(), o.fail(ctx, "start", err)
	}
	if err := o.start(ctx, owner); err != nil {
		return o.view(), o.fail(ctx, "start", err)
	}
	return o.view(), nil
}

func (o *Orchestrator) start(ctx context.Context, owner common.Address) error {
	userWallet := owner.Hex()
	status, err := o.backend.SetupStatus(ctx, o.venue.Name, userWallet)
	if err != nil {
		_ = o.setPhase(ctx, PhaseIdle)
		return err
	}
	if status.Complete() {
		return o.adoptComplete(ctx, status)
	}

	res, err := o.backend.CreateAgent(ctx, o.venue.Name, userWallet)
	if err != nil {
		_ = o.setPhase(ctx, PhaseIdle)
		return err
	}
	agent, ok := res.AgentWallet()
	if !ok {
		_ = o.setPhase(ctx, PhaseIdle)
		return xerrors.New(xerrors.CodeBackendFailure, "agent creation returned no agent address")
	}
	o.setAgent(agent, refID(res.Agent, status.Agent))
	if err := o.mark(ctx, progress.AgentCreated); err != nil {
		return err
	}
	if err := o.setPhase(ctx, PhaseAgentCreated); err != nil {
		return err
	}

	known := venue.Facts{Delegated: status.Delegated(), Allowance: status.Approved()}
	if err := o.refreshFacts(ctx, owner, agent, known); err != nil {
		return err
	}
	return o.settle(ctx, res.HasDeployment || status.Deployment != nil, refID(status.Deployment))
}

// adoptComplete trusts a backend that reports the venue complete.
func (o *Orchestrator) adoptComplete(ctx context.Context, status backend.SetupStatus) error {
	if agent, ok := status.AgentWallet(); ok {
		o.setAgent(agent, refID(status.Agent))
	}
	o.mu.Lock()
	o.state.Facts = venue.Facts{Delegated: true, Allowance: true, Funded: true}
	if id := refID(status.Deployment); id != "" {
		o.state.DeploymentID = id
	}
	o.mu.Unlock()
	for _, m := range progress.All {
		if err := o.mark(ctx, m); err != nil {
			return err
		}
	}
	return o.setPhase(ctx, PhaseComplete)
}

// settle moves to the phase the milestones justify. An existing deployment
// completes the setup once the agent is funded.
func (o *Orchestrator) settle(ctx context.Context, deployed bool, deploymentID string) error {
	if deployed {
		o.mu.Lock()
		o.deployed = true
		if deploymentID != "" {
			o.state.DeploymentID = deploymentID
		}
		o.mu.Unlock()
		if o.has(progress.AgentFunded) {
			if err := o.mark(ctx, progress.DeploymentCreated); err != nil {
				return err
			}
		}
	}
	o.mu.Lock()
	next := restingPhase(o.state.Progress)
	o.mu.Unlock()
	return o.setPhase(ctx, next)
}

// EnableTrading sends the delegation and then the allowance, each only when
// the chain does not show it yet. The allowance is never prompted before the
// delegation is confirmed.
func (o *Orchestrator) EnableTrading(ctx context.Context) (State, error) {
	release, err := o.begin()
	if err != nil {
		return o.Snapshot(), err
	}
	defer release()

	owner, err := o.bind(ctx)
	if err != nil {
		return o.view(), o.fail(ctx, "enable-trading", err)
	}
	cur := o.view()
	if cur.Progress.DelegationComplete && cur.Progress.AllowanceComplete {
		return cur, nil
	}
	if cur.Phase != PhaseAgentCreated {
		return cur, o.fail(ctx, "enable-trading", transitionError(cur.Phase, PhaseEnablingPermissions))
	}
	agent, ok := o.agent()
	if !ok {
		return cur, o.fail(ctx, "enable-trading", xerrors.New(xerrors.CodeStepLocked, "Create the agent before enabling trading"))
	}

	if err := o.setPhase(ctx, PhaseEnablingPermissions); err != nil {
		return o.view(), o.fail(ctx, "enable-trading", err)
	}
	if err := o.enable(ctx, owner, agent); err != nil {
		_ = o.setPhase(ctx, PhaseAgentCreated)
		return o.view(), o.fail(ctx, "enable-trading", err)
	}
	if err := o.setPhase(ctx, PhaseAgentFundedCheck); err != nil {
		return o.view(), o.fail(ctx, "enable-trading", err)
	}
	if err := o.applyFacts(ctx, venue.Facts{}); err != nil {
		return o.view(), o.fail(ctx, "enable-trading", err)
	}
	return o.view(), nil
}

func (o *Orchestrator) enable(ctx context.Context, owner, agent common.Address) error {
	if !o.has(progress.DelegationComplete) {
		req, err := o.venue.DelegateRequest(agent)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build delegation")
		}
		verify := func(ctx context.Context) (bool, error) {
			return o.facts.IsDelegated(ctx, owner, agent)
		}
		if _, err := o.ensure(ctx, journal.ActionDelegate, req, verify, true); err != nil {
			return err
		}
		if err := o.applyFacts(ctx, venue.Facts{Delegated: true}); err != nil {
			return err
		}
	}

	if !o.has(progress.AllowanceComplete) {
		req, err := o.venue.ApproveRequest()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build approval")
		}
		verify := func(ctx context.Context) (bool, error) {
			return o.facts.HasAllowance(ctx, owner)
		}
		hash, err := o.ensure(ctx, journal.ActionApprove, req, verify, true)
		if err != nil {
			return err
		}
		if err := o.applyFacts(ctx, venue.Facts{Allowance: true}); err != nil {
			return err
		}
		if hash != (common.Hash{}) {
			o.recordApproval(ctx, hash)
		}
	}
	return nil
}

// Fund sends amount of native currency to the agent wallet. A nil amount
// uses the venue default. Funding is locked until both permissions exist.
func (o *Orchestrator) Fund(ctx context.Context, amount *big.Int) (State, error) {
	release, err := o.begin()
	if err != nil {
		return o.Snapshot(), err
	}
	defer release()

	if _, err := o.bind(ctx); err != nil {
		return o.view(), o.fail(ctx, "fund", err)
	}
	cur := o.view()
	if !cur.Progress.DelegationComplete || !cur.Progress.AllowanceComplete {
		return cur, o.fail(ctx, "fund", xerrors.New(xerrors.CodeStepLocked, "Enable trading before funding the agent"))
	}
	if cur.Progress.AgentFunded {
		return cur, nil
	}
	if cur.Phase != PhaseAgentFundedCheck {
		return cur, o.fail(ctx, "fund", transitionError(cur.Phase, PhaseAgentFundedCheck))
	}
	agent, _ := o.agent()
	req, err := o.venue.FundRequest(agent, amount)
	if err != nil {
		return cur, o.fail(ctx, "fund", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build funding transfer"))
	}
	o.mu.Lock()
	o.state.FundingWei = req.Value
	o.mu.Unlock()

	verify := func(ctx context.Context) (bool, error) {
		return o.facts.IsFunded(ctx, agent)
	}
	if _, err := o.ensure(ctx, journal.ActionFund, req, verify, false); err != nil {
		return o.view(), o.fail(ctx, "fund", err)
	}
	// 余额可能稍后才可见，交给 WaitFunded/WatchFunding。
	funded, err := verify(ctx)
	if err != nil {
		o.log.Debug("read agent balance failed", slog.Any("error", err))
	}
	if funded {
		if err := o.applyFacts(ctx, venue.Facts{Funded: true}); err != nil {
			return o.view(), o.fail(ctx, "fund", err)
		}
	}
	return o.view(), nil
}

// WaitFunded polls the agent balance until it is positive or the funding
// timeout passes.
func (o *Orchestrator) WaitFunded(ctx context.Context) (State, error) {
	cur := o.view()
	if cur.Progress.AgentFunded {
		return cur, nil
	}
	if !cur.Progress.DelegationComplete || !cur.Progress.AllowanceComplete {
		return cur, o.fail(ctx, "wait-funded", xerrors.New(xerrors.CodeStepLocked, "Enable trading before funding the agent"))
	}
	agent, _ := o.agent()

	wctx, cancel := context.WithTimeout(ctx, o.fundingTimeout)
	defer cancel()
	if err := poller.Until(wctx, fundingTask+":"+o.venue.Name, o.pollInterval, o.pollFunded(agent)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = xerrors.New(xerrors.CodeTimeout, "Agent wallet is not funded yet")
		}
		return o.view(), o.fail(ctx, "wait-funded", err)
	}
	return o.view(), nil
}

// WatchFunding polls the agent balance in the background. It returns false
// when there is nothing to watch.
func (o *Orchestrator) WatchFunding() bool {
	cur := o.view()
	if cur.Progress.AgentFunded || !cur.Progress.DelegationComplete || !cur.Progress.AllowanceComplete {
		return false
	}
	agent, ok := o.agent()
	if !ok {
		return false
	}
	return o.scope.Start(fundingTask, o.pollInterval, o.pollFunded(agent))
}

// Watching reports whether a background funding poll is running.
func (o *Orchestrator) Watching() bool {
	return o.scope.Running(fundingTask)
}

func (o *Orchestrator) pollFunded(agent common.Address) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		funded, err := o.facts.IsFunded(ctx, agent)
		if err != nil || !funded {
			return false, err
		}
		if err := o.applyFacts(ctx, venue.Facts{Funded: true}); err != nil {
			return false, err
		}
		return true, nil
	}
}

// Deploy creates the deployment. After a failed attempt the backend is
// queried again first, so a deployment that went through is not resubmitted.
func (o *Orchestrator) Deploy(ctx context.Context) (State, error) {
	release, err := o.begin()
	if err != nil {
		return o.Snapshot(), err
	}
	defer release()

	if _, err := o.bind(ctx); err != nil {
		return o.view(), o.fail(ctx, "deploy", err)
	}
	cur := o.view()
	if cur.Phase == PhaseComplete {
		return cur, nil
	}
	if !cur.Progress.AgentFunded {
		return cur, o.fail(ctx, "deploy", xerrors.New(xerrors.CodeStepLocked, "Fund the agent wallet before creating the deployment"))
	}
	if cur.Phase != PhaseAgentFundedCheck {
		return cur, o.fail(ctx, "deploy", transitionError(cur.Phase, PhaseCreatingDeployment))
	}

	o.mu.Lock()
	deployed, requery := o.deployed, o.deployFailed || cur.AgentID == ""
	o.mu.Unlock()
	if deployed {
		return o.finishDeploy(ctx, "")
	}
	agentID := cur.AgentID
	if requery {
		status, err := o.backend.SetupStatus(ctx, o.venue.Name, cur.UserWallet)
		if err != nil {
			return o.view(), o.fail(ctx, "deploy", err)
		}
		if status.Complete() || status.Deployment != nil {
			return o.finishDeploy(ctx, refID(status.Deployment))
		}
		if agentID == "" {
			agentID = refID(status.Agent)
		}
	}
	if agentID == "" {
		return o.view(), o.fail(ctx, "deploy", xerrors.New(xerrors.CodeBackendInconsistency, "backend has no agent record for this wallet"))
	}

	if err := o.setPhase(ctx, PhaseCreatingDeployment); err != nil {
		return o.view(), o.fail(ctx, "deploy", err)
	}
	res, err := o.backend.CreateDeployment(ctx, o.venue.Name, agentID, cur.UserWallet)
	if err != nil {
		o.mu.Lock()
		o.deployFailed = true
		o.mu.Unlock()
		_ = o.setPhase(ctx, PhaseAgentFundedCheck)
		return o.view(), o.fail(ctx, "deploy", err)
	}
	return o.finishDeploy(ctx, refID(res.Deployment))
}

func (o *Orchestrator) finishDeploy(ctx context.Context, deploymentID string) (State, error) {
	o.mu.Lock()
	o.deployFailed = false
	o.deployed = true
	if deploymentID != "" {
		o.state.DeploymentID = deploymentID
	}
	o.mu.Unlock()
	if err := o.mark(ctx, progress.DeploymentCreated); err != nil {
		return o.view(), o.fail(ctx, "deploy", err)
	}
	if err := o.setPhase(ctx, PhaseComplete); err != nil {
		return o.view(), o.fail(ctx, "deploy", err)
	}
	logger.Audit().Info("deployment created",
		slog.String("venue", o.venue.Name),
		slog.String("user_wallet", o.wallet()),
		slog.String("deployment_id", deploymentID))
	return o.view(), nil
}

// Refresh re-reads the backend status and the on-chain facts. Milestones are
// only ever added.
func (o *Orchestrator) Refresh(ctx context.Context) (State, error) {
	release, err := o.begin()
	if err != nil {
		return o.Snapshot(), err
	}
	defer release()

	owner, err := o.bind(ctx)
	if err != nil {
		return o.view(), o.fail(ctx, "refresh", err)
	}
	status, err := o.backend.SetupStatus(ctx, o.venue.Name, owner.Hex())
	if err != nil {
		return o.view(), o.fail(ctx, "refresh", err)
	}
	if status.Complete() {
		if err := o.adoptComplete(ctx, status); err != nil {
			return o.view(), o.fail(ctx, "refresh", err)
		}
		return o.view(), nil
	}

	agent, ok := status.AgentWallet()
	if ok {
		o.setAgent(agent, refID(status.Agent))
	} else if agent, ok = o.agent(); !ok {
		return o.view(), nil
	}
	if err := o.mark(ctx, progress.AgentCreated); err != nil {
		return o.view(), o.fail(ctx, "refresh", err)
	}
	known := venue.Facts{Delegated: status.Delegated(), Allowance: status.Approved()}
	if err := o.refreshFacts(ctx, owner, agent, known); err != nil {
		return o.view(), o.fail(ctx, "refresh", err)
	}
	if err := o.settle(ctx, status.Deployment != nil, refID(status.Deployment)); err != nil {
		return o.view(), o.fail(ctx, "refresh", err)
	}
	return o.view(), nil
}

// Reset asks the backend to forget the venue setup. Only when it agrees is
// the local state cleared; milestones, agent and facts go together.
func (o *Orchestrator) Reset(ctx context.Context) (State, error) {
	release, err := o.begin()
	if err != nil {
		return o.Snapshot(), err
	}
	defer release()

	owner, err := o.bind(ctx)
	if err != nil {
		return o.view(), o.fail(ctx, "reset", err)
	}
	userWallet := owner.Hex()
	if err := o.backend.ResetConnection(ctx, o.venue.Name, userWallet); err != nil {
		return o.view(), o.fail(ctx, "reset", err)
	}

	o.scope.Stop(fundingTask)
	o.mu.Lock()
	from := o.state.Phase
	o.state = State{Venue: o.venue.Name, UserWallet: userWallet, Phase: PhaseIdle}
	o.deployFailed, o.deployed = false, false
	o.mu.Unlock()
	if from != PhaseIdle {
		metrics.PhaseTransitions.WithLabelValues(o.venue.Name, string(from), string(PhaseIdle)).Inc()
	}

	if err := o.cache.Delete(ctx, o.venue.Name, userWallet); err != nil {
		o.log.Warn("delete cached progress failed", slog.Any("error", err))
	}
	if err := o.journal.Clear(ctx, o.venue.Name, userWallet); err != nil {
		o.log.Warn("clear journal failed", slog.Any("error", err))
	}
	o.publish(ctx, events.New(events.TypeReset, o.venue.Name, userWallet))
	return o.view(), nil
}

func refID(refs ...*backend.Ref) string {
	for _, r := range refs {
		if r != nil && r.ID != "" {
			return r.ID
		}
	}
	return ""
}
