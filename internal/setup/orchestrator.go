// Package setup drives the on-chain onboarding of one venue: agent creation,
// delegation, allowance, agent funding and deployment. Every transaction goes
// through the wallet layer and every durable fact lives in the backend; the
// orchestrator only keeps a cached copy of the milestones.
package setup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/backend"
	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/events"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/journal"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/poller"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/progress"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/venue"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// Signer is the wallet layer as seen by the orchestrator.
type Signer interface {
	Identity() wallet.Identity
	Dispatch(ctx context.Context, req wallet.ActionRequest) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, hash common.Hash, rpcURL string) (*coretypes.Receipt, error)
}

// StatusService is the part of the backend the orchestrator calls.
type StatusService interface {
	SetupStatus(ctx context.Context, venue, userWallet string) (backend.SetupStatus, error)
	CreateAgent(ctx context.Context, venue, userWallet string) (backend.AgentResult, error)
	CreateDeployment(ctx context.Context, venue, agentID, userWallet string) (backend.DeploymentResult, error)
	MarkApproval(ctx context.Context, venue, userWallet, txHash string) error
	ResetConnection(ctx context.Context, venue, userWallet string) error
}

// FactSource answers the on-chain questions of a venue.
type FactSource interface {
	IsDelegated(ctx context.Context, owner, agent common.Address) (bool, error)
	HasAllowance(ctx context.Context, owner common.Address) (bool, error)
	IsFunded(ctx context.Context, agent common.Address) (bool, error)
}

const fundingTask = "agent-balance"

// Orchestrator runs the setup of one venue for the session's wallet. Only one
// operation runs at a time; a second concurrent call fails with CodeBusy.
type Orchestrator struct {
	venue   venue.Venue
	signer  Signer
	backend StatusService
	facts   FactSource

	journal        journal.Store
	cache          progress.Store
	events         events.Publisher
	pollInterval   time.Duration
	fundingTimeout time.Duration
	log            *slog.Logger

	inflight atomic.Bool
	scope    *poller.Scope

	mu           sync.Mutex
	state        State
	deployFailed bool
	deployed     bool
}

// Option customises the orchestrator.
type Option func(*Orchestrator)

// WithJournal records dispatched transactions in store.
func WithJournal(store journal.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.journal = store
		}
	}
}

// WithProgressStore mirrors milestones to store.
func WithProgressStore(store progress.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.cache = store
		}
	}
}

// WithEventPublisher publishes milestones, transactions and failures.
func WithEventPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		o.events = p
	}
}

// WithPolling sets the agent balance poll interval and funding timeout.
func WithPolling(interval, fundingTimeout time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.pollInterval = interval
		}
		if fundingTimeout > 0 {
			o.fundingTimeout = fundingTimeout
		}
	}
}

// New builds the orchestrator of one venue.
func New(v venue.Venue, signer Signer, status StatusService, facts FactSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		venue:          v,
		signer:         signer,
		backend:        status,
		facts:          facts,
		pollInterval:   4 * time.Second,
		fundingTimeout: 5 * time.Minute,
		log:            logger.Named("setup").With(slog.String("venue", v.Name)),
		scope:          poller.NewScope(context.Background()),
		state:          State{Venue: v.Name, Phase: PhaseIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.journal == nil {
		o.journal, _ = journal.NewMemoryStore("")
	}
	if o.cache == nil {
		o.cache = progress.NewMemoryStore()
	}
	return o
}

// Venue returns the venue name.
func (o *Orchestrator) Venue() string {
	return o.venue.Name
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state.clone()
	s.Busy = o.inflight.Load()
	return s
}

// Complete reports whether the venue setup is complete.
func (o *Orchestrator) Complete() bool {
	return o.Snapshot().Phase == PhaseComplete
}

// Started reports whether any milestone was reached.
func (o *Orchestrator) Started() bool {
	return len(o.Snapshot().Progress.Reached()) > 0
}

// view is the state as an operation in progress reports it.
func (o *Orchestrator) view() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Close stops background polling.
func (o *Orchestrator) Close() {
	o.scope.Close()
}

// Hydrate binds the session wallet and loads cached milestones.
func (o *Orchestrator) Hydrate(ctx context.Context) error {
	_, err := o.bind(ctx)
	return err
}

func (o *Orchestrator) begin() (func(), error) {
	if !o.inflight.CompareAndSwap(false, true) {
		return nil, xerrors.New(xerrors.CodeBusy, "")
	}
	o.mu.Lock()
	o.state.Message = ""
	o.mu.Unlock()
	return func() { o.inflight.Store(false) }, nil
}

// bind resolves the signer address. A different wallet than the one bound
// so far starts from a clean state plus whatever the cache holds for it.
func (o *Orchestrator) bind(ctx context.Context) (common.Address, error) {
	id := o.signer.Identity()
	if id.Address == nil {
		return common.Address{}, wallet.ErrNoWallet
	}
	owner := *id.Address
	addr := owner.Hex()

	o.mu.Lock()
	same := strings.EqualFold(o.state.UserWallet, addr)
	o.mu.Unlock()
	if same {
		return owner, nil
	}

	o.scope.Stop(fundingTask)
	cached, found, err := o.cache.Load(ctx, o.venue.Name, addr)
	if err != nil {
		o.log.Warn("load cached progress failed", slog.Any("error", err))
		found = false
	}

	o.mu.Lock()
	o.state = State{Venue: o.venue.Name, UserWallet: addr, Phase: PhaseIdle}
	o.deployFailed, o.deployed = false, false
	if found {
		o.state.Progress = cached
		o.state.AgentAddress = cached.AgentAddress
	}
	o.mu.Unlock()
	return owner, nil
}

func (o *Orchestrator) wallet() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.UserWallet
}

func (o *Orchestrator) phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Phase
}

func (o *Orchestrator) has(m progress.Milestone) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Progress.Has(m)
}

func (o *Orchestrator) setPhase(ctx context.Context, to Phase) error {
	o.mu.Lock()
	from := o.state.Phase
	if !CanTransition(from, to) {
		o.mu.Unlock()
		return transitionError(from, to)
	}
	o.state.Phase = to
	userWallet := o.state.UserWallet
	o.mu.Unlock()

	if from != to {
		metrics.PhaseTransitions.WithLabelValues(o.venue.Name, string(from), string(to)).Inc()
		e := events.New(events.TypePhase, o.venue.Name, userWallet)
		e.Phase = string(to)
		o.publish(ctx, e)
	}
	return nil
}

// mark sets a milestone, mirrors it to the cache and publishes it.
func (o *Orchestrator) mark(ctx context.Context, m progress.Milestone) error {
	o.mu.Lock()
	changed, err := o.state.Progress.Mark(m)
	snapshot := o.state.Progress
	snapshot.AgentAddress = o.state.AgentAddress
	userWallet := o.state.UserWallet
	o.mu.Unlock()
	if err != nil || !changed {
		return err
	}

	if err := o.cache.Save(ctx, o.venue.Name, userWallet, snapshot); err != nil {
		o.log.Warn("cache progress failed", slog.String("milestone", string(m)), slog.Any("error", err))
	}
	e := events.New(events.TypeMilestone, o.venue.Name, userWallet)
	e.Milestone = string(m)
	o.publish(ctx, e)
	return nil
}

func (o *Orchestrator) setAgent(agent common.Address, agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.AgentAddress = agent.Hex()
	o.state.Progress.AgentAddress = agent.Hex()
	if agentID != "" {
		o.state.AgentID = agentID
	}
}

func (o *Orchestrator) agent() (common.Address, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !common.IsHexAddress(o.state.AgentAddress) {
		return common.Address{}, false
	}
	return common.HexToAddress(o.state.AgentAddress), true
}

// fail converts err into the user-facing message of the state.
func (o *Orchestrator) fail(ctx context.Context, operation string, err error) error {
	message := xerrors.UserMessage(err)
	o.mu.Lock()
	o.state.Message = message
	userWallet := o.state.UserWallet
	o.mu.Unlock()

	o.log.Warn("setup operation failed",
		slog.String("operation", operation),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Any("error", err))
	o.publish(ctx, events.Failure(o.venue.Name, userWallet, operation, err))
	return err
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := o.events.Publish(pctx, e); err != nil {
		o.log.Warn("publish event failed", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}
