package wizard

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/backend"
	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/poller"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// VenueGate reports the setup of the venue behind a venue step.
type VenueGate interface {
	// Complete reports whether the venue setup reached complete.
	Complete() bool
	// Started reports whether any setup milestone exists.
	Started() bool
}

// StatusSource is the part of the backend the wizard reads.
type StatusSource interface {
	OnboardingStatus(ctx context.Context, userWallet string) (backend.OnboardingStatus, error)
	TelegramStatus(ctx context.Context, userWallet string) (backend.TelegramStatus, error)
	InstanceStatus(ctx context.Context, userWallet string) (backend.InstanceStatus, error)
	LLMBalance(ctx context.Context, userWallet string) (backend.LLMBalance, error)
}

// Poll task names.
const (
	TaskTelegram   = "telegram-link"
	TaskInstance   = "instance-ready"
	TaskLLMBalance = "llm-balance"
)

// View is a snapshot of the wizard.
type View struct {
	Current         Step                    `json:"currentStep"`
	Completed       []Step                  `json:"completedSteps"`
	Skipped         []Step                  `json:"skippedSteps,omitempty"`
	Plan            string                  `json:"plan,omitempty"`
	Model           string                  `json:"model,omitempty"`
	OpenAIKeyStatus string                  `json:"openaiKeyStatus,omitempty"`
	TelegramLinked  bool                    `json:"telegramLinked"`
	Instance        *backend.InstanceStatus `json:"instance,omitempty"`
	LLMBalance      *backend.LLMBalance     `json:"llmBalance,omitempty"`
}

// Wizard holds the onboarding position of the session user.
type Wizard struct {
	status StatusSource
	gates  map[Step]VenueGate
	scope  *poller.Scope
	log    *slog.Logger

	telegramEvery time.Duration
	instanceEvery time.Duration
	balanceEvery  time.Duration

	mu              sync.Mutex
	userWallet      string
	current         Step
	completed       map[Step]bool
	skipped         map[Step]bool
	plan            string
	model           string
	openAIKeyStatus string
	telegramLinked  bool
	instance        *backend.InstanceStatus
	balance         *backend.LLMBalance
}

// Option customises the wizard.
type Option func(*Wizard)

// WithGate binds a venue step to its setup.
func WithGate(step Step, gate VenueGate) Option {
	return func(w *Wizard) {
		if step.IsVenue() && gate != nil {
			w.gates[step] = gate
		}
	}
}

// WithIntervals sets the Telegram, instance and LLM balance poll intervals.
func WithIntervals(telegram, instance, balance time.Duration) Option {
	return func(w *Wizard) {
		if telegram > 0 {
			w.telegramEvery = telegram
		}
		if instance > 0 {
			w.instanceEvery = instance
		}
		if balance > 0 {
			w.balanceEvery = balance
		}
	}
}

// New creates a wizard positioned at the first step.
func New(status StatusSource, opts ...Option) *Wizard {
	w := &Wizard{
		status:        status,
		gates:         make(map[Step]VenueGate),
		scope:         poller.NewScope(context.Background()),
		log:           logger.Named("wizard"),
		telegramEvery: 3 * time.Second,
		instanceEvery: 5 * time.Second,
		balanceEvery:  5 * time.Second,
		current:       StepPlan,
		completed:     make(map[Step]bool),
		skipped:       make(map[Step]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Snapshot returns the wizard state.
func (w *Wizard) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := View{
		Current:         w.current,
		Completed:       []Step{},
		Plan:            w.plan,
		Model:           w.model,
		OpenAIKeyStatus: w.openAIKeyStatus,
		TelegramLinked:  w.telegramLinked,
	}
	for _, s := range Steps {
		if w.completed[s] {
			v.Completed = append(v.Completed, s)
		}
		if w.skipped[s] {
			v.Skipped = append(v.Skipped, s)
		}
	}
	if w.instance != nil {
		inst := *w.instance
		v.Instance = &inst
	}
	if w.balance != nil {
		bal := *w.balance
		v.LLMBalance = &bal
	}
	return v
}

// SetPlan records the chosen plan.
func (w *Wizard) SetPlan(plan string) {
	w.mu.Lock()
	w.plan = strings.TrimSpace(plan)
	w.mu.Unlock()
}

// SetModel records the chosen model.
func (w *Wizard) SetModel(model string) {
	w.mu.Lock()
	w.model = strings.TrimSpace(model)
	w.mu.Unlock()
}

// SetOpenAIKeyStatus records the provisioning status of the OpenAI key.
func (w *Wizard) SetOpenAIKeyStatus(status string) {
	w.mu.Lock()
	w.openAIKeyStatus = strings.ToLower(strings.TrimSpace(status))
	w.mu.Unlock()
}

// CanEnter reports why step is not reachable yet, nil when it is.
func (w *Wizard) CanEnter(step Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reachableLocked(step)
}

func (w *Wizard) reachableLocked(step Step) error {
	if _, ok := prerequisites[step]; !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown wizard step "+string(step))
	}
	for _, pre := range prerequisites[step] {
		if !w.completed[pre] {
			return xerrors.New(xerrors.CodeStepLocked,
				"Complete the "+pre.title()+" step first",
				xerrors.WithMetadata("step", string(step)),
				xerrors.WithMetadata("missing", string(pre)))
		}
	}
	if step == StepActivate && w.openAIKeyStatus != OpenAIKeyCreated {
		return xerrors.New(xerrors.CodeStepLocked, "Your OpenAI key is still being created",
			xerrors.WithMetadata("step", string(step)))
	}
	return nil
}

// Advance moves to next when every predecessor is done.
func (w *Wizard) Advance(next Step) error {
	w.mu.Lock()
	if err := w.reachableLocked(next); err != nil {
		w.mu.Unlock()
		return err
	}
	w.current = next
	w.mu.Unlock()
	w.syncWatchers()
	return nil
}

// Complete marks step done and moves to the first step not done yet. A venue
// step needs its setup complete.
func (w *Wizard) Complete(step Step) error {
	w.mu.Lock()
	err := w.reachableLocked(step)
	if err == nil {
		err = w.completableLocked(step)
	}
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.completeLocked(step)
	w.mu.Unlock()
	w.syncWatchers()
	return nil
}

func (w *Wizard) completableLocked(step Step) error {
	switch step {
	case StepPlan:
		if w.plan == "" {
			return xerrors.New(xerrors.CodeStepLocked, "Choose a plan first")
		}
	case StepModel:
		if w.model == "" {
			return xerrors.New(xerrors.CodeStepLocked, "Choose a model first")
		}
	case StepTelegram:
		if !w.telegramLinked {
			return xerrors.New(xerrors.CodeStepLocked, "Link your Telegram account first")
		}
	case StepOstium, StepAster:
		gate, ok := w.gates[step]
		if !ok || !gate.Complete() {
			return xerrors.New(xerrors.CodeStepLocked,
				"Finish the "+step.title()+" setup or skip it to continue",
				xerrors.WithMetadata("step", string(step)))
		}
	}
	return nil
}

func (w *Wizard) completeLocked(step Step) {
	w.completed[step] = true
	for _, s := range Steps[step.index()+1:] {
		if !w.completed[s] {
			w.current = s
			return
		}
	}
	w.current = StepActivate
}

// Skip passes a venue step the user never opted into. A venue that is
// partially configured cannot be skipped.
func (w *Wizard) Skip(step Step) error {
	if !step.IsVenue() {
		return xerrors.New(xerrors.CodeInvalidArgument, "Only venue steps can be skipped",
			xerrors.WithMetadata("step", string(step)))
	}
	w.mu.Lock()
	if err := w.reachableLocked(step); err != nil {
		w.mu.Unlock()
		return err
	}
	if gate, ok := w.gates[step]; ok && gate.Started() && !gate.Complete() {
		w.mu.Unlock()
		return xerrors.New(xerrors.CodeStepLocked,
			step.title()+" is partially configured, finish the setup before continuing",
			xerrors.WithMetadata("step", string(step)))
	}
	w.skipped[step] = true
	w.completeLocked(step)
	w.mu.Unlock()
	w.syncWatchers()
	return nil
}

// Hydrate merges the backend onboarding status. Completed steps are only
// ever added; unknown step names are ignored.
func (w *Wizard) Hydrate(status backend.OnboardingStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, raw := range status.CompletedSteps {
		if s, err := ParseStep(raw); err == nil {
			w.completed[s] = true
		}
	}
	for _, raw := range status.SkippedSteps {
		if s, err := ParseStep(raw); err == nil && s.IsVenue() {
			w.skipped[s] = true
			w.completed[s] = true
		}
	}
	if status.Plan != "" {
		w.plan = status.Plan
	}
	if status.Model != "" {
		w.model = status.Model
	}
	if status.OpenAIKeyStatus != "" {
		w.openAIKeyStatus = strings.ToLower(status.OpenAIKeyStatus)
	}
	w.telegramLinked = w.telegramLinked || status.TelegramLinked
	if status.InstanceStatus != "" {
		w.instance = &backend.InstanceStatus{Status: status.InstanceStatus}
	}

	w.current = StepActivate
	for _, s := range Steps {
		if !w.completed[s] {
			w.current = s
			break
		}
	}
	if s, err := ParseStep(status.CurrentStep); err == nil && w.reachableLocked(s) == nil {
		w.current = s
	}
}

// Load fetches the onboarding status of userWallet, hydrates from it and
// binds the wizard's polls to that wallet. A different wallet than the one
// loaded before stops the polls of the previous one.
func (w *Wizard) Load(ctx context.Context, userWallet string) error {
	status, err := w.status.OnboardingStatus(ctx, userWallet)
	if err != nil {
		return err
	}
	w.mu.Lock()
	switched := w.userWallet != "" && !strings.EqualFold(w.userWallet, userWallet)
	w.userWallet = userWallet
	w.mu.Unlock()
	if switched {
		for _, task := range []string{TaskTelegram, TaskInstance, TaskLLMBalance} {
			w.scope.Stop(task)
		}
	}
	w.Hydrate(status)
	w.syncWatchers()
	return nil
}

// syncWatchers runs the polls the current step needs: the Telegram link on
// the telegram step, instance readiness and LLM balance on activate. Polls of
// steps the wizard left are stopped. Nothing runs before a wallet is loaded.
func (w *Wizard) syncWatchers() {
	w.mu.Lock()
	userWallet := w.userWallet
	current := w.current
	linked := w.telegramLinked
	ready := w.instance != nil && w.instance.Ready
	w.mu.Unlock()
	if userWallet == "" {
		return
	}

	if current == StepTelegram && !linked {
		if !w.Watching(TaskTelegram) {
			w.WatchTelegram(userWallet)
		}
	} else {
		w.Stop(TaskTelegram)
	}

	if current != StepActivate {
		w.Stop(TaskInstance)
		w.Stop(TaskLLMBalance)
		return
	}
	if !ready && !w.Watching(TaskInstance) {
		w.WatchInstance(userWallet)
	}
	if !w.Watching(TaskLLMBalance) {
		w.WatchLLMBalance(userWallet)
	}
}

// WatchTelegram polls the Telegram link and completes the Telegram step once
// the account is linked.
func (w *Wizard) WatchTelegram(userWallet string) bool {
	return w.scope.Start(TaskTelegram, w.telegramEvery, func(ctx context.Context) (bool, error) {
		st, err := w.status.TelegramStatus(ctx, userWallet)
		if err != nil || !st.Linked {
			return false, err
		}
		w.mu.Lock()
		w.telegramLinked = true
		if w.reachableLocked(StepTelegram) == nil {
			w.completeLocked(StepTelegram)
		}
		w.mu.Unlock()
		w.log.Info("telegram linked", slog.String("user_wallet", userWallet), slog.String("username", st.Username))
		return true, nil
	})
}

// WatchInstance polls the agent instance until it is ready.
func (w *Wizard) WatchInstance(userWallet string) bool {
	return w.scope.Start(TaskInstance, w.instanceEvery, func(ctx context.Context) (bool, error) {
		st, err := w.status.InstanceStatus(ctx, userWallet)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		w.instance = &st
		w.mu.Unlock()
		return st.Ready, nil
	})
}

// WatchLLMBalance keeps the LLM balance fresh until stopped.
func (w *Wizard) WatchLLMBalance(userWallet string) bool {
	return w.scope.Start(TaskLLMBalance, w.balanceEvery, func(ctx context.Context) (bool, error) {
		bal, err := w.status.LLMBalance(ctx, userWallet)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		w.balance = &bal
		w.mu.Unlock()
		return false, nil
	})
}

// Watching reports whether the named poll is running.
func (w *Wizard) Watching(task string) bool {
	return w.scope.Running(task)
}

// Stop ends the named poll.
func (w *Wizard) Stop(task string) {
	w.scope.Stop(task)
}

// Close ends every poll.
func (w *Wizard) Close() {
	w.scope.Close()
}
