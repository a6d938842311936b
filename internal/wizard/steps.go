// Package wizard tracks the onboarding steps around the venue setups: plan,
// model, Telegram link, OpenAI key, the two venues, API key and activation.
// A step is reachable only once its predecessors are done; the venue steps
// are passed only by a complete setup or an explicit skip.
package wizard

import (
	"strings"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Step is one wizard position.
type Step string

// Steps in wizard order.
const (
	StepPlan     Step = "plan"
	StepModel    Step = "model"
	StepTelegram Step = "telegram"
	StepOpenAI   Step = "openai"
	StepOstium   Step = "ostium"
	StepAster    Step = "aster"
	StepAPIKey   Step = "apikey"
	StepActivate Step = "activate"
)

// Steps lists every step in order.
var Steps = []Step{StepPlan, StepModel, StepTelegram, StepOpenAI, StepOstium, StepAster, StepAPIKey, StepActivate}

// OpenAIKeyCreated is the key status activation waits for.
const OpenAIKeyCreated = "created"

var prerequisites = map[Step][]Step{
	StepPlan:     nil,
	StepModel:    {StepPlan},
	StepTelegram: {StepPlan, StepModel},
	StepOpenAI:   {StepPlan, StepModel, StepTelegram},
	StepOstium:   {StepPlan, StepModel, StepTelegram, StepOpenAI},
	StepAster:    {StepPlan, StepModel, StepTelegram, StepOpenAI, StepOstium},
	StepAPIKey:   {StepPlan, StepModel, StepTelegram, StepOpenAI, StepOstium, StepAster},
	StepActivate: {StepPlan, StepModel, StepTelegram, StepOpenAI, StepOstium, StepAster, StepAPIKey},
}

var titles = map[Step]string{
	StepPlan:     "plan",
	StepModel:    "model",
	StepTelegram: "Telegram",
	StepOpenAI:   "OpenAI key",
	StepOstium:   "Ostium",
	StepAster:    "Aster",
	StepAPIKey:   "API key",
	StepActivate: "activation",
}

// ParseStep validates a step name.
func ParseStep(raw string) (Step, error) {
	s := Step(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := prerequisites[s]; !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown wizard step "+raw,
			xerrors.WithMetadata("step", raw))
	}
	return s, nil
}

// Prerequisites returns the steps that must be done before s.
func Prerequisites(s Step) []Step {
	return append([]Step(nil), prerequisites[s]...)
}

// IsVenue reports whether s is gated by a venue setup.
func (s Step) IsVenue() bool {
	return s == StepOstium || s == StepAster
}

func (s Step) title() string {
	if t, ok := titles[s]; ok {
		return t
	}
	return string(s)
}

func (s Step) index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}
