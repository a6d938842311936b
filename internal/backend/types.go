package backend

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
)

// StepComplete is the setup step the backend reports once a venue is done.
const StepComplete = "complete"

// Ref is an id-only reference to a backend record.
type Ref struct {
	ID string `json:"id"`
}

// SetupStatus is the persisted setup state of one venue for one user wallet.
type SetupStatus struct {
	HasSetup           bool   `json:"hasSetup"`
	Step               string `json:"step"`
	OstiumAgentAddress string `json:"ostiumAgentAddress,omitempty"`
	AsterAgentAddress  string `json:"asterAgentAddress,omitempty"`
	AgentAddress       string `json:"agentAddress,omitempty"`
	IsDelegatedToAgent *bool  `json:"isDelegatedToAgent,omitempty"`
	HasUsdcApproval    *bool  `json:"hasUsdcApproval,omitempty"`
	Agent              *Ref   `json:"agent,omitempty"`
	Deployment         *Ref   `json:"deployment,omitempty"`
}

// Complete reports whether the backend considers the venue set up.
func (s SetupStatus) Complete() bool {
	return strings.EqualFold(s.Step, StepComplete)
}

// AgentWallet returns the agent address carried by the status, whichever
// venue-specific key the backend used.
func (s SetupStatus) AgentWallet() (common.Address, bool) {
	return firstAddress(s.OstiumAgentAddress, s.AsterAgentAddress, s.AgentAddress)
}

// Delegated reports the backend's delegation flag; nil means unknown.
func (s SetupStatus) Delegated() bool {
	return s.IsDelegatedToAgent != nil && *s.IsDelegatedToAgent
}

// Approved reports the backend's allowance flag; nil means unknown.
func (s SetupStatus) Approved() bool {
	return s.HasUsdcApproval != nil && *s.HasUsdcApproval
}

// AgentResult is returned by agent creation. An existing agent is returned
// when the user already has one.
type AgentResult struct {
	Success            bool   `json:"success"`
	Agent              *Ref   `json:"agent,omitempty"`
	OstiumAgentAddress string `json:"ostiumAgentAddress,omitempty"`
	AsterAgentAddress  string `json:"asterAgentAddress,omitempty"`
	AgentAddress       string `json:"agentAddress,omitempty"`
	HasDeployment      bool   `json:"hasDeployment"`
	Error              string `json:"error,omitempty"`
}

// AgentWallet returns the provisioned agent address.
func (r AgentResult) AgentWallet() (common.Address, bool) {
	return firstAddress(r.OstiumAgentAddress, r.AsterAgentAddress, r.AgentAddress)
}

// DeploymentResult is returned by deployment creation.
type DeploymentResult struct {
	Success    bool   `json:"success"`
	Deployment *Ref   `json:"deployment,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OnboardingStatus hydrates the wizard.
type OnboardingStatus struct {
	CompletedSteps  []string `json:"completedSteps"`
	CurrentStep     string   `json:"currentStep,omitempty"`
	SkippedSteps    []string `json:"skippedSteps,omitempty"`
	Plan            string   `json:"plan,omitempty"`
	Model           string   `json:"model,omitempty"`
	OpenAIKeyStatus string   `json:"openaiKeyStatus,omitempty"`
	TelegramLinked  bool     `json:"telegramLinked"`
	InstanceStatus  string   `json:"instanceStatus,omitempty"`
}

// TelegramStatus reports whether the user's Telegram account is linked.
type TelegramStatus struct {
	Linked   bool   `json:"linked"`
	Username string `json:"username,omitempty"`
}

// InstanceStatus reports the readiness of the user's agent instance.
type InstanceStatus struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	URL    string `json:"url,omitempty"`
}

// LLMBalance is the remaining LLM credit of the user.
type LLMBalance struct {
	BalanceCents int64  `json:"balanceCents"`
	Currency     string `json:"currency,omitempty"`
}

// CurrentUser is the authenticated user record.
type CurrentUser = wallet.User

func firstAddress(values ...string) (common.Address, bool) {
	for _, v := range values {
		if common.IsHexAddress(v) {
			return common.HexToAddress(v), true
		}
	}
	return common.Address{}, false
}
