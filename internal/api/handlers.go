package api

import (
	"context"
	"math/big"
	"net/http"
	"strings"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/setup"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wizard"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"network": s.network,
		"venues":  s.setups.Venues(),
	})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.identity.Identity())
}

// handleConnect 请求注入钱包授权账户，成功后重新绑定各场馆状态并加载引导进度。
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	addr, err := s.identity.RequestAccounts(r.Context())
	if err != nil {
		writeFailure(w, err, s.identity.Identity())
		return
	}
	if err := s.setups.Hydrate(r.Context()); err != nil {
		s.log.Warn("hydrate setups failed", "error", err)
	}
	if err := s.wizard.Load(r.Context(), addr.Hex()); err != nil {
		s.log.Warn("load wizard progress failed", "user_wallet", addr.Hex(), "error", err)
	}
	writeJSON(w, http.StatusOK, s.identity.Identity())
}

func (s *Server) handleSetupList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.setups.Snapshots())
}

type fundRequest struct {
	AmountWei string `json:"amountWei"`
}

// handleSetup 处理 /api/v1/setup/{venue}[/{action}]。
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/setup"), "/")
	parts := strings.Split(trimmed, "/")
	if trimmed == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, xerrors.CodeNotFound, "未找到资源")
		return
	}
	orch, err := s.setups.Get(parts[0])
	if err != nil {
		writeFailure(w, err, nil)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, orch.Snapshot())
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var op func(ctx context.Context) (setup.State, error)
	switch parts[1] {
	case "start":
		op = orch.Start
	case "enable":
		op = orch.EnableTrading
	case "fund":
		var body fundRequest
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, err, orch.Snapshot())
			return
		}
		amount, err := parseWei(body.AmountWei)
		if err != nil {
			writeFailure(w, err, orch.Snapshot())
			return
		}
		op = func(ctx context.Context) (setup.State, error) {
			state, err := orch.Fund(ctx, amount)
			if err == nil && !state.Progress.AgentFunded {
				orch.WatchFunding()
			}
			return state, err
		}
	case "deploy":
		op = orch.Deploy
	case "refresh":
		op = orch.Refresh
	case "reset":
		op = orch.Reset
	default:
		writeError(w, http.StatusNotFound, xerrors.CodeNotFound, "未知操作 "+parts[1])
		return
	}

	state, err := op(r.Context())
	if err != nil {
		writeFailure(w, err, state)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func parseWei(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Funding amount must be a positive integer in wei")
	}
	return amount, nil
}

func (s *Server) handleWizard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.wizard.Snapshot())
}

type wizardRequest struct {
	Step  string `json:"step"`
	Value string `json:"value,omitempty"`
}

// handleWizardAction 处理 /api/v1/wizard/{complete|advance|skip}。
func (s *Server) handleWizardAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/wizard"), "/")

	var body wizardRequest
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, err, s.wizard.Snapshot())
		return
	}
	step, err := wizard.ParseStep(body.Step)
	if err != nil {
		writeFailure(w, err, s.wizard.Snapshot())
		return
	}

	switch action {
	case "complete":
		if body.Value != "" {
			switch step {
			case wizard.StepPlan:
				s.wizard.SetPlan(body.Value)
			case wizard.StepModel:
				s.wizard.SetModel(body.Value)
			case wizard.StepOpenAI:
				s.wizard.SetOpenAIKeyStatus(body.Value)
			}
		}
		err = s.wizard.Complete(step)
	case "advance":
		err = s.wizard.Advance(step)
	case "skip":
		err = s.wizard.Skip(step)
	default:
		writeError(w, http.StatusNotFound, xerrors.CodeNotFound, "未知操作 "+action)
		return
	}
	if err != nil {
		writeFailure(w, err, s.wizard.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, s.wizard.Snapshot())
}
