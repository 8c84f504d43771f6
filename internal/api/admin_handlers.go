package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// FreezeRequest carries the operator's reason for freezing a wallet.
type FreezeRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req FreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	wallet, err := s.policy.Freeze(r.Context(), id, req.Reason, req.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse(wallet))
}

type unfreezeRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req unfreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	wallet, err := s.policy.Unfreeze(r.Context(), id, req.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse(wallet))
}

// AuditRequest records an audit outcome against a wallet.
type AuditRequest struct {
	Result string `json:"result"`
	Actor  string `json:"actor"`
	Note   string `json:"note,omitempty"`
}

func (s *Server) handleRecordAudit(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req AuditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	note, err := s.risk.RecordAudit(r.Context(), id, types.AuditResult(req.Result), req.Actor, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, noteResponse(note))
}

type noteResponseBody struct {
	ID        uuid.UUID `json:"id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Actor     string    `json:"actor"`
	Result    string    `json:"result"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func noteResponse(n *types.AuditNote) noteResponseBody {
	return noteResponseBody{
		ID:        n.ID,
		WalletID:  n.WalletID,
		Actor:     n.Actor,
		Result:    string(n.Result),
		Note:      n.Note,
		CreatedAt: n.CreatedAt,
	}
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	notes, err := s.notes.ListByWallet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]noteResponseBody, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteResponse(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": out})
}

// ConsolidationRequest asks the planner to sweep a currency into the target
// tier. An empty UserID plans over the operator pool; a user ID scopes the
// plan to that user's wallets. When Execute is false the plan is returned
// without emitting intents. OverflowOnly restricts sweeps to balances above
// their tier ceiling.
type ConsolidationRequest struct {
	UserID       string `json:"user_id,omitempty"`
	Currency     string `json:"currency"`
	TargetTier   string `json:"target_tier"`
	Execute      bool   `json:"execute,omitempty"`
	OverflowOnly bool   `json:"overflow_only,omitempty"`
}

// ConsolidationResponse summarizes a plan and, if executed, its intents.
type ConsolidationResponse struct {
	Currency      string         `json:"currency"`
	TargetTier    string         `json:"target_tier"`
	SinkWalletID  uuid.UUID      `json:"sink_wallet_id"`
	SinkAddress   string         `json:"sink_address"`
	Sweeps        []SweepSummary `json:"sweeps"`
	SkippedAsDust int            `json:"skipped_as_dust"`
	TotalAmount   string         `json:"total_amount"`
	IntentIDs     []uuid.UUID    `json:"intent_ids,omitempty"`
}

// SweepSummary is one leg of a consolidation plan.
type SweepSummary struct {
	SourceWalletID uuid.UUID `json:"source_wallet_id"`
	SourceAddress  string    `json:"source_address"`
	Amount         string    `json:"amount"`
}

func (s *Server) handleConsolidations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req ConsolidationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var scope *uuid.UUID
	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, r, apperrors.Validation("user_id must be a valid UUID"))
			return
		}
		scope = &userID
	}

	var (
		plan *types.ConsolidationPlan
		err  error
	)
	if req.OverflowOnly {
		plan, err = s.planner.PlanOverflow(r.Context(), scope, types.Currency(req.Currency), types.Tier(req.TargetTier))
	} else {
		plan, err = s.planner.Plan(r.Context(), scope, types.Currency(req.Currency), types.Tier(req.TargetTier))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ConsolidationResponse{
		Currency:      string(plan.Currency),
		TargetTier:    string(plan.TargetTier),
		SinkWalletID:  plan.SinkWalletID,
		SinkAddress:   plan.SinkAddress,
		SkippedAsDust: plan.SkippedAsDust,
		TotalAmount:   plan.TotalAmount().String(),
		Sweeps:        make([]SweepSummary, 0, len(plan.Sweeps)),
	}
	for _, sweep := range plan.Sweeps {
		resp.Sweeps = append(resp.Sweeps, SweepSummary{
			SourceWalletID: sweep.SourceWalletID,
			SourceAddress:  sweep.SourceAddress,
			Amount:         sweep.Amount.String(),
		})
	}

	if req.Execute {
		intents, err := s.planner.Execute(r.Context(), plan)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, in := range intents {
			resp.IntentIDs = append(resp.IntentIDs, in.ID)
		}
	}

	status := http.StatusOK
	if req.Execute {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}
