package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// BalanceResponse is a user's trading balance in one currency.
type BalanceResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"`
	Available string    `json:"available"`
	Locked    string    `json:"locked"`
	Total     string    `json:"total"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		writeError(w, r, apperrors.Validation("user_id query parameter is required"))
		return
	}
	currency := types.Currency(q.Get("currency"))

	bal, err := s.ledger.GetBalance(r.Context(), userID, currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:    userID,
		Currency:  string(currency),
		Available: bal.Available.String(),
		Locked:    bal.Locked.String(),
		Total:     bal.Total().String(),
	})
}

// TransferRequest moves available balance between two users off chain.
type TransferRequest struct {
	FromUserID uuid.UUID `json:"from_user_id"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	Currency   string    `json:"currency"`
	Amount     string    `json:"amount"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, r, apperrors.Validation("invalid amount: "+req.Amount))
		return
	}

	if err := s.ledger.Transfer(r.Context(), req.FromUserID, req.ToUserID, types.Currency(req.Currency), amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}
