package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/policy"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// WithdrawalRequest asks to send funds from a user's wallet to an external
// address. Amount is a decimal string in whole currency units.
type WithdrawalRequest struct {
	UserID    uuid.UUID `json:"user_id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    string    `json:"amount"`
	ToAddress string    `json:"to_address"`
}

// WithdrawalResponse is the accepted-withdrawal receipt.
type WithdrawalResponse struct {
	IntentID       uuid.UUID `json:"intent_id"`
	WalletID       uuid.UUID `json:"wallet_id"`
	Currency       string    `json:"currency"`
	Amount         string    `json:"amount"`
	OfflineSigning bool      `json:"offline_signing"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req WithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, r, apperrors.Validation("invalid amount: "+req.Amount))
		return
	}

	receipt, err := s.policy.RequestWithdrawal(r.Context(), &policy.WithdrawalRequest{
		UserID:    req.UserID,
		WalletID:  req.WalletID,
		Amount:    amount,
		ToAddress: req.ToAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, WithdrawalResponse{
		IntentID:       receipt.IntentID,
		WalletID:       receipt.WalletID,
		Currency:       string(receipt.Currency),
		Amount:         receipt.Amount.String(),
		OfflineSigning: receipt.OfflineSigning,
		CreatedAt:      receipt.CreatedAt,
	})
}

// DepositNotification is posted by the chain watcher when an inbound
// transfer is observed or gains confirmations.
type DepositNotification struct {
	Address       string `json:"address"`
	TxID          string `json:"tx_id"`
	Amount        string `json:"amount"`
	Confirmations uint32 `json:"confirmations"`

	// Confirming marks a notification for a deposit previously recorded as
	// pending that has now crossed the confirmation threshold.
	Confirming bool `json:"confirming,omitempty"`
}

func (s *Server) handleDeposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req DepositNotification
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, r, apperrors.Validation("invalid amount: "+req.Amount))
		return
	}

	dep := &types.Deposit{
		Address:       req.Address,
		TxID:          req.TxID,
		Amount:        amount,
		Confirmations: req.Confirmations,
	}

	var wallet *types.Wallet
	if req.Confirming {
		wallet, err = s.registry.ConfirmDeposit(r.Context(), dep)
	} else {
		wallet, err = s.registry.RecordDeposit(r.Context(), dep)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, walletResponse(wallet))
}
