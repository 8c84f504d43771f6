package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/ledger"
	"github.com/coinharbor/custody/internal/logger"
	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/risk"
	"github.com/coinharbor/custody/internal/storage"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// WalletStore is the wallet persistence the policy service needs.
// Implemented by storage.WalletRepository.
type WalletStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Wallet, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status types.WalletStatus) error
	RecordWithdrawalTx(ctx context.Context, db storage.DBTX, id uuid.UUID, amount decimal.Decimal, windowStart time.Time, dailyLimit decimal.Decimal) error
}

// IntentStore persists emitted transfer intents. Implemented by
// storage.TransferRepository.
type IntentStore interface {
	CreateTx(ctx context.Context, db storage.DBTX, intent *types.TransferIntent) error
}

// TxRunner runs a function inside a database transaction. Implemented by
// storage.Store.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// NoteStore appends audit-trail notes. Implemented by
// storage.AuditNoteRepository.
type NoteStore interface {
	Append(ctx context.Context, note *types.AuditNote) error
}

// Service enforces tier policy on the withdrawal path and owns the
// freeze/unfreeze transitions.
type Service struct {
	tiers   *Tiers
	wallets WalletStore
	ledger  *ledger.Service
	intents IntentStore
	notes   NoteStore
	tx      TxRunner
	emitter risk.Emitter
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewService creates the policy service
func NewService(
	tiers *Tiers,
	wallets WalletStore,
	ledgerSvc *ledger.Service,
	intents IntentStore,
	notes NoteStore,
	tx TxRunner,
	emitter risk.Emitter,
	m *metrics.Metrics,
) *Service {
	return &Service{
		tiers:   tiers,
		wallets: wallets,
		ledger:  ledgerSvc,
		intents: intents,
		notes:   notes,
		tx:      tx,
		emitter: emitter,
		metrics: m,
		log:     logger.Component("policy"),
	}
}

// WithdrawalRequest asks to send amount from a user's wallet to an external
// address.
type WithdrawalRequest struct {
	UserID    uuid.UUID
	WalletID  uuid.UUID
	Amount    decimal.Decimal
	ToAddress string
}

// RequestWithdrawal runs the full policy gate: canWithdraw, then a trading
// balance lock, then one database transaction holding both the custody-side
// debit with the daily counter and the unsigned transfer intent for the
// signer/broadcaster. The ledger lock happens before that transaction, and
// is released if the transaction fails, so a policy failure never strands
// funds and never leaves a debit without its intent.
func (s *Service) RequestWithdrawal(ctx context.Context, req *WithdrawalRequest) (*types.WithdrawalReceipt, error) {
	if req.ToAddress == "" {
		return nil, apperrors.Validation("destination address is required")
	}

	wallet, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil || wallet.UserID == nil || *wallet.UserID != req.UserID {
		return nil, apperrors.WalletNotFound(req.WalletID.String())
	}

	if err := s.tiers.CanWithdraw(wallet, req.Amount); err != nil {
		s.denied(err)
		return nil, err
	}
	tc, err := s.tiers.For(wallet.Tier)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Lock(ctx, req.UserID, wallet.Currency, req.Amount); err != nil {
		s.denied(err)
		return nil, err
	}

	offline := s.tiers.RequiresOfflineSigning(wallet.Tier)
	intent := &types.TransferIntent{
		ID:             uuid.New(),
		Currency:       wallet.Currency,
		FromWalletID:   wallet.ID,
		FromAddress:    wallet.Address,
		ToAddress:      req.ToAddress,
		Amount:         req.Amount,
		Status:         types.IntentPending,
		OfflineSigning: offline,
	}

	window := s.tiers.Window()
	txErr := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.wallets.RecordWithdrawalTx(ctx, tx, wallet.ID, req.Amount, window, tc.DailyLimit); err != nil {
			return err
		}
		return s.intents.CreateTx(ctx, tx, intent)
	})
	if txErr != nil {
		// Compensate the reservation; a failed unlock here is a balance
		// inconsistency and is surfaced, never swallowed.
		if unlockErr := s.ledger.Unlock(ctx, req.UserID, wallet.Currency, req.Amount); unlockErr != nil {
			return nil, fmt.Errorf("withdrawal debit failed (%w) and lock release also failed: %v", txErr, unlockErr)
		}
		s.denied(txErr)
		return nil, txErr
	}

	s.metrics.WithdrawalsRequested.WithLabelValues(string(wallet.Currency), string(wallet.Tier)).Inc()
	s.log.Info("withdrawal accepted",
		"wallet_id", wallet.ID,
		"currency", wallet.Currency,
		"amount", req.Amount.String(),
		"offline_signing", offline,
	)

	return &types.WithdrawalReceipt{
		IntentID:       intent.ID,
		WalletID:       wallet.ID,
		Currency:       wallet.Currency,
		Amount:         req.Amount,
		OfflineSigning: offline,
		CreatedAt:      intent.CreatedAt,
	}, nil
}

// CompleteWithdrawal settles a broadcast withdrawal: the reserved amount
// leaves the locked pool for good.
func (s *Service) CompleteWithdrawal(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	return s.ledger.Debit(ctx, userID, currency, amount, types.PoolLocked)
}

// CancelWithdrawal releases a reservation for a withdrawal that will not be
// broadcast.
func (s *Service) CancelWithdrawal(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	return s.ledger.Unlock(ctx, userID, currency, amount)
}

// Freeze transitions a wallet to frozen. Idempotent: freezing a frozen
// wallet is a no-op. Locks already placed through the ledger before the
// freeze stay in force; the freeze only stops new withdrawals.
func (s *Service) Freeze(ctx context.Context, walletID uuid.UUID, reason, actor string) (*types.Wallet, error) {
	if reason == "" {
		return nil, apperrors.Validation("freeze reason is required")
	}

	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}

	if wallet.Status == types.WalletFrozen {
		return wallet, nil
	}

	if err := s.wallets.UpdateStatus(ctx, walletID, types.WalletFrozen); err != nil {
		return nil, err
	}
	wallet.Status = types.WalletFrozen

	note := &types.AuditNote{
		WalletID: walletID,
		Actor:    actor,
		Result:   types.AuditFlagged,
		Note:     fmt.Sprintf("wallet frozen: %s", reason),
	}
	if err := s.notes.Append(ctx, note); err != nil {
		return nil, err
	}

	s.emitter.WalletFrozen(ctx, wallet, reason, actor)
	s.metrics.FrozenWallets.Inc()
	return wallet, nil
}

// Unfreeze transitions a frozen wallet back to active. Idempotent: an
// already-active wallet passes through unchanged.
func (s *Service) Unfreeze(ctx context.Context, walletID uuid.UUID, actor string) (*types.Wallet, error) {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}

	if wallet.Status == types.WalletActive {
		return wallet, nil
	}
	if wallet.Status != types.WalletFrozen {
		return nil, apperrors.PolicyViolation(
			fmt.Sprintf("cannot unfreeze wallet in status %s", wallet.Status))
	}

	if err := s.wallets.UpdateStatus(ctx, walletID, types.WalletActive); err != nil {
		return nil, err
	}
	wallet.Status = types.WalletActive

	note := &types.AuditNote{
		WalletID: walletID,
		Actor:    actor,
		Result:   types.AuditPassed,
		Note:     "wallet unfrozen",
	}
	if err := s.notes.Append(ctx, note); err != nil {
		return nil, err
	}

	s.emitter.WalletUnfrozen(ctx, wallet, actor)
	s.metrics.FrozenWallets.Dec()
	return wallet, nil
}

// Tiers exposes the underlying tier evaluator.
func (s *Service) Tiers() *Tiers {
	return s.tiers
}

func (s *Service) denied(err error) {
	reason := "error"
	if appErr, ok := apperrors.IsAppError(err); ok {
		reason = appErr.Code
	}
	s.metrics.WithdrawalsDenied.WithLabelValues(reason).Inc()
}
