// Package ledger implements the per-user, per-currency trading balance
// accounting: lock/unlock for the matching engine, credit/debit for deposit
// and withdrawal settlement, and atomic user-to-user transfers.
//
// All amounts are arbitrary-precision decimals. Nothing in this package (or
// its storage backend) touches floating point.
package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/logger"
	"github.com/coinharbor/custody/internal/metrics"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// BalanceStore is the persistence contract the ledger runs on. Every method
// is atomic and guarded: a mutation that would drive available or locked
// negative fails with a typed error and no partial effect. Implemented by
// storage.BalanceRepository.
type BalanceStore interface {
	Get(ctx context.Context, userID uuid.UUID, currency types.Currency) (*types.Balance, error)
	Credit(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error
	Debit(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error
	Lock(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error
	Unlock(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error
	Transfer(ctx context.Context, fromUser, toUser uuid.UUID, currency types.Currency, amount decimal.Decimal) error
}

// Service is the balance ledger.
type Service struct {
	balances BalanceStore
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewService creates a ledger service
func NewService(balances BalanceStore, m *metrics.Metrics) *Service {
	return &Service{
		balances: balances,
		metrics:  m,
		log:      logger.Component("ledger"),
	}
}

// GetBalance returns the balance for (user, currency). A user who has never
// been credited has a zero balance, not a missing one.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID, currency types.Currency) (*types.Balance, error) {
	if err := validateAmountless(userID, currency); err != nil {
		return nil, err
	}

	balance, err := s.balances.Get(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &types.Balance{
			UserID:    userID,
			Currency:  currency,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
		}, nil
	}
	return balance, nil
}

// Credit adds amount to the given pool, creating the balance lazily.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	if err := validate(userID, currency, amount); err != nil {
		return err
	}

	err := s.balances.Credit(ctx, userID, currency, amount, pool)
	s.record(ctx, "credit", userID, currency, amount, err)
	return err
}

// Debit removes amount from the given pool. Fails with
// InsufficientAvailable or InsufficientLocked without partial effect.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	if err := validate(userID, currency, amount); err != nil {
		return err
	}

	err := s.balances.Debit(ctx, userID, currency, amount, pool)
	s.record(ctx, "debit", userID, currency, amount, err)
	return err
}

// Lock reserves amount for an order or withdrawal: available → locked.
func (s *Service) Lock(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	if err := validate(userID, currency, amount); err != nil {
		return err
	}

	err := s.balances.Lock(ctx, userID, currency, amount)
	s.record(ctx, "lock", userID, currency, amount, err)
	return err
}

// Unlock releases a reservation: locked → available.
func (s *Service) Unlock(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	if err := validate(userID, currency, amount); err != nil {
		return err
	}

	err := s.balances.Unlock(ctx, userID, currency, amount)
	s.record(ctx, "unlock", userID, currency, amount, err)
	return err
}

// Transfer moves amount between two users' available balances as one
// transactional unit: it either fully applies or not at all.
func (s *Service) Transfer(ctx context.Context, fromUser, toUser uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	if err := validate(fromUser, currency, amount); err != nil {
		return err
	}
	if toUser == uuid.Nil {
		return apperrors.Validation("receiver user id is required")
	}
	if fromUser == toUser {
		return apperrors.Validation("cannot transfer to self")
	}

	err := s.balances.Transfer(ctx, fromUser, toUser, currency, amount)
	s.record(ctx, "transfer", fromUser, currency, amount, err)
	return err
}

func (s *Service) record(ctx context.Context, op string, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if appErr, ok := apperrors.IsAppError(err); ok {
			outcome = appErr.Code
		}
		logger.FromContext(ctx).Warn("ledger operation failed",
			"operation", op,
			"user_id", userID,
			"currency", currency,
			"amount", amount.String(),
			"error", err,
		)
	} else {
		s.log.Debug("ledger operation applied",
			"operation", op,
			"user_id", userID,
			"currency", currency,
			"amount", amount.String(),
		)
	}
	s.metrics.LedgerOperations.WithLabelValues(op, outcome).Inc()
}

func validate(userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	if err := validateAmountless(userID, currency); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return apperrors.Validation("amount must be positive")
	}
	return nil
}

func validateAmountless(userID uuid.UUID, currency types.Currency) error {
	if userID == uuid.Nil {
		return apperrors.Validation("user id is required")
	}
	if !currency.IsSupported() {
		return apperrors.UnsupportedCurrency(string(currency))
	}
	return nil
}
