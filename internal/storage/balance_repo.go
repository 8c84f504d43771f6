package storage

import (
	"bytes"
	"context"
	"fmt"

	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepository handles trading-balance accounting. Every mutation is a
// single guarded UPDATE (or one transaction for Transfer), so the
// check-then-mutate sequence is serialized by the database row lock and
// concurrent callers can never jointly overdraw a balance.
type BalanceRepository struct {
	store *Store
}

// NewBalanceRepository creates a new BalanceRepository
func NewBalanceRepository(store *Store) *BalanceRepository {
	return &BalanceRepository{store: store}
}

// Get retrieves the balance for (user, currency). Returns nil if no balance
// row exists yet (balances are created lazily on first credit).
func (r *BalanceRepository) Get(ctx context.Context, userID uuid.UUID, currency types.Currency) (*types.Balance, error) {
	query := `
		SELECT user_id, currency, available, locked, updated_at
		FROM balances
		WHERE user_id = $1 AND currency = $2
	`

	var b types.Balance
	err := r.store.pool.QueryRow(ctx, query, userID, currency).Scan(
		&b.UserID,
		&b.Currency,
		&b.Available,
		&b.Locked,
		&b.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &b, nil
}

// Credit adds amount to the given pool, creating the balance row lazily.
func (r *BalanceRepository) Credit(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	return r.CreditTx(ctx, r.store.pool, userID, currency, amount, pool)
}

// CreditTx is Credit against the provided transaction or connection
func (r *BalanceRepository) CreditTx(ctx context.Context, db DBTX, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	var query string
	if pool == types.PoolLocked {
		query = `
			INSERT INTO balances (user_id, currency, available, locked)
			VALUES ($1, $2, 0, $3)
			ON CONFLICT (user_id, currency)
			DO UPDATE SET locked = balances.locked + EXCLUDED.locked, updated_at = NOW()
		`
	} else {
		query = `
			INSERT INTO balances (user_id, currency, available, locked)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (user_id, currency)
			DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = NOW()
		`
	}

	if _, err := db.Exec(ctx, query, userID, currency, amount); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

// Debit removes amount from the given pool. Fails with the matching typed
// insufficiency error without any partial mutation.
func (r *BalanceRepository) Debit(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	return r.DebitTx(ctx, r.store.pool, userID, currency, amount, pool)
}

// DebitTx is Debit against the provided transaction or connection
func (r *BalanceRepository) DebitTx(ctx context.Context, db DBTX, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	var query string
	if pool == types.PoolLocked {
		query = `
			UPDATE balances
			SET locked = locked - $3, updated_at = NOW()
			WHERE user_id = $1 AND currency = $2 AND locked >= $3
		`
	} else {
		query = `
			UPDATE balances
			SET available = available - $3, updated_at = NOW()
			WHERE user_id = $1 AND currency = $2 AND available >= $3
		`
	}

	tag, err := db.Exec(ctx, query, userID, currency, amount)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.shortfallError(ctx, db, userID, currency, amount, pool)
	}
	return nil
}

// Lock moves amount from available to locked in one guarded statement.
func (r *BalanceRepository) Lock(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	tag, err := r.store.pool.Exec(ctx, `
		UPDATE balances
		SET available = available - $3, locked = locked + $3, updated_at = NOW()
		WHERE user_id = $1 AND currency = $2 AND available >= $3`,
		userID, currency, amount)
	if err != nil {
		return fmt.Errorf("failed to lock balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.shortfallError(ctx, r.store.pool, userID, currency, amount, types.PoolAvailable)
	}
	return nil
}

// Unlock moves amount from locked back to available in one guarded statement.
func (r *BalanceRepository) Unlock(ctx context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	tag, err := r.store.pool.Exec(ctx, `
		UPDATE balances
		SET available = available + $3, locked = locked - $3, updated_at = NOW()
		WHERE user_id = $1 AND currency = $2 AND locked >= $3`,
		userID, currency, amount)
	if err != nil {
		return fmt.Errorf("failed to unlock balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.shortfallError(ctx, r.store.pool, userID, currency, amount, types.PoolLocked)
	}
	return nil
}

// Transfer atomically debits the sender's available balance and credits the
// receiver inside one transaction. Rows are touched in byte order of the user
// IDs so two opposing transfers cannot deadlock.
func (r *BalanceRepository) Transfer(ctx context.Context, fromUser, toUser uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	return r.store.WithTx(ctx, func(tx pgx.Tx) error {
		debitFirst := bytes.Compare(fromUser[:], toUser[:]) <= 0

		if debitFirst {
			if err := r.DebitTx(ctx, tx, fromUser, currency, amount, types.PoolAvailable); err != nil {
				return err
			}
			return r.CreditTx(ctx, tx, toUser, currency, amount, types.PoolAvailable)
		}

		if err := r.CreditTx(ctx, tx, toUser, currency, amount, types.PoolAvailable); err != nil {
			return err
		}
		return r.DebitTx(ctx, tx, fromUser, currency, amount, types.PoolAvailable)
	})
}

// shortfallError distinguishes a missing balance row from an insufficient
// one after a guarded update matched zero rows.
func (r *BalanceRepository) shortfallError(ctx context.Context, db DBTX, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	var available, locked decimal.Decimal
	err := db.QueryRow(ctx,
		`SELECT available, locked FROM balances WHERE user_id = $1 AND currency = $2`,
		userID, currency).Scan(&available, &locked)
	if err == pgx.ErrNoRows {
		return apperrors.BalanceNotFound(userID.String(), string(currency))
	}
	if err != nil {
		return fmt.Errorf("failed to inspect balance after guard miss: %w", err)
	}

	if pool == types.PoolLocked {
		return apperrors.InsufficientLocked(locked, amount)
	}
	return apperrors.InsufficientAvailable(available, amount)
}
