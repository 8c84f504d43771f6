package storage

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository handles wallet catalog persistence. Wallets are only ever
// soft-deprecated; there is intentionally no delete method.
type WalletRepository struct {
	store *Store
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(store *Store) *WalletRepository {
	return &WalletRepository{store: store}
}

const walletColumns = `
	id, user_id, currency, network, tier, address, pub_key,
	derivation_path, address_index, parent_id, signers_required, signer_keys,
	status, is_primary, balance, pending_balance,
	daily_withdrawn, daily_reset_at, risk_score, backup_verified,
	last_audit_at, next_audit_at, created_at, updated_at`

// Create inserts a new wallet record
func (r *WalletRepository) Create(ctx context.Context, wallet *types.Wallet) error {
	return r.CreateTx(ctx, r.store.pool, wallet)
}

// CreateTx inserts a new wallet using the provided transaction or connection
func (r *WalletRepository) CreateTx(ctx context.Context, db DBTX, wallet *types.Wallet) error {
	query := `
		INSERT INTO wallets (
			id, user_id, currency, network, tier, address, pub_key,
			derivation_path, address_index, parent_id, signers_required, signer_keys,
			status, is_primary, balance, pending_balance,
			daily_withdrawn, daily_reset_at, risk_score, backup_verified
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Currency,
		wallet.Network,
		wallet.Tier,
		wallet.Address,
		wallet.PubKey,
		wallet.DerivationPath,
		int64(wallet.AddressIndex),
		wallet.ParentID,
		wallet.SignersRequired,
		wallet.SignerKeys,
		wallet.Status,
		wallet.IsPrimary,
		wallet.Balance,
		wallet.PendingBalance,
		wallet.DailyWithdrawn,
		wallet.DailyResetAt,
		wallet.RiskScore,
		wallet.BackupVerified,
	).Scan(&wallet.CreatedAt, &wallet.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

func scanWallet(row pgx.Row) (*types.Wallet, error) {
	var w types.Wallet
	var index int64
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Currency,
		&w.Network,
		&w.Tier,
		&w.Address,
		&w.PubKey,
		&w.DerivationPath,
		&index,
		&w.ParentID,
		&w.SignersRequired,
		&w.SignerKeys,
		&w.Status,
		&w.IsPrimary,
		&w.Balance,
		&w.PendingBalance,
		&w.DailyWithdrawn,
		&w.DailyResetAt,
		&w.RiskScore,
		&w.BackupVerified,
		&w.LastAuditAt,
		&w.NextAuditAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.AddressIndex = uint32(index)
	return &w, nil
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	wallet, err := scanWallet(r.store.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by ID: %w", err)
	}
	return wallet, nil
}

// GetByAddress retrieves a wallet by its address
func (r *WalletRepository) GetByAddress(ctx context.Context, address string) (*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`

	wallet, err := scanWallet(r.store.pool.QueryRow(ctx, query, address))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by address: %w", err)
	}
	return wallet, nil
}

// GetPrimary retrieves the primary wallet for a user+currency, or for the
// pooled scope of a (currency, tier) when userID is nil.
func (r *WalletRepository) GetPrimary(ctx context.Context, userID *uuid.UUID, currency types.Currency, tier types.Tier) (*types.Wallet, error) {
	var row pgx.Row
	if userID != nil {
		query := `SELECT ` + walletColumns + ` FROM wallets
			WHERE user_id = $1 AND currency = $2 AND is_primary`
		row = r.store.pool.QueryRow(ctx, query, *userID, currency)
	} else {
		query := `SELECT ` + walletColumns + ` FROM wallets
			WHERE user_id IS NULL AND currency = $1 AND tier = $2 AND is_primary`
		row = r.store.pool.QueryRow(ctx, query, currency, tier)
	}

	wallet, err := scanWallet(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get primary wallet: %w", err)
	}
	return wallet, nil
}

// WalletFilter narrows List results. Nil fields are ignored.
type WalletFilter struct {
	Currency *types.Currency
	Tier     *types.Tier
	Status   *types.WalletStatus
}

// ListByUser retrieves a user's wallets, optionally filtered
func (r *WalletRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter WalletFilter) ([]*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	args := []interface{}{userID}

	if filter.Currency != nil {
		args = append(args, *filter.Currency)
		query += fmt.Sprintf(" AND currency = $%d", len(args))
	}
	if filter.Tier != nil {
		args = append(args, *filter.Tier)
		query += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	return r.queryWallets(ctx, query, args...)
}

// ListActive retrieves active wallets in a consolidation scope: a user's
// wallets when userID is set, the exchange pool otherwise.
func (r *WalletRepository) ListActive(ctx context.Context, userID *uuid.UUID, currency types.Currency) ([]*types.Wallet, error) {
	if userID != nil {
		query := `SELECT ` + walletColumns + ` FROM wallets
			WHERE user_id = $1 AND currency = $2 AND status = $3
			ORDER BY address_index`
		return r.queryWallets(ctx, query, *userID, currency, types.WalletActive)
	}
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE user_id IS NULL AND currency = $1 AND status = $2
		ORDER BY address_index`
	return r.queryWallets(ctx, query, currency, types.WalletActive)
}

func (r *WalletRepository) queryWallets(ctx context.Context, query string, args ...interface{}) ([]*types.Wallet, error) {
	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	return wallets, rows.Err()
}

// ClearPrimaryTx unsets the primary flag inside the caller's transaction.
// Always paired with SetPrimaryTx in the same transaction so there is no
// window with zero or two primaries.
func (r *WalletRepository) ClearPrimaryTx(ctx context.Context, tx DBTX, userID *uuid.UUID, currency types.Currency, tier types.Tier) error {
	var err error
	if userID != nil {
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET is_primary = false, updated_at = NOW()
			 WHERE user_id = $1 AND currency = $2 AND is_primary`,
			*userID, currency)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET is_primary = false, updated_at = NOW()
			 WHERE user_id IS NULL AND currency = $1 AND tier = $2 AND is_primary`,
			currency, tier)
	}
	if err != nil {
		return fmt.Errorf("failed to clear primary wallet: %w", err)
	}
	return nil
}

// SetPrimaryTx marks a wallet primary inside the caller's transaction
func (r *WalletRepository) SetPrimaryTx(ctx context.Context, tx DBTX, walletID uuid.UUID) error {
	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET is_primary = true, updated_at = NOW() WHERE id = $1`,
		walletID)
	if err != nil {
		return fmt.Errorf("failed to set primary wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateStatus transitions a wallet's status. Returns pgx.ErrNoRows if the
// wallet does not exist.
func (r *WalletRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status types.WalletStatus) error {
	tag, err := r.store.pool.Exec(ctx,
		`UPDATE wallets SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update wallet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AddBalance atomically adjusts the confirmed and pending custody balances.
func (r *WalletRepository) AddBalance(ctx context.Context, id uuid.UUID, confirmedDelta, pendingDelta decimal.Decimal) error {
	return r.AddBalanceTx(ctx, r.store.pool, id, confirmedDelta, pendingDelta)
}

// AddBalanceTx atomically adjusts the confirmed and pending custody balances.
// The guard keeps both balances non-negative; zero rows affected means the
// adjustment would have gone negative (or the wallet does not exist).
func (r *WalletRepository) AddBalanceTx(ctx context.Context, db DBTX, id uuid.UUID, confirmedDelta, pendingDelta decimal.Decimal) error {
	tag, err := db.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $2,
		    pending_balance = pending_balance + $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND balance + $2 >= 0
		  AND pending_balance + $3 >= 0`,
		id, confirmedDelta, pendingDelta)
	if err != nil {
		return fmt.Errorf("failed to adjust wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecordWithdrawalTx debits the wallet balance and rolls the daily-withdrawn
// counter forward in one statement. windowStart is the start of the current
// UTC day; a stale counter is replaced rather than accumulated. The daily
// limit is enforced inside the same guarded UPDATE so that concurrent
// withdrawals cannot jointly exceed it; a non-positive limit is unbounded.
func (r *WalletRepository) RecordWithdrawalTx(ctx context.Context, db DBTX, id uuid.UUID, amount decimal.Decimal, windowStart time.Time, dailyLimit decimal.Decimal) error {
	tag, err := db.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $2,
		    daily_withdrawn = CASE WHEN daily_reset_at = $3 THEN daily_withdrawn + $2 ELSE $2 END,
		    daily_reset_at = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND balance >= $2
		  AND ($4 <= 0 OR (CASE WHEN daily_reset_at = $3 THEN daily_withdrawn ELSE 0 END) + $2 <= $4)`,
		id, amount, windowStart, dailyLimit)
	if err != nil {
		return fmt.Errorf("failed to record withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.withdrawalError(ctx, db, id, amount, windowStart, dailyLimit)
	}
	return nil
}

// withdrawalError re-reads the wallet after a guarded withdrawal UPDATE
// touched no rows and reports which guard actually failed.
func (r *WalletRepository) withdrawalError(ctx context.Context, db DBTX, id uuid.UUID, amount decimal.Decimal, windowStart time.Time, dailyLimit decimal.Decimal) error {
	var balance, dailyWithdrawn decimal.Decimal
	var dailyResetAt time.Time
	err := db.QueryRow(ctx, `
		SELECT balance, daily_withdrawn, daily_reset_at
		FROM wallets
		WHERE id = $1`,
		id).Scan(&balance, &dailyWithdrawn, &dailyResetAt)
	if err == pgx.ErrNoRows {
		return apperrors.WalletNotFound(id.String())
	}
	if err != nil {
		return fmt.Errorf("failed to diagnose withdrawal failure: %w", err)
	}
	if balance.LessThan(amount) {
		return apperrors.InsufficientAvailable(balance, amount)
	}
	used := decimal.Zero
	if dailyResetAt.Equal(windowStart) {
		used = dailyWithdrawn
	}
	return apperrors.DailyLimitExceeded(dailyLimit, used, amount)
}

// UpdateAudit writes the audit timestamps and recomputed risk score.
func (r *WalletRepository) UpdateAudit(ctx context.Context, id uuid.UUID, lastAudit, nextAudit time.Time, riskScore int) error {
	return r.UpdateAuditTx(ctx, r.store.pool, id, lastAudit, nextAudit, riskScore)
}

// UpdateAuditTx writes the audit timestamps, compliance result, and
// recomputed risk score after an audit is recorded.
func (r *WalletRepository) UpdateAuditTx(ctx context.Context, db DBTX, id uuid.UUID, lastAudit, nextAudit time.Time, riskScore int) error {
	tag, err := db.Exec(ctx, `
		UPDATE wallets
		SET last_audit_at = $2, next_audit_at = $3, risk_score = $4, updated_at = NOW()
		WHERE id = $1`,
		id, lastAudit, nextAudit, riskScore)
	if err != nil {
		return fmt.Errorf("failed to update wallet audit fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateRiskScore persists a recomputed risk score
func (r *WalletRepository) UpdateRiskScore(ctx context.Context, id uuid.UUID, score int) error {
	tag, err := r.store.pool.Exec(ctx,
		`UPDATE wallets SET risk_score = $2, updated_at = NOW() WHERE id = $1`,
		id, score)
	if err != nil {
		return fmt.Errorf("failed to update risk score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
