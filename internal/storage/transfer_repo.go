package storage

import (
	"context"
	"fmt"

	"github.com/coinharbor/custody/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransferRepository persists on-chain transfer intents emitted by the
// withdrawal flow and the consolidation planner.
type TransferRepository struct {
	store *Store
}

// NewTransferRepository creates a new TransferRepository
func NewTransferRepository(store *Store) *TransferRepository {
	return &TransferRepository{store: store}
}

// CreateTx persists an intent using the provided transaction or connection.
// Intents are only ever written transactionally, alongside the custody debit
// or the rest of a consolidation plan.
func (r *TransferRepository) CreateTx(ctx context.Context, db DBTX, intent *types.TransferIntent) error {
	query := `
		INSERT INTO transfer_intents (
			id, currency, from_wallet_id, from_address, to_wallet_id, to_address,
			amount, status, offline_signing, tx_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		intent.ID,
		intent.Currency,
		intent.FromWalletID,
		intent.FromAddress,
		intent.ToWalletID,
		intent.ToAddress,
		intent.Amount,
		intent.Status,
		intent.OfflineSigning,
		intent.TxID,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create transfer intent: %w", err)
	}
	return nil
}

// CreateBatchTx persists a consolidation plan's intents in one transaction
func (r *TransferRepository) CreateBatchTx(ctx context.Context, db DBTX, intents []*types.TransferIntent) error {
	for _, intent := range intents {
		if err := r.CreateTx(ctx, db, intent); err != nil {
			return err
		}
	}
	return nil
}

// ListPending returns pending intents for a currency, oldest first
func (r *TransferRepository) ListPending(ctx context.Context, currency types.Currency) ([]*types.TransferIntent, error) {
	query := `
		SELECT id, currency, from_wallet_id, from_address, to_wallet_id, to_address,
		       amount, status, offline_signing, tx_id, created_at, updated_at
		FROM transfer_intents
		WHERE currency = $1 AND status = $2
		ORDER BY created_at
	`

	rows, err := r.store.pool.Query(ctx, query, currency, types.IntentPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	defer rows.Close()

	var intents []*types.TransferIntent
	for rows.Next() {
		var in types.TransferIntent
		err := rows.Scan(
			&in.ID,
			&in.Currency,
			&in.FromWalletID,
			&in.FromAddress,
			&in.ToWalletID,
			&in.ToAddress,
			&in.Amount,
			&in.Status,
			&in.OfflineSigning,
			&in.TxID,
			&in.CreatedAt,
			&in.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer intent: %w", err)
		}
		intents = append(intents, &in)
	}
	return intents, rows.Err()
}

// MarkBroadcast transitions a pending intent to broadcast with its tx id
func (r *TransferRepository) MarkBroadcast(ctx context.Context, id uuid.UUID, txID string) error {
	return r.setStatus(ctx, id, types.IntentPending, types.IntentBroadcast, txID)
}

// MarkConfirmed transitions a broadcast intent to confirmed
func (r *TransferRepository) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, types.IntentBroadcast, types.IntentConfirmed, "")
}

// MarkFailed transitions an intent to failed from any non-terminal state
func (r *TransferRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.store.pool.Exec(ctx, `
		UPDATE transfer_intents
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, types.IntentFailed, types.IntentPending, types.IntentBroadcast)
	if err != nil {
		return fmt.Errorf("failed to mark intent failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *TransferRepository) setStatus(ctx context.Context, id uuid.UUID, from, to types.TransferIntentStatus, txID string) error {
	if txID != "" {
		cmd, execErr := r.store.pool.Exec(ctx, `
			UPDATE transfer_intents
			SET status = $3, tx_id = $4, updated_at = NOW()
			WHERE id = $1 AND status = $2`,
			id, from, to, txID)
		if execErr != nil {
			return fmt.Errorf("failed to update intent status: %w", execErr)
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	}

	cmd, err := r.store.pool.Exec(ctx, `
		UPDATE transfer_intents
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update intent status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
