package storage

import (
	"context"
	"fmt"

	"github.com/coinharbor/custody/pkg/types"
	"github.com/google/uuid"
)

// AuditNoteRepository is insert-only. Audit notes form the compliance trail;
// no update or delete statement exists for them anywhere in the codebase.
type AuditNoteRepository struct {
	store *Store
}

// NewAuditNoteRepository creates a new AuditNoteRepository
func NewAuditNoteRepository(store *Store) *AuditNoteRepository {
	return &AuditNoteRepository{store: store}
}

// Append records a new audit note
func (r *AuditNoteRepository) Append(ctx context.Context, note *types.AuditNote) error {
	return r.AppendTx(ctx, r.store.pool, note)
}

// AppendTx records a new audit note using the provided transaction
func (r *AuditNoteRepository) AppendTx(ctx context.Context, db DBTX, note *types.AuditNote) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}

	err := db.QueryRow(ctx, `
		INSERT INTO audit_notes (id, wallet_id, actor, result, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		note.ID, note.WalletID, note.Actor, note.Result, note.Note,
	).Scan(&note.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append audit note: %w", err)
	}
	return nil
}

// ListByWallet returns a wallet's audit trail, oldest first
func (r *AuditNoteRepository) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]*types.AuditNote, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, wallet_id, actor, result, note, created_at
		FROM audit_notes
		WHERE wallet_id = $1
		ORDER BY created_at`,
		walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit notes: %w", err)
	}
	defer rows.Close()

	var notes []*types.AuditNote
	for rows.Next() {
		var n types.AuditNote
		if err := rows.Scan(&n.ID, &n.WalletID, &n.Actor, &n.Result, &n.Note, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit note: %w", err)
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}
