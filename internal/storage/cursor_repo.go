package storage

import (
	"context"
	"fmt"

	"github.com/coinharbor/custody/pkg/types"
)

// CursorRepository owns address-index allocation. Each (currency, path
// prefix) has a monotonically increasing cursor; an index, once returned, is
// never handed out again even if the wallet created for it is deprecated.
type CursorRepository struct {
	store *Store
}

// NewCursorRepository creates a new CursorRepository
func NewCursorRepository(store *Store) *CursorRepository {
	return &CursorRepository{store: store}
}

// Allocate reserves and returns the next address index for (currency,
// pathPrefix). The upsert increments and reads in a single statement, which
// makes allocation race-free under concurrent derivation requests. The raw
// int64 is returned so the caller can detect index-space exhaustion instead
// of silently wrapping.
func (r *CursorRepository) Allocate(ctx context.Context, currency types.Currency, pathPrefix string) (int64, error) {
	var next int64
	err := r.store.pool.QueryRow(ctx, `
		INSERT INTO derivation_cursors (currency, path_prefix, next_index)
		VALUES ($1, $2, 1)
		ON CONFLICT (currency, path_prefix)
		DO UPDATE SET next_index = derivation_cursors.next_index + 1
		RETURNING next_index - 1`,
		currency, pathPrefix).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate address index: %w", err)
	}

	return next, nil
}
