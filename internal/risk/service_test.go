package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/risk"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
	"github.com/coinharbor/custody/tests/fixtures"
	"github.com/coinharbor/custody/tests/helpers"
	"github.com/coinharbor/custody/tests/mocks"
)

func newRiskService(wallets *mocks.WalletStore, notes *mocks.NoteStore, now time.Time) *risk.Service {
	tiers := policy.NewTiers(helpers.TierConfigs(), func() time.Time { return now })
	return risk.NewService(wallets, notes, tiers, risk.NewLogEmitter(), 90*24*time.Hour, func() time.Time { return now })
}

func TestRecordAudit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("passing audit updates the schedule and score", func(t *testing.T) {
		wallets := mocks.NewWalletStore()
		notes := mocks.NewNoteStore()
		svc := newRiskService(wallets, notes, now)

		// Never audited: score carries the penalty until the first audit.
		w := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot)
		w.RiskScore = 25
		wallets.Put(w)

		trail, err := svc.RecordAudit(ctx, w.ID, types.AuditPassed, "compliance-bot", "quarterly review")
		require.NoError(t, err)
		assert.Equal(t, types.AuditPassed, trail.Result)
		assert.Equal(t, "compliance-bot", trail.Actor)

		stored, _ := wallets.GetByID(ctx, w.ID)
		require.NotNil(t, stored.LastAuditAt)
		require.NotNil(t, stored.NextAuditAt)
		assert.Equal(t, now, *stored.LastAuditAt)
		assert.Equal(t, now.Add(90*24*time.Hour), *stored.NextAuditAt)
		assert.Equal(t, 10, stored.RiskScore, "audit penalty cleared, tier base remains")

		require.Len(t, notes.Notes, 1)
	})

	t.Run("notes accumulate, never replace", func(t *testing.T) {
		wallets := mocks.NewWalletStore()
		notes := mocks.NewNoteStore()
		svc := newRiskService(wallets, notes, now)

		w := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot)
		wallets.Put(w)

		_, err := svc.RecordAudit(ctx, w.ID, types.AuditPassed, "alice", "first")
		require.NoError(t, err)
		_, err = svc.RecordAudit(ctx, w.ID, types.AuditFlagged, "bob", "second")
		require.NoError(t, err)

		walletNotes, err := notes.ListByWallet(ctx, w.ID)
		require.NoError(t, err)
		require.Len(t, walletNotes, 2)
		assert.Equal(t, "first", walletNotes[0].Note)
		assert.Equal(t, "second", walletNotes[1].Note)
	})

	t.Run("actor is required", func(t *testing.T) {
		svc := newRiskService(mocks.NewWalletStore(), mocks.NewNoteStore(), now)

		_, err := svc.RecordAudit(ctx, fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot).ID,
			types.AuditPassed, "", "")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("unknown wallet", func(t *testing.T) {
		svc := newRiskService(mocks.NewWalletStore(), mocks.NewNoteStore(), now)

		_, err := svc.RecordAudit(ctx, fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot).ID,
			types.AuditPassed, "alice", "")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWalletNotFound))
	})
}

func TestNotifyOverdue(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	svc := newRiskService(mocks.NewWalletStore(), mocks.NewNoteStore(), now)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	overdue := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot)
	overdue.NextAuditAt = &past
	current := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot)
	current.NextAuditAt = &future
	unscheduled := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot)

	count := svc.NotifyOverdue(context.Background(), []*types.Wallet{overdue, current, unscheduled})
	assert.Equal(t, 1, count)
}
