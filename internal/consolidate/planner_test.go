package consolidate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/policy"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
	"github.com/coinharbor/custody/tests/fixtures"
	"github.com/coinharbor/custody/tests/helpers"
	"github.com/coinharbor/custody/tests/mocks"
)

type plannerHarness struct {
	planner *Planner
	wallets *mocks.WalletStore
	intents *mocks.IntentStore
}

func newPlannerHarness(dust string) *plannerHarness {
	wallets := mocks.NewWalletStore()
	intents := mocks.NewIntentStore()
	tiers := policy.NewTiers(helpers.TierConfigs(), time.Now)
	planner := NewPlanner(wallets, intents, mocks.TxRunner{}, tiers, metrics.NewNop(), fixtures.Dec(dust))
	return &plannerHarness{planner: planner, wallets: wallets, intents: intents}
}

func TestPlanSkipsDust(t *testing.T) {
	h := newPlannerHarness("0.01")
	ctx := context.Background()

	sink := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold, fixtures.WithPrimary())
	source := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot, fixtures.WithBalance("5"))
	dusty := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot, fixtures.WithBalance("0.005"))
	empty := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot)
	h.wallets.Put(sink)
	h.wallets.Put(source)
	h.wallets.Put(dusty)
	h.wallets.Put(empty)

	plan, err := h.planner.Plan(ctx, nil, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)

	assert.Equal(t, sink.ID, plan.SinkWalletID)
	require.Len(t, plan.Sweeps, 1)
	assert.Equal(t, source.ID, plan.Sweeps[0].SourceWalletID)
	assert.True(t, plan.Sweeps[0].Amount.Equal(fixtures.Dec("5")))
	assert.Equal(t, 1, plan.SkippedAsDust, "only the dusty wallet counts; empty ones are ignored")
	assert.True(t, plan.TotalAmount().Equal(fixtures.Dec("5")))
}

func TestPlanExcludesSinkAndFrozen(t *testing.T) {
	h := newPlannerHarness("0.01")
	ctx := context.Background()

	sink := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold,
		fixtures.WithPrimary(), fixtures.WithBalance("100"))
	frozen := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot,
		fixtures.WithBalance("5"), fixtures.WithStatus(types.WalletFrozen))
	coldSibling := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold,
		fixtures.WithBalance("30"))
	h.wallets.Put(sink)
	h.wallets.Put(frozen)
	h.wallets.Put(coldSibling)

	plan, err := h.planner.Plan(ctx, nil, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)
	assert.Empty(t, plan.Sweeps, "sink, frozen, and same-tier wallets are never sources")
}

func TestPlanScopedToUser(t *testing.T) {
	h := newPlannerHarness("0.01")
	ctx := context.Background()
	user := uuid.New()

	userSink := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold,
		fixtures.WithUser(user), fixtures.WithPrimary())
	userSource := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot,
		fixtures.WithUser(user), fixtures.WithBalance("5"))
	otherSource := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot,
		fixtures.WithUser(uuid.New()), fixtures.WithBalance("7"))
	poolSink := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold, fixtures.WithPrimary())
	poolSource := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot, fixtures.WithBalance("3"))
	for _, w := range []*types.Wallet{userSink, userSource, otherSource, poolSink, poolSource} {
		h.wallets.Put(w)
	}

	plan, err := h.planner.Plan(ctx, &user, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)

	assert.Equal(t, userSink.ID, plan.SinkWalletID, "sink comes from the user's wallets, not the pool")
	require.Len(t, plan.Sweeps, 1, "other users' and pooled wallets stay out of a user-scoped plan")
	assert.Equal(t, userSource.ID, plan.Sweeps[0].SourceWalletID)

	// The pool plan still sees only pooled wallets.
	poolPlan, err := h.planner.Plan(ctx, nil, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)
	assert.Equal(t, poolSink.ID, poolPlan.SinkWalletID)
	require.Len(t, poolPlan.Sweeps, 1)
	assert.Equal(t, poolSource.ID, poolPlan.Sweeps[0].SourceWalletID)
}

func TestPlanNoSink(t *testing.T) {
	h := newPlannerHarness("0.01")

	_, err := h.planner.Plan(context.Background(), nil, types.CurrencyBitcoin, types.TierCold)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWalletNotFound))
}

func TestExecuteEmitsIntents(t *testing.T) {
	h := newPlannerHarness("0.01")
	ctx := context.Background()

	sink := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold, fixtures.WithPrimary())
	a := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot, fixtures.WithBalance("5"))
	b := fixtures.NewWallet(types.CurrencyBitcoin, types.TierWarm, fixtures.WithBalance("40"))
	h.wallets.Put(sink)
	h.wallets.Put(a)
	h.wallets.Put(b)

	plan, err := h.planner.Plan(ctx, nil, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)
	require.Len(t, plan.Sweeps, 2)

	intents, err := h.planner.Execute(ctx, plan)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Len(t, h.intents.Intents, 2)

	for _, in := range intents {
		assert.Equal(t, types.IntentPending, in.Status)
		assert.Equal(t, sink.Address, in.ToAddress)
		require.NotNil(t, in.ToWalletID)
		assert.Equal(t, sink.ID, *in.ToWalletID)
		assert.True(t, in.OfflineSigning, "cold sink requires offline signing")
	}
}

func TestExecuteEmptyPlan(t *testing.T) {
	h := newPlannerHarness("0.01")

	intents, err := h.planner.Execute(context.Background(), &types.ConsolidationPlan{})
	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Empty(t, h.intents.Intents)
}

func TestPlanOverflow(t *testing.T) {
	h := newPlannerHarness("0.01")
	ctx := context.Background()

	sink := fixtures.NewWallet(types.CurrencyBitcoin, types.TierCold, fixtures.WithPrimary())
	// Hot ceiling is 10: 14 overflows by 4, 8 does not overflow.
	over := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot, fixtures.WithBalance("14"))
	under := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot, fixtures.WithBalance("8"))
	h.wallets.Put(sink)
	h.wallets.Put(over)
	h.wallets.Put(under)

	plan, err := h.planner.PlanOverflow(ctx, nil, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)

	require.Len(t, plan.Sweeps, 1)
	assert.Equal(t, over.ID, plan.Sweeps[0].SourceWalletID)
	assert.True(t, plan.Sweeps[0].Amount.Equal(fixtures.Dec("4")), "only the excess moves, got %s", plan.Sweeps[0].Amount)
}

func TestPlanUnsupportedCurrency(t *testing.T) {
	h := newPlannerHarness("0.01")

	_, err := h.planner.Plan(context.Background(), nil, types.Currency("DOGE"), types.TierCold)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnsupportedCurrency))
}
