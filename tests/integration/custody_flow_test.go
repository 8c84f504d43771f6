package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinharbor/custody/internal/consolidate"
	"github.com/coinharbor/custody/internal/hdkey"
	"github.com/coinharbor/custody/internal/ledger"
	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/registry"
	"github.com/coinharbor/custody/internal/risk"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
	"github.com/coinharbor/custody/tests/fixtures"
	"github.com/coinharbor/custody/tests/helpers"
	"github.com/coinharbor/custody/tests/mocks"
)

// custodyStack wires every service over in-memory stores, the same way
// cmd/custodyd wires them over postgres.
type custodyStack struct {
	wallets  *mocks.WalletStore
	balances *mocks.BalanceStore
	intents  *mocks.IntentStore
	notes    *mocks.NoteStore
	ledger   *ledger.Service
	registry *registry.Service
	policy   *policy.Service
	risk     *risk.Service
	planner  *consolidate.Planner
}

func newCustodyStack(t *testing.T) *custodyStack {
	t.Helper()

	wallets := mocks.NewWalletStore()
	balances := mocks.NewBalanceStore()
	intents := mocks.NewIntentStore()
	notes := mocks.NewNoteStore()
	m := metrics.New(prometheus.NewRegistry())
	tiers := policy.NewTiers(helpers.TierConfigs(), time.Now)
	emitter := risk.NewLogEmitter()

	ledgerSvc := ledger.NewService(balances, m)
	engine := hdkey.NewEngine(
		mocks.NewSeedProvider(types.SupportedCurrencies...),
		mocks.NewIndexAllocator(),
	)

	return &custodyStack{
		wallets:  wallets,
		balances: balances,
		intents:  intents,
		notes:    notes,
		ledger:   ledgerSvc,
		registry: registry.NewService(engine, wallets, mocks.TxRunner{}, ledgerSvc, tiers, mocks.NewChainConnector(), m, 3),
		policy:   policy.NewService(tiers, wallets, ledgerSvc, intents, notes, mocks.TxRunner{}, emitter, m),
		risk:     risk.NewService(wallets, notes, tiers, emitter, 90*24*time.Hour, nil),
		planner:  consolidate.NewPlanner(wallets, intents, mocks.TxRunner{}, tiers, m, fixtures.Dec("0.0001")),
	}
}

// TestDepositWithdrawalLifecycle walks a user wallet through the full path:
// creation, a confirmed deposit, a policy-gated withdrawal, settlement.
func TestDepositWithdrawalLifecycle(t *testing.T) {
	ctx := context.Background()
	stack := newCustodyStack(t)
	userID := uuid.New()

	wallet, err := stack.registry.CreateWallet(ctx, &registry.CreateWalletRequest{
		UserID:   &userID,
		Currency: types.CurrencyBitcoin,
		Tier:     types.TierHot,
		Primary:  true,
	})
	require.NoError(t, err)
	require.Equal(t, types.WalletActive, wallet.Status)
	require.NotEmpty(t, wallet.Address)

	t.Run("under-confirmed deposit stays pending", func(t *testing.T) {
		updated, err := stack.registry.RecordDeposit(ctx, &types.Deposit{
			Address:       wallet.Address,
			TxID:          "tx-pending",
			Amount:        fixtures.Dec("8"),
			Confirmations: 1,
		})
		require.NoError(t, err)
		assert.True(t, updated.PendingBalance.Equal(fixtures.Dec("8")))
		assert.True(t, updated.Balance.IsZero())

		bal, err := stack.ledger.GetBalance(ctx, userID, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.True(t, bal.Available.IsZero(), "pending deposits are not spendable")
	})

	t.Run("confirmation moves funds into the ledger", func(t *testing.T) {
		updated, err := stack.registry.ConfirmDeposit(ctx, &types.Deposit{
			Address:       wallet.Address,
			TxID:          "tx-pending",
			Amount:        fixtures.Dec("8"),
			Confirmations: 3,
		})
		require.NoError(t, err)
		assert.True(t, updated.Balance.Equal(fixtures.Dec("8")))
		assert.True(t, updated.PendingBalance.IsZero())

		bal, err := stack.ledger.GetBalance(ctx, userID, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(fixtures.Dec("8")))
	})

	t.Run("withdrawal locks funds and creates an intent", func(t *testing.T) {
		receipt, err := stack.policy.RequestWithdrawal(ctx, &policy.WithdrawalRequest{
			UserID:    userID,
			WalletID:  wallet.ID,
			Amount:    fixtures.Dec("2"),
			ToAddress: "1ExternalDestinationAddr",
		})
		require.NoError(t, err)
		assert.False(t, receipt.OfflineSigning, "hot tier signs online")

		bal, err := stack.ledger.GetBalance(ctx, userID, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(fixtures.Dec("6")))
		assert.True(t, bal.Locked.Equal(fixtures.Dec("2")))

		require.Len(t, stack.intents.Intents, 1)
		assert.Nil(t, stack.intents.Intents[0].ToWalletID, "external destination")
	})

	t.Run("settlement burns the locked funds", func(t *testing.T) {
		err := stack.policy.CompleteWithdrawal(ctx, userID, types.CurrencyBitcoin, fixtures.Dec("2"))
		require.NoError(t, err)

		bal, err := stack.ledger.GetBalance(ctx, userID, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(fixtures.Dec("6")))
		assert.True(t, bal.Locked.IsZero())
	})

	t.Run("daily limit carries across requests", func(t *testing.T) {
		// Hot tier daily limit is 5; 2 already withdrawn today.
		_, err := stack.policy.RequestWithdrawal(ctx, &policy.WithdrawalRequest{
			UserID:    userID,
			WalletID:  wallet.ID,
			Amount:    fixtures.Dec("4"),
			ToAddress: "1ExternalDestinationAddr",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDailyLimitExceeded))
	})
}

// TestFreezeBlocksOutboundOnly covers the compliance hold: a frozen wallet
// rejects withdrawals but keeps accepting deposits, and unfreezing restores
// the withdrawal path.
func TestFreezeBlocksOutboundOnly(t *testing.T) {
	ctx := context.Background()
	stack := newCustodyStack(t)
	userID := uuid.New()

	wallet, err := stack.registry.CreateWallet(ctx, &registry.CreateWalletRequest{
		UserID:   &userID,
		Currency: types.CurrencyLitecoin,
		Tier:     types.TierWarm,
		Primary:  true,
	})
	require.NoError(t, err)

	_, err = stack.registry.RecordDeposit(ctx, &types.Deposit{
		Address:       wallet.Address,
		TxID:          "tx-1",
		Amount:        fixtures.Dec("20"),
		Confirmations: 6,
	})
	require.NoError(t, err)

	frozen, err := stack.policy.Freeze(ctx, wallet.ID, "chain analytics hit", "compliance")
	require.NoError(t, err)
	assert.Equal(t, types.WalletFrozen, frozen.Status)

	t.Run("withdrawal denied while frozen", func(t *testing.T) {
		_, err := stack.policy.RequestWithdrawal(ctx, &policy.WithdrawalRequest{
			UserID:    userID,
			WalletID:  wallet.ID,
			Amount:    fixtures.Dec("1"),
			ToAddress: "LExternalDestination",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWalletFrozen))
	})

	t.Run("deposits still land while frozen", func(t *testing.T) {
		updated, err := stack.registry.RecordDeposit(ctx, &types.Deposit{
			Address:       wallet.Address,
			TxID:          "tx-2",
			Amount:        fixtures.Dec("5"),
			Confirmations: 6,
		})
		require.NoError(t, err)
		assert.True(t, updated.Balance.Equal(fixtures.Dec("25")))
	})

	t.Run("freeze and unfreeze leave an audit trail", func(t *testing.T) {
		unfrozen, err := stack.policy.Unfreeze(ctx, wallet.ID, "compliance")
		require.NoError(t, err)
		assert.Equal(t, types.WalletActive, unfrozen.Status)

		notes, err := stack.notes.ListByWallet(ctx, wallet.ID)
		require.NoError(t, err)
		require.Len(t, notes, 2)

		_, err = stack.policy.RequestWithdrawal(ctx, &policy.WithdrawalRequest{
			UserID:    userID,
			WalletID:  wallet.ID,
			Amount:    fixtures.Dec("1"),
			ToAddress: "LExternalDestination",
		})
		require.NoError(t, err)
	})
}

// TestConsolidationSweepsPooledFunds drives deposits into scattered pooled
// hot wallets and sweeps them into the cold primary.
func TestConsolidationSweepsPooledFunds(t *testing.T) {
	ctx := context.Background()
	stack := newCustodyStack(t)

	sink, err := stack.registry.CreateWallet(ctx, &registry.CreateWalletRequest{
		Currency: types.CurrencyBitcoin,
		Tier:     types.TierCold,
		Primary:  true,
	})
	require.NoError(t, err)

	amounts := []string{"3", "1.5", "0.00005"} // last one is dust
	for i, amt := range amounts {
		pooled, err := stack.registry.CreateWallet(ctx, &registry.CreateWalletRequest{
			Currency: types.CurrencyBitcoin,
			Tier:     types.TierHot,
		})
		require.NoError(t, err)
		_, err = stack.registry.RecordDeposit(ctx, &types.Deposit{
			Address:       pooled.Address,
			TxID:          "sweep-tx",
			Amount:        fixtures.Dec(amt),
			Confirmations: 6,
		})
		require.NoError(t, err, "deposit %d", i)
	}

	plan, err := stack.planner.Plan(ctx, nil, types.CurrencyBitcoin, types.TierCold)
	require.NoError(t, err)
	assert.Equal(t, sink.ID, plan.SinkWalletID)
	assert.Len(t, plan.Sweeps, 2)
	assert.Equal(t, 1, plan.SkippedAsDust)
	assert.True(t, plan.TotalAmount().Equal(fixtures.Dec("4.5")))

	intents, err := stack.planner.Execute(ctx, plan)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	for _, intent := range intents {
		require.NotNil(t, intent.ToWalletID)
		assert.Equal(t, sink.ID, *intent.ToWalletID)
		assert.True(t, intent.OfflineSigning, "cold sink requires offline signing")
	}
}
