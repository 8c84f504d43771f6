//go:build security

// Package security contains security-focused tests for the custody
// subsystem. These tests verify that trust boundaries are properly
// enforced: operator endpoints, wallet ownership, fund conservation.
//
// Run with: go test -v -tags=security ./tests/security/...
package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinharbor/custody/internal/hdkey"
	"github.com/coinharbor/custody/internal/ledger"
	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/middleware"
	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/risk"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
	"github.com/coinharbor/custody/tests/fixtures"
	"github.com/coinharbor/custody/tests/helpers"
	"github.com/coinharbor/custody/tests/mocks"
)

func newPolicyService(wallets *mocks.WalletStore, balances *mocks.BalanceStore) *policy.Service {
	m := metrics.New(prometheus.NewRegistry())
	tiers := policy.NewTiers(helpers.TierConfigs(), time.Now)
	return policy.NewService(
		tiers,
		wallets,
		ledger.NewService(balances, m),
		mocks.NewIntentStore(),
		mocks.NewNoteStore(),
		mocks.TxRunner{},
		risk.NewLogEmitter(),
		m,
	)
}

// TestAdminEndpointGuard verifies the operator token boundary: no token, a
// wrong token and a guessed prefix all fail, and a server deployed without
// a token fails closed.
func TestAdminEndpointGuard(t *testing.T) {
	passed := false
	guarded := middleware.AdminAuth("operator-secret")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) { passed = true },
	))

	attempts := []struct {
		name   string
		header string
	}{
		{"no credentials", ""},
		{"wrong token", "Bearer guessed"},
		{"prefix of real token", "Bearer operator"},
		{"token in wrong scheme", "Basic operator-secret"},
	}

	for _, tt := range attempts {
		t.Run(tt.name, func(t *testing.T) {
			passed = false
			req := httptest.NewRequest(http.MethodPost, "/v1/consolidations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, passed, "handler must not run without valid credentials")
		})
	}

	t.Run("missing configured token fails closed", func(t *testing.T) {
		passed = false
		open := middleware.AdminAuth("")(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) { passed = true },
		))
		req := httptest.NewRequest(http.MethodPost, "/v1/consolidations", nil)
		req.Header.Set("Authorization", "Bearer ")
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, passed)
	})
}

// TestWithdrawalOwnershipBoundary verifies a user cannot withdraw from a
// wallet they do not own, and that the denial does not reveal whether the
// wallet exists.
func TestWithdrawalOwnershipBoundary(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	attacker := uuid.New()

	wallets := mocks.NewWalletStore()
	balances := mocks.NewBalanceStore()
	wallet := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot,
		fixtures.WithUser(owner), fixtures.WithBalance("10"))
	wallets.Put(wallet)
	require.NoError(t, balances.Credit(ctx, owner, types.CurrencyBitcoin, fixtures.Dec("10"), types.PoolAvailable))

	svc := newPolicyService(wallets, balances)

	_, err := svc.RequestWithdrawal(ctx, &policy.WithdrawalRequest{
		UserID:    attacker,
		WalletID:  wallet.ID,
		Amount:    fixtures.Dec("1"),
		ToAddress: "1AttackerAddr",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWalletNotFound),
		"cross-user access reads as not-found, not forbidden")

	bal, err := balances.Get(ctx, owner, types.CurrencyBitcoin)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(fixtures.Dec("10")), "owner funds untouched")
	assert.True(t, bal.Locked.IsZero())
}

// TestFrozenWalletBoundary verifies that neither frozen nor compromised
// wallets can move funds out, and that compromised wallets cannot be
// quietly reactivated.
func TestFrozenWalletBoundary(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	for _, status := range []types.WalletStatus{types.WalletFrozen, types.WalletCompromised} {
		t.Run(string(status), func(t *testing.T) {
			wallets := mocks.NewWalletStore()
			balances := mocks.NewBalanceStore()
			wallet := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot,
				fixtures.WithUser(userID), fixtures.WithBalance("5"), fixtures.WithStatus(status))
			wallets.Put(wallet)
			require.NoError(t, balances.Credit(ctx, userID, types.CurrencyBitcoin, fixtures.Dec("5"), types.PoolAvailable))

			svc := newPolicyService(wallets, balances)
			_, err := svc.RequestWithdrawal(ctx, &policy.WithdrawalRequest{
				UserID:    userID,
				WalletID:  wallet.ID,
				Amount:    fixtures.Dec("1"),
				ToAddress: "1Destination",
			})
			require.Error(t, err)

			bal, err := balances.Get(ctx, userID, types.CurrencyBitcoin)
			require.NoError(t, err)
			assert.True(t, bal.Locked.IsZero(), "no funds locked for a denied request")
		})
	}

	t.Run("compromised wallet cannot be unfrozen", func(t *testing.T) {
		wallets := mocks.NewWalletStore()
		wallet := fixtures.NewWallet(types.CurrencyBitcoin, types.TierHot,
			fixtures.WithUser(userID), fixtures.WithStatus(types.WalletCompromised))
		wallets.Put(wallet)

		svc := newPolicyService(wallets, mocks.NewBalanceStore())
		_, err := svc.Unfreeze(ctx, wallet.ID, "operator")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePolicyViolation))
	})
}

// TestLedgerConservation verifies the balance invariants hold under
// adversarial sequencing: funds cannot be unlocked that were never locked,
// and a failed transfer leaves both sides intact.
func TestLedgerConservation(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())

	t.Run("unlock without lock is rejected", func(t *testing.T) {
		balances := mocks.NewBalanceStore()
		svc := ledger.NewService(balances, m)
		userID := uuid.New()
		require.NoError(t, svc.Credit(ctx, userID, types.CurrencyBitcoin, fixtures.Dec("5"), types.PoolAvailable))

		err := svc.Unlock(ctx, userID, types.CurrencyBitcoin, fixtures.Dec("5"))
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInsufficientLocked))

		bal, err := svc.GetBalance(ctx, userID, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(fixtures.Dec("5")), "unlock must not mint available funds")
	})

	t.Run("transfer to stranger cannot overdraw", func(t *testing.T) {
		balances := mocks.NewBalanceStore()
		svc := ledger.NewService(balances, m)
		from, to := uuid.New(), uuid.New()
		require.NoError(t, svc.Credit(ctx, from, types.CurrencyBitcoin, fixtures.Dec("1"), types.PoolAvailable))

		err := svc.Transfer(ctx, from, to, types.CurrencyBitcoin, fixtures.Dec("2"))
		require.Error(t, err)

		fromBal, err := svc.GetBalance(ctx, from, types.CurrencyBitcoin)
		require.NoError(t, err)
		toBal, err := svc.GetBalance(ctx, to, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.True(t, fromBal.Available.Equal(fixtures.Dec("1")))
		assert.True(t, toBal.Available.IsZero())
	})
}

// TestMultisigKeyValidation verifies malformed cosigner material is rejected
// before any derivation index is burned.
func TestMultisigKeyValidation(t *testing.T) {
	ctx := context.Background()
	alloc := mocks.NewIndexAllocator()
	engine := hdkey.NewEngine(mocks.NewSeedProvider(types.SupportedCurrencies...), alloc)

	badConfigs := []struct {
		name string
		opts hdkey.MultisigOptions
	}{
		{"garbage hex key", hdkey.MultisigOptions{
			Threshold:    2,
			CosignerKeys: []string{"not-hex", "also-not-hex"},
		}},
		{"off-curve point", hdkey.MultisigOptions{
			Threshold:    2,
			CosignerKeys: []string{"02" + "00" + "0000000000000000000000000000000000000000000000000000000000000001"[:62], "03ff"},
		}},
		{"threshold above signer count", hdkey.MultisigOptions{
			Threshold:    5,
			CosignerKeys: []string{"02ff"},
		}},
	}

	for _, tt := range badConfigs {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			_, err := engine.DeriveNext(ctx, types.CurrencyBitcoin, types.TierMultisig, hdkey.Options{Multisig: &opts})
			require.Error(t, err)
			assert.Equal(t, 0, alloc.Calls, "invalid config must not burn an index")
		})
	}
}
