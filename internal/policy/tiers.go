// Package policy enforces the hot/warm/cold tier rules: balance ceilings,
// daily withdrawal limits, approval requirements, and freeze state.
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/config"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// Tiers evaluates tier policy. It is pure given a clock; all state lives on
// the wallet records themselves.
type Tiers struct {
	cfg map[types.Tier]config.TierConfig
	now func() time.Time
}

// NewTiers creates a tier policy evaluator. now is injectable for tests;
// pass nil for the wall clock.
func NewTiers(cfg map[types.Tier]config.TierConfig, now func() time.Time) *Tiers {
	if now == nil {
		now = time.Now
	}
	return &Tiers{cfg: cfg, now: now}
}

// For returns the configuration of a tier.
func (t *Tiers) For(tier types.Tier) (config.TierConfig, error) {
	tc, ok := t.cfg[tier]
	if !ok {
		return config.TierConfig{}, apperrors.Validation(fmt.Sprintf("unknown tier: %s", tier))
	}
	return tc, nil
}

// StartOfDayUTC truncates t to the start of its UTC day. The daily
// withdrawal window is anchored here, not on string-compared dates, so the
// boundary is unambiguous across timezones.
func StartOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Window returns the start of the current daily withdrawal window.
func (t *Tiers) Window() time.Time {
	return StartOfDayUTC(t.now())
}

// DailyUsed returns the amount already withdrawn in the current window. The
// reset is lazy: a counter from an earlier window counts as zero; nothing
// rewrites the row until the next withdrawal.
func (t *Tiers) DailyUsed(w *types.Wallet) decimal.Decimal {
	if !w.DailyResetAt.Equal(t.Window()) {
		return decimal.Zero
	}
	return w.DailyWithdrawn
}

// CanWithdraw returns nil if the wallet may send amount now, or a typed
// error naming the specific rule that failed. It mutates nothing.
func (t *Tiers) CanWithdraw(w *types.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.Validation("withdrawal amount must be positive")
	}

	switch w.Status {
	case types.WalletActive:
	case types.WalletFrozen:
		return apperrors.WalletIsFrozen(w.Address)
	default:
		return apperrors.PolicyViolation(fmt.Sprintf("wallet status %s does not permit withdrawals", w.Status))
	}

	if amount.GreaterThan(w.Balance) {
		return apperrors.InsufficientAvailable(w.Balance, amount)
	}

	tc, err := t.For(w.Tier)
	if err != nil {
		return err
	}

	if tc.DailyLimit.IsPositive() {
		used := t.DailyUsed(w)
		if used.Add(amount).GreaterThan(tc.DailyLimit) {
			return apperrors.DailyLimitExceeded(tc.DailyLimit, used, amount)
		}
	}

	return nil
}

// RequiresOfflineSigning reports whether intents from this tier must be
// signed manually or on an air-gapped machine.
func (t *Tiers) RequiresOfflineSigning(tier types.Tier) bool {
	tc, ok := t.cfg[tier]
	if !ok {
		return true // unknown tier: fail toward the safer path
	}
	return tc.RequiresApproval || tier == types.TierCold
}

// ExceedsCeiling reports whether a wallet's balance is above its tier
// ceiling, which makes it a consolidation candidate. A zero ceiling means
// the tier is unbounded.
func (t *Tiers) ExceedsCeiling(w *types.Wallet) bool {
	tc, ok := t.cfg[w.Tier]
	if !ok || !tc.Ceiling.IsPositive() {
		return false
	}
	return w.Balance.GreaterThan(tc.Ceiling)
}

// DefaultRiskScore returns the tier's seed risk score for new wallets.
func (t *Tiers) DefaultRiskScore(tier types.Tier) int {
	tc, ok := t.cfg[tier]
	if !ok {
		return 50
	}
	return tc.DefaultRiskScore
}
