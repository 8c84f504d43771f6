// Package fixtures provides test data factories.
package fixtures

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/pkg/types"
)

// TestMnemonic is the standard BIP-39 test vector mnemonic. Derivation from
// it is deterministic, which the hdkey tests rely on.
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// WalletOption mutates a wallet under construction.
type WalletOption func(*types.Wallet)

// WithUser assigns the wallet to a user.
func WithUser(userID uuid.UUID) WalletOption {
	return func(w *types.Wallet) { w.UserID = &userID }
}

// WithBalance sets the confirmed custody balance.
func WithBalance(amount string) WalletOption {
	return func(w *types.Wallet) { w.Balance = decimal.RequireFromString(amount) }
}

// WithStatus sets the wallet status.
func WithStatus(status types.WalletStatus) WalletOption {
	return func(w *types.Wallet) { w.Status = status }
}

// WithPrimary marks the wallet primary.
func WithPrimary() WalletOption {
	return func(w *types.Wallet) { w.IsPrimary = true }
}

// WithDailyWithdrawn sets the daily counter and its window.
func WithDailyWithdrawn(amount string, windowStart time.Time) WalletOption {
	return func(w *types.Wallet) {
		w.DailyWithdrawn = decimal.RequireFromString(amount)
		w.DailyResetAt = windowStart
	}
}

var addressSeq int

// NewWallet builds an active wallet with sane defaults.
func NewWallet(currency types.Currency, tier types.Tier, opts ...WalletOption) *types.Wallet {
	addressSeq++
	w := &types.Wallet{
		ID:             uuid.New(),
		Currency:       currency,
		Network:        "mainnet",
		Tier:           tier,
		Address:        fmt.Sprintf("addr-%s-%s-%04d", currency, tier, addressSeq),
		PubKey:         fmt.Sprintf("02%062x", addressSeq),
		DerivationPath: "m/44'/0'/0'/0",
		AddressIndex:   uint32(addressSeq),
		Status:         types.WalletActive,
		Balance:        decimal.Zero,
		PendingBalance: decimal.Zero,
		DailyWithdrawn: decimal.Zero,
		DailyResetAt:   time.Now().UTC().Truncate(24 * time.Hour),
		RiskScore:      10,
		BackupVerified: true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dec parses a decimal or panics. For test literals only.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
