package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency identifies a supported asset. Adding a currency means adding a
// variant here plus a deriver in internal/hdkey; nothing switches on raw strings.
type Currency string

const (
	CurrencyBitcoin  Currency = "BTC"
	CurrencyLitecoin Currency = "LTC"
	CurrencyEthereum Currency = "ETH"
	CurrencyTether   Currency = "USDT"
)

// SupportedCurrencies lists every currency the subsystem can derive and account for.
var SupportedCurrencies = []Currency{
	CurrencyBitcoin,
	CurrencyLitecoin,
	CurrencyEthereum,
	CurrencyTether,
}

// IsSupported reports whether c is a known currency variant.
func (c Currency) IsSupported() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

// Tier is the custody classification of a wallet.
type Tier string

const (
	TierHot      Tier = "hot"
	TierWarm     Tier = "warm"
	TierCold     Tier = "cold"
	TierMultisig Tier = "multisig"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierMultisig:
		return true
	}
	return false
}

// WalletStatus constants. Wallets are soft-deprecated, never deleted.
type WalletStatus string

const (
	// WalletActive accepts deposits and can be selected for withdrawals.
	WalletActive WalletStatus = "active"

	// WalletPendingSigners is a multisig wallet whose signer set is not yet
	// complete with independently held keys. It must not be handed out as a
	// deposit address until all real co-signers are enrolled.
	WalletPendingSigners WalletStatus = "pending_signers"

	WalletFrozen      WalletStatus = "frozen"
	WalletCompromised WalletStatus = "compromised"
	WalletDeprecated  WalletStatus = "deprecated"
)

// BalancePool selects which side of a balance a credit or debit targets.
type BalancePool string

const (
	PoolAvailable BalancePool = "available"
	PoolLocked    BalancePool = "locked"
)

// Wallet is a custody-layer address record. Identity is the address; the
// derivation coordinate (currency, path, index) is never reused even after
// the wallet is deprecated.
type Wallet struct {
	ID       uuid.UUID
	UserID   *uuid.UUID // nil for pooled tier wallets
	Currency Currency
	Network  string
	Tier     Tier
	Address  string
	PubKey   string // hex, compressed for secp256k1 currencies

	DerivationPath string // e.g. m/44'/0'/0'/0
	AddressIndex   uint32
	ParentID       *uuid.UUID // set for rotated sibling addresses

	// Multisig configuration; zero values for single-sig wallets.
	SignersRequired int      // m
	SignerKeys      []string // ordered hex-encoded signer public keys (n)

	Status    WalletStatus
	IsPrimary bool

	Balance        decimal.Decimal // confirmed custody balance
	PendingBalance decimal.Decimal // deposits below the confirmation threshold

	DailyWithdrawn decimal.Decimal
	DailyResetAt   time.Time // start of the UTC day DailyWithdrawn applies to

	RiskScore      int // 0..100
	BackupVerified bool
	LastAuditAt    *time.Time
	NextAuditAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMultisig reports whether the wallet spends under an m-of-n policy.
func (w *Wallet) IsMultisig() bool {
	return w.SignersRequired > 0
}

// Pooled reports whether the wallet belongs to the exchange pool rather than
// an individual user.
func (w *Wallet) Pooled() bool {
	return w.UserID == nil
}

// Balance is the authoritative trading balance for (user, currency).
// Total is derived, never stored. Mutated only through the ledger.
type Balance struct {
	UserID    uuid.UUID
	Currency  Currency
	Available decimal.Decimal
	Locked    decimal.Decimal
	UpdatedAt time.Time
}

// Total returns available + locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// DerivedAddress is the result of deriving the next key along a path.
type DerivedAddress struct {
	Address string
	PubKey  string
	Path    string
	Index   uint32
}

// TransferIntentStatus tracks the lifecycle of an on-chain transfer intent.
type TransferIntentStatus string

const (
	IntentPending   TransferIntentStatus = "pending"
	IntentBroadcast TransferIntentStatus = "broadcast"
	IntentConfirmed TransferIntentStatus = "confirmed"
	IntentFailed    TransferIntentStatus = "failed"
)

// TransferIntent is an unsigned instruction to move funds on chain. The
// subsystem only emits intents; a downstream signer/broadcaster executes
// them, which keeps signing authority out of the planning path.
type TransferIntent struct {
	ID           uuid.UUID
	Currency     Currency
	FromWalletID uuid.UUID
	FromAddress  string
	ToWalletID   *uuid.UUID // nil for withdrawals to external addresses
	ToAddress    string
	Amount       decimal.Decimal
	Status       TransferIntentStatus

	// OfflineSigning marks intents whose source tier requires manual or
	// air-gapped signing (cold tier, approval-gated tiers).
	OfflineSigning bool

	TxID      string // set once broadcast
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlannedSweep is one source-to-sink leg of a consolidation plan.
type PlannedSweep struct {
	SourceWalletID uuid.UUID
	SourceAddress  string
	Amount         decimal.Decimal
}

// ConsolidationPlan is ephemeral: it exists only until its sweeps are
// converted into pending transfer intents.
type ConsolidationPlan struct {
	Currency      Currency
	TargetTier    Tier
	SinkWalletID  uuid.UUID
	SinkAddress   string
	Sweeps        []PlannedSweep
	SkippedAsDust int
	PlannedAt     time.Time
}

// TotalAmount returns the sum of all sweep amounts in the plan.
func (p *ConsolidationPlan) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.Sweeps {
		total = total.Add(s.Amount)
	}
	return total
}

// AuditResult is the outcome recorded by a wallet audit.
type AuditResult string

const (
	AuditPassed   AuditResult = "passed"
	AuditFlagged  AuditResult = "flagged"
	AuditFailed   AuditResult = "failed"
	AuditDeferred AuditResult = "deferred"
)

// AuditNote is an append-only audit-trail entry. Notes are never edited or
// deleted; the storage layer exposes no update or delete for them.
type AuditNote struct {
	ID        uuid.UUID
	WalletID  uuid.UUID
	Actor     string
	Result    AuditResult
	Note      string
	CreatedAt time.Time
}

// Deposit is an inbound credit notification from the blockchain connector.
type Deposit struct {
	Address       string
	TxID          string
	Amount        decimal.Decimal
	Confirmations uint32
}

// WithdrawalReceipt is returned once a withdrawal request has passed policy
// and its funds are locked.
type WithdrawalReceipt struct {
	IntentID       uuid.UUID
	WalletID       uuid.UUID
	Currency       Currency
	Amount         decimal.Decimal
	OfflineSigning bool
	CreatedAt      time.Time
}
