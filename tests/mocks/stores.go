// Package mocks provides in-memory store implementations for testing. The
// balance and wallet stores mirror the guarded-update semantics of the
// Postgres repositories: a mutation that would violate an invariant fails
// with the same typed error and no partial effect.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/storage"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// BalanceStore is an in-memory ledger.BalanceStore.
type BalanceStore struct {
	mu       sync.Mutex
	balances map[balanceKey]*types.Balance
}

type balanceKey struct {
	userID   uuid.UUID
	currency types.Currency
}

// NewBalanceStore creates an empty in-memory balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{balances: make(map[balanceKey]*types.Balance)}
}

func (s *BalanceStore) Get(_ context.Context, userID uuid.UUID, currency types.Currency) (*types.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{userID, currency}]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (s *BalanceStore) get(userID uuid.UUID, currency types.Currency) *types.Balance {
	key := balanceKey{userID, currency}
	b, ok := s.balances[key]
	if !ok {
		b = &types.Balance{
			UserID:    userID,
			Currency:  currency,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
		}
		s.balances[key] = b
	}
	return b
}

func (s *BalanceStore) Credit(_ context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(userID, currency)
	if pool == types.PoolLocked {
		b.Locked = b.Locked.Add(amount)
	} else {
		b.Available = b.Available.Add(amount)
	}
	return nil
}

func (s *BalanceStore) Debit(_ context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal, pool types.BalancePool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{userID, currency}]
	if !ok {
		return apperrors.BalanceNotFound(userID.String(), string(currency))
	}
	if pool == types.PoolLocked {
		if b.Locked.LessThan(amount) {
			return apperrors.InsufficientLocked(b.Locked, amount)
		}
		b.Locked = b.Locked.Sub(amount)
		return nil
	}
	if b.Available.LessThan(amount) {
		return apperrors.InsufficientAvailable(b.Available, amount)
	}
	b.Available = b.Available.Sub(amount)
	return nil
}

func (s *BalanceStore) Lock(_ context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{userID, currency}]
	if !ok {
		return apperrors.BalanceNotFound(userID.String(), string(currency))
	}
	if b.Available.LessThan(amount) {
		return apperrors.InsufficientAvailable(b.Available, amount)
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}

func (s *BalanceStore) Unlock(_ context.Context, userID uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{userID, currency}]
	if !ok {
		return apperrors.BalanceNotFound(userID.String(), string(currency))
	}
	if b.Locked.LessThan(amount) {
		return apperrors.InsufficientLocked(b.Locked, amount)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

func (s *BalanceStore) Transfer(_ context.Context, fromUser, toUser uuid.UUID, currency types.Currency, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.balances[balanceKey{fromUser, currency}]
	if !ok {
		return apperrors.BalanceNotFound(fromUser.String(), string(currency))
	}
	if from.Available.LessThan(amount) {
		return apperrors.InsufficientAvailable(from.Available, amount)
	}
	from.Available = from.Available.Sub(amount)
	to := s.get(toUser, currency)
	to.Available = to.Available.Add(amount)
	return nil
}

// WalletStore is an in-memory wallet repository covering the registry,
// policy, risk and consolidation store contracts.
type WalletStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*types.Wallet
}

// NewWalletStore creates an empty in-memory wallet store.
func NewWalletStore() *WalletStore {
	return &WalletStore{wallets: make(map[uuid.UUID]*types.Wallet)}
}

// Put seeds the store with a wallet, bypassing creation checks.
func (s *WalletStore) Put(w *types.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *w
	s.wallets[w.ID] = &copied
}

func (s *WalletStore) CreateTx(_ context.Context, _ storage.DBTX, wallet *types.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet.CreatedAt = time.Now().UTC()
	wallet.UpdatedAt = wallet.CreatedAt
	copied := *wallet
	s.wallets[wallet.ID] = &copied
	return nil
}

func (s *WalletStore) GetByID(_ context.Context, id uuid.UUID) (*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, nil
	}
	copied := *w
	return &copied, nil
}

func (s *WalletStore) GetByAddress(_ context.Context, address string) (*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.Address == address {
			copied := *w
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *WalletStore) GetPrimary(_ context.Context, userID *uuid.UUID, currency types.Currency, tier types.Tier) (*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if !w.IsPrimary || w.Currency != currency || w.Tier != tier {
			continue
		}
		if !sameOwner(w.UserID, userID) {
			continue
		}
		copied := *w
		return &copied, nil
	}
	return nil, nil
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *WalletStore) ListByUser(_ context.Context, userID uuid.UUID, filter storage.WalletFilter) ([]*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Wallet
	for _, w := range s.wallets {
		if w.UserID == nil || *w.UserID != userID {
			continue
		}
		if filter.Currency != nil && w.Currency != *filter.Currency {
			continue
		}
		if filter.Tier != nil && w.Tier != *filter.Tier {
			continue
		}
		if filter.Status != nil && w.Status != *filter.Status {
			continue
		}
		copied := *w
		out = append(out, &copied)
	}
	return out, nil
}

func (s *WalletStore) ListActive(_ context.Context, userID *uuid.UUID, currency types.Currency) ([]*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Wallet
	for _, w := range s.wallets {
		if w.Currency != currency || w.Status != types.WalletActive {
			continue
		}
		if !sameOwner(w.UserID, userID) {
			continue
		}
		copied := *w
		out = append(out, &copied)
	}
	return out, nil
}

func (s *WalletStore) ClearPrimaryTx(_ context.Context, _ storage.DBTX, userID *uuid.UUID, currency types.Currency, tier types.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.IsPrimary && w.Currency == currency && w.Tier == tier && sameOwner(w.UserID, userID) {
			w.IsPrimary = false
		}
	}
	return nil
}

func (s *WalletStore) SetPrimaryTx(_ context.Context, _ storage.DBTX, walletID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return apperrors.WalletNotFound(walletID.String())
	}
	w.IsPrimary = true
	return nil
}

func (s *WalletStore) UpdateStatus(_ context.Context, id uuid.UUID, status types.WalletStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return apperrors.WalletNotFound(id.String())
	}
	w.Status = status
	return nil
}

func (s *WalletStore) AddBalance(_ context.Context, id uuid.UUID, confirmedDelta, pendingDelta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return apperrors.WalletNotFound(id.String())
	}
	newBalance := w.Balance.Add(confirmedDelta)
	newPending := w.PendingBalance.Add(pendingDelta)
	if newBalance.IsNegative() {
		return apperrors.InsufficientAvailable(w.Balance, confirmedDelta.Neg())
	}
	if newPending.IsNegative() {
		return apperrors.InsufficientAvailable(w.PendingBalance, pendingDelta.Neg())
	}
	w.Balance = newBalance
	w.PendingBalance = newPending
	return nil
}

// RecordWithdrawal mirrors the guarded UPDATE of the SQL repository: the
// counter resets when the stored window differs from the caller's, and the
// daily limit is checked under the same lock as the debit. A non-positive
// limit is unbounded.
func (s *WalletStore) RecordWithdrawal(_ context.Context, id uuid.UUID, amount decimal.Decimal, windowStart time.Time, dailyLimit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return apperrors.WalletNotFound(id.String())
	}
	if w.Balance.LessThan(amount) {
		return apperrors.InsufficientAvailable(w.Balance, amount)
	}
	used := decimal.Zero
	if w.DailyResetAt.Equal(windowStart) {
		used = w.DailyWithdrawn
	}
	if dailyLimit.IsPositive() && used.Add(amount).GreaterThan(dailyLimit) {
		return apperrors.DailyLimitExceeded(dailyLimit, used, amount)
	}
	w.Balance = w.Balance.Sub(amount)
	w.DailyWithdrawn = used.Add(amount)
	w.DailyResetAt = windowStart
	return nil
}

func (s *WalletStore) RecordWithdrawalTx(ctx context.Context, _ storage.DBTX, id uuid.UUID, amount decimal.Decimal, windowStart time.Time, dailyLimit decimal.Decimal) error {
	return s.RecordWithdrawal(ctx, id, amount, windowStart, dailyLimit)
}

func (s *WalletStore) UpdateAudit(_ context.Context, id uuid.UUID, lastAudit, nextAudit time.Time, riskScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return apperrors.WalletNotFound(id.String())
	}
	la, na := lastAudit, nextAudit
	w.LastAuditAt = &la
	w.NextAuditAt = &na
	w.RiskScore = riskScore
	return nil
}

func (s *WalletStore) UpdateRiskScore(_ context.Context, id uuid.UUID, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return apperrors.WalletNotFound(id.String())
	}
	w.RiskScore = score
	return nil
}

// IntentStore is an in-memory transfer-intent repository.
type IntentStore struct {
	mu      sync.Mutex
	Intents []*types.TransferIntent
}

// NewIntentStore creates an empty intent store.
func NewIntentStore() *IntentStore {
	return &IntentStore{}
}

func (s *IntentStore) Create(_ context.Context, intent *types.TransferIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent.CreatedAt = time.Now().UTC()
	intent.UpdatedAt = intent.CreatedAt
	s.Intents = append(s.Intents, intent)
	return nil
}

func (s *IntentStore) CreateTx(ctx context.Context, _ storage.DBTX, intent *types.TransferIntent) error {
	return s.Create(ctx, intent)
}

func (s *IntentStore) CreateBatchTx(ctx context.Context, _ storage.DBTX, intents []*types.TransferIntent) error {
	for _, in := range intents {
		if err := s.Create(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// NoteStore is an in-memory append-only audit note store.
type NoteStore struct {
	mu    sync.Mutex
	Notes []*types.AuditNote
}

// NewNoteStore creates an empty note store.
func NewNoteStore() *NoteStore {
	return &NoteStore{}
}

func (s *NoteStore) Append(_ context.Context, note *types.AuditNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	note.CreatedAt = time.Now().UTC()
	s.Notes = append(s.Notes, note)
	return nil
}

func (s *NoteStore) ListByWallet(_ context.Context, walletID uuid.UUID) ([]*types.AuditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.AuditNote
	for _, n := range s.Notes {
		if n.WalletID == walletID {
			out = append(out, n)
		}
	}
	return out, nil
}

// IndexAllocator is an in-memory derivation cursor.
type IndexAllocator struct {
	mu      sync.Mutex
	cursors map[string]int64

	// Start offsets the first allocated index, for exhaustion tests.
	Start int64

	// Calls counts Allocate invocations.
	Calls int
}

// NewIndexAllocator creates an allocator starting at index 0.
func NewIndexAllocator() *IndexAllocator {
	return &IndexAllocator{cursors: make(map[string]int64)}
}

func (a *IndexAllocator) Allocate(_ context.Context, currency types.Currency, path string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls++
	key := string(currency) + "|" + path
	next, ok := a.cursors[key]
	if !ok {
		next = a.Start
	}
	a.cursors[key] = next + 1
	return next, nil
}

// TxRunner satisfies the WithTx contract without a database: the callback
// runs immediately with a tx whose methods must not be used by the code
// under test (the mock repositories ignore the tx argument).
type TxRunner struct{}

type noopTx struct{ pgx.Tx }

func (TxRunner) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(noopTx{})
}

// SeedProvider returns a fixed 64-byte seed for every currency.
type SeedProvider struct {
	Seeds map[types.Currency][]byte
}

// NewSeedProvider builds a provider with a deterministic per-currency seed.
func NewSeedProvider(currencies ...types.Currency) *SeedProvider {
	p := &SeedProvider{Seeds: make(map[types.Currency][]byte)}
	for i, c := range currencies {
		seed := make([]byte, 64)
		for j := range seed {
			seed[j] = byte(i + j + 1)
		}
		p.Seeds[c] = seed
	}
	return p
}

func (p *SeedProvider) Seed(_ context.Context, currency types.Currency) ([]byte, error) {
	seed, ok := p.Seeds[currency]
	if !ok {
		return nil, apperrors.UnsupportedCurrency(string(currency))
	}
	return seed, nil
}

func (p *SeedProvider) Backend() string {
	return "mock"
}

// ChainConnector is a canned blockchain connector: confirmation counts come
// from the Confirmations map, broadcasts are recorded and acknowledged.
type ChainConnector struct {
	Confirmations map[string]uint32
	Broadcasts    [][]byte
}

func NewChainConnector() *ChainConnector {
	return &ChainConnector{Confirmations: make(map[string]uint32)}
}

func (c *ChainConnector) BroadcastSignedTransaction(_ context.Context, rawTx []byte) (string, error) {
	c.Broadcasts = append(c.Broadcasts, rawTx)
	return fmt.Sprintf("tx-%d", len(c.Broadcasts)), nil
}

func (c *ChainConnector) GetConfirmations(_ context.Context, txID string) (uint32, error) {
	n, ok := c.Confirmations[txID]
	if !ok {
		return 0, fmt.Errorf("unknown transaction %s", txID)
	}
	return n, nil
}
