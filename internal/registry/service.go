package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/chain"
	"github.com/coinharbor/custody/internal/hdkey"
	"github.com/coinharbor/custody/internal/ledger"
	"github.com/coinharbor/custody/internal/logger"
	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/storage"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// WalletStore is the wallet persistence surface the registry needs.
// Implemented by storage.WalletRepository.
type WalletStore interface {
	CreateTx(ctx context.Context, db storage.DBTX, wallet *types.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.Wallet, error)
	GetByAddress(ctx context.Context, address string) (*types.Wallet, error)
	GetPrimary(ctx context.Context, userID *uuid.UUID, currency types.Currency, tier types.Tier) (*types.Wallet, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter storage.WalletFilter) ([]*types.Wallet, error)
	ClearPrimaryTx(ctx context.Context, tx storage.DBTX, userID *uuid.UUID, currency types.Currency, tier types.Tier) error
	SetPrimaryTx(ctx context.Context, tx storage.DBTX, walletID uuid.UUID) error
	AddBalance(ctx context.Context, id uuid.UUID, confirmedDelta, pendingDelta decimal.Decimal) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status types.WalletStatus) error
}

// TxRunner runs a function inside a database transaction. Implemented by
// storage.Store.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Service owns the wallet registry: creation, primary designation, address
// rotation and deposit attribution.
type Service struct {
	hd       *hdkey.Engine
	wallets  WalletStore
	tx       TxRunner
	ledger   *ledger.Service
	tiers    *policy.Tiers
	chain    chain.Connector
	metrics  *metrics.Metrics
	log      *slog.Logger
	cache    addressCache
	minConfs uint32
}

// NewService creates a registry service
func NewService(
	hd *hdkey.Engine,
	wallets WalletStore,
	tx TxRunner,
	ledgerSvc *ledger.Service,
	tiers *policy.Tiers,
	conn chain.Connector,
	m *metrics.Metrics,
	minConfirmations uint32,
) *Service {
	return &Service{
		hd:       hd,
		wallets:  wallets,
		tx:       tx,
		ledger:   ledgerSvc,
		tiers:    tiers,
		chain:    conn,
		metrics:  m,
		log:      logger.Component("registry"),
		minConfs: minConfirmations,
	}
}

// CreateWalletRequest describes a wallet to create. UserID is nil for pooled
// exchange wallets. Multisig, when set, yields an m-of-n script wallet that
// starts in pending_signers until the cosigner ceremony completes.
type CreateWalletRequest struct {
	UserID   *uuid.UUID
	Currency types.Currency
	Tier     types.Tier
	Primary  bool
	Multisig *hdkey.MultisigOptions
}

// CreateWallet derives the next address on the (currency, tier) chain and
// registers the wallet. The derivation engine validates currency, tier and
// multisig configuration before any index is allocated.
func (s *Service) CreateWallet(ctx context.Context, req *CreateWalletRequest) (*types.Wallet, error) {
	if _, err := s.tiers.For(req.Tier); err != nil {
		return nil, err
	}

	var opts hdkey.Options
	opts.Multisig = req.Multisig

	derived, err := s.hd.DeriveNext(ctx, req.Currency, req.Tier, opts)
	if err != nil {
		return nil, err
	}

	status := types.WalletActive
	if req.Multisig != nil {
		status = types.WalletPendingSigners
	}

	wallet := &types.Wallet{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Currency:        derived.Currency,
		Network:         derived.Network,
		Tier:            req.Tier,
		Address:         derived.Address,
		PubKey:          derived.PubKey,
		DerivationPath:  derived.Path,
		AddressIndex:    derived.Index,
		SignersRequired: derived.Threshold,
		SignerKeys:      derived.SignerKeys,
		Status:          status,
		IsPrimary:       req.Primary,
		Balance:         decimal.Zero,
		PendingBalance:  decimal.Zero,
		DailyWithdrawn:  decimal.Zero,
		DailyResetAt:    s.tiers.Window(),
		RiskScore:       s.tiers.DefaultRiskScore(req.Tier),
	}

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if req.Primary {
			if err := s.wallets.ClearPrimaryTx(ctx, tx, req.UserID, req.Currency, req.Tier); err != nil {
				return err
			}
		}
		return s.wallets.CreateTx(ctx, tx, wallet)
	})
	if err != nil {
		return nil, err
	}

	s.cache.put(wallet)
	s.metrics.WalletsCreated.WithLabelValues(string(wallet.Currency), string(wallet.Tier)).Inc()
	s.metrics.AddressesDerived.WithLabelValues(string(wallet.Currency)).Inc()
	s.log.Info("wallet created",
		"wallet_id", wallet.ID,
		"currency", wallet.Currency,
		"tier", wallet.Tier,
		"path", wallet.DerivationPath,
		"index", wallet.AddressIndex,
		"multisig", wallet.IsMultisig(),
	)
	return wallet, nil
}

// ActivateMultisig marks a pending_signers wallet active once the cosigner
// ceremony has confirmed every signer holds their key.
func (s *Service) ActivateMultisig(ctx context.Context, walletID uuid.UUID) (*types.Wallet, error) {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}
	if !wallet.IsMultisig() {
		return nil, apperrors.Validation("wallet is not multisig")
	}
	if wallet.Status == types.WalletActive {
		return wallet, nil
	}
	if wallet.Status != types.WalletPendingSigners {
		return nil, apperrors.PolicyViolation(
			fmt.Sprintf("cannot activate wallet in status %s", wallet.Status))
	}
	if err := s.wallets.UpdateStatus(ctx, walletID, types.WalletActive); err != nil {
		return nil, err
	}
	wallet.Status = types.WalletActive
	s.cache.invalidate(wallet.Address)
	return wallet, nil
}

// GetWallet retrieves a wallet by id.
func (s *Service) GetWallet(ctx context.Context, id uuid.UUID) (*types.Wallet, error) {
	wallet, err := s.wallets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(id.String())
	}
	return wallet, nil
}

// GetPrimaryWallet returns the designated primary wallet for (user, currency,
// tier). A nil userID addresses the pooled exchange wallets.
func (s *Service) GetPrimaryWallet(ctx context.Context, userID *uuid.UUID, currency types.Currency, tier types.Tier) (*types.Wallet, error) {
	if !currency.IsSupported() {
		return nil, apperrors.UnsupportedCurrency(string(currency))
	}
	wallet, err := s.wallets.GetPrimary(ctx, userID, currency, tier)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(fmt.Sprintf("primary %s/%s", currency, tier))
	}
	return wallet, nil
}

// SetPrimary promotes a wallet to primary within its (user, currency, tier)
// scope, demoting the previous primary in the same transaction.
func (s *Service) SetPrimary(ctx context.Context, walletID uuid.UUID) (*types.Wallet, error) {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}
	if wallet.IsPrimary {
		return wallet, nil
	}
	if wallet.Status != types.WalletActive {
		return nil, apperrors.PolicyViolation(
			fmt.Sprintf("cannot promote wallet in status %s", wallet.Status))
	}

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.wallets.ClearPrimaryTx(ctx, tx, wallet.UserID, wallet.Currency, wallet.Tier); err != nil {
			return err
		}
		return s.wallets.SetPrimaryTx(ctx, tx, walletID)
	})
	if err != nil {
		return nil, err
	}
	wallet.IsPrimary = true
	s.cache.invalidate(wallet.Address)
	return wallet, nil
}

// ListWallets returns a user's wallets, optionally filtered.
func (s *Service) ListWallets(ctx context.Context, userID uuid.UUID, filter storage.WalletFilter) ([]*types.Wallet, error) {
	return s.wallets.ListByUser(ctx, userID, filter)
}

// GenerateNextAddress rotates a wallet's receiving address: it derives the
// next sibling on the same chain and registers it as a child wallet linked
// through ParentID. Balances stay on the addresses that received them.
// Multisig wallets do not rotate; their address is fixed by the signer set.
func (s *Service) GenerateNextAddress(ctx context.Context, walletID uuid.UUID) (*types.Wallet, error) {
	parent, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}
	if parent.IsMultisig() {
		return nil, apperrors.PolicyViolation("multisig wallets do not rotate addresses")
	}
	if parent.Status != types.WalletActive {
		return nil, apperrors.WalletIsFrozen(parent.ID.String())
	}

	derived, err := s.hd.DeriveNext(ctx, parent.Currency, parent.Tier, hdkey.Options{})
	if err != nil {
		return nil, err
	}

	child := &types.Wallet{
		ID:             uuid.New(),
		UserID:         parent.UserID,
		Currency:       derived.Currency,
		Network:        derived.Network,
		Tier:           parent.Tier,
		Address:        derived.Address,
		PubKey:         derived.PubKey,
		DerivationPath: derived.Path,
		AddressIndex:   derived.Index,
		ParentID:       &parent.ID,
		Status:         types.WalletActive,
		Balance:        decimal.Zero,
		PendingBalance: decimal.Zero,
		DailyWithdrawn: decimal.Zero,
		DailyResetAt:   s.tiers.Window(),
		RiskScore:      parent.RiskScore,
	}

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return s.wallets.CreateTx(ctx, tx, child)
	})
	if err != nil {
		return nil, err
	}

	s.cache.put(child)
	s.metrics.AddressesDerived.WithLabelValues(string(child.Currency)).Inc()
	s.log.Info("address rotated",
		"parent_id", parent.ID,
		"wallet_id", child.ID,
		"index", child.AddressIndex,
	)
	return child, nil
}

// FindByAddress resolves a deposit address to its wallet, consulting the
// in-process cache first.
func (s *Service) FindByAddress(ctx context.Context, address string) (*types.Wallet, error) {
	if w, ok := s.cache.get(address); ok {
		return w, nil
	}
	wallet, err := s.wallets.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(address)
	}
	s.cache.put(wallet)
	return wallet, nil
}

// RecordDeposit attributes an observed inbound transfer to the wallet that
// owns the address. Deposits below the confirmation threshold land in the
// pending balance; confirmed deposits land in the custody balance and, for
// user wallets, credit the user's trading balance. Frozen wallets still
// receive deposits; the freeze gates only the outbound path.
func (s *Service) RecordDeposit(ctx context.Context, dep *types.Deposit) (*types.Wallet, error) {
	if dep.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("deposit amount must be positive")
	}

	wallet, err := s.FindByAddress(ctx, dep.Address)
	if err != nil {
		return nil, err
	}

	confs := s.confirmations(ctx, dep)
	confirmed := confs >= s.minConfs
	if confirmed {
		if err := s.wallets.AddBalance(ctx, wallet.ID, dep.Amount, decimal.Zero); err != nil {
			return nil, err
		}
		if wallet.UserID != nil {
			if err := s.ledger.Credit(ctx, *wallet.UserID, wallet.Currency, dep.Amount, types.PoolAvailable); err != nil {
				return nil, err
			}
		}
		s.metrics.DepositsCredited.WithLabelValues(string(wallet.Currency)).Inc()
	} else {
		if err := s.wallets.AddBalance(ctx, wallet.ID, decimal.Zero, dep.Amount); err != nil {
			return nil, err
		}
	}

	s.cache.invalidate(wallet.Address)
	s.log.Info("deposit recorded",
		"wallet_id", wallet.ID,
		"tx_id", dep.TxID,
		"amount", dep.Amount.String(),
		"confirmations", confs,
		"confirmed", confirmed,
	)
	return s.wallets.GetByID(ctx, wallet.ID)
}

// confirmations resolves the confirmation count for a deposit. A
// notification that omits the count is looked up through the blockchain
// connector; a failed lookup leaves the deposit pending rather than
// rejecting it.
func (s *Service) confirmations(ctx context.Context, dep *types.Deposit) uint32 {
	if dep.Confirmations > 0 || dep.TxID == "" || s.chain == nil {
		return dep.Confirmations
	}
	n, err := s.chain.GetConfirmations(ctx, dep.TxID)
	if err != nil {
		s.log.Warn("confirmation lookup failed, deposit stays pending",
			"tx_id", dep.TxID, "error", err)
		return 0
	}
	return n
}

// ConfirmDeposit moves a previously pending deposit into the confirmed
// balance once it reaches the confirmation threshold.
func (s *Service) ConfirmDeposit(ctx context.Context, dep *types.Deposit) (*types.Wallet, error) {
	confs := s.confirmations(ctx, dep)
	if confs < s.minConfs {
		return nil, apperrors.Validation(
			fmt.Sprintf("deposit has %d of %d required confirmations", confs, s.minConfs))
	}

	wallet, err := s.FindByAddress(ctx, dep.Address)
	if err != nil {
		return nil, err
	}

	if err := s.wallets.AddBalance(ctx, wallet.ID, dep.Amount, dep.Amount.Neg()); err != nil {
		return nil, err
	}
	if wallet.UserID != nil {
		if err := s.ledger.Credit(ctx, *wallet.UserID, wallet.Currency, dep.Amount, types.PoolAvailable); err != nil {
			return nil, err
		}
	}
	s.metrics.DepositsCredited.WithLabelValues(string(wallet.Currency)).Inc()
	s.cache.invalidate(wallet.Address)
	return s.wallets.GetByID(ctx, wallet.ID)
}
