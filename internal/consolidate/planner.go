package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/logger"
	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/storage"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// WalletLister is the wallet read surface the planner needs. Implemented by
// storage.WalletRepository.
type WalletLister interface {
	ListActive(ctx context.Context, userID *uuid.UUID, currency types.Currency) ([]*types.Wallet, error)
	GetPrimary(ctx context.Context, userID *uuid.UUID, currency types.Currency, tier types.Tier) (*types.Wallet, error)
}

// IntentWriter persists a plan's sweeps as transfer intents. Implemented by
// storage.TransferRepository.
type IntentWriter interface {
	CreateBatchTx(ctx context.Context, db storage.DBTX, intents []*types.TransferIntent) error
}

// TxRunner runs a function inside a database transaction. Implemented by
// storage.Store.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Planner builds consolidation plans that sweep scattered balances into a
// target tier's primary wallet. Planning is read-only; Execute turns a plan
// into pending transfer intents for the signer.
type Planner struct {
	wallets WalletLister
	intents IntentWriter
	tx      TxRunner
	tiers   *policy.Tiers
	metrics *metrics.Metrics
	log     *slog.Logger
	dust    decimal.Decimal
	now     func() time.Time
}

// NewPlanner creates a consolidation planner
func NewPlanner(
	wallets WalletLister,
	intents IntentWriter,
	tx TxRunner,
	tiers *policy.Tiers,
	m *metrics.Metrics,
	dustThreshold decimal.Decimal,
) *Planner {
	return &Planner{
		wallets: wallets,
		intents: intents,
		tx:      tx,
		tiers:   tiers,
		metrics: m,
		log:     logger.Component("consolidate"),
		dust:    dustThreshold,
		now:     time.Now,
	}
}

// Plan proposes sweeps of every active wallet of the currency into the
// target tier's primary wallet. A nil userID plans over the operator pool;
// a non-nil userID scopes both the sink lookup and the sources to that
// user's wallets. Wallets at or below the dust threshold are skipped:
// sweeping them would cost more in fees than they hold. The sink itself and
// empty wallets are never sources.
func (p *Planner) Plan(ctx context.Context, userID *uuid.UUID, currency types.Currency, targetTier types.Tier) (*types.ConsolidationPlan, error) {
	if !currency.IsSupported() {
		return nil, apperrors.UnsupportedCurrency(string(currency))
	}
	if _, err := p.tiers.For(targetTier); err != nil {
		return nil, err
	}

	sink, err := p.wallets.GetPrimary(ctx, userID, currency, targetTier)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, apperrors.WalletNotFound(fmt.Sprintf("primary %s/%s", currency, targetTier))
	}

	sources, err := p.wallets.ListActive(ctx, userID, currency)
	if err != nil {
		return nil, err
	}

	plan := &types.ConsolidationPlan{
		Currency:     currency,
		TargetTier:   targetTier,
		SinkWalletID: sink.ID,
		SinkAddress:  sink.Address,
		PlannedAt:    p.now().UTC(),
	}

	for _, w := range sources {
		if w.ID == sink.ID || w.Tier == targetTier {
			continue
		}
		if w.Balance.IsZero() || w.Balance.IsNegative() {
			continue
		}
		if w.Balance.LessThanOrEqual(p.dust) {
			plan.SkippedAsDust++
			continue
		}
		plan.Sweeps = append(plan.Sweeps, types.PlannedSweep{
			SourceWalletID: w.ID,
			SourceAddress:  w.Address,
			Amount:         w.Balance,
		})
	}

	p.log.Info("consolidation planned",
		"currency", currency,
		"target_tier", targetTier,
		"sweeps", len(plan.Sweeps),
		"skipped_dust", plan.SkippedAsDust,
		"total", plan.TotalAmount().String(),
	)
	return plan, nil
}

// PlanOverflow proposes sweeps only for wallets whose balance exceeds their
// tier ceiling, moving the excess down to the target tier. This is the
// periodic hot-ceiling enforcement pass.
func (p *Planner) PlanOverflow(ctx context.Context, userID *uuid.UUID, currency types.Currency, targetTier types.Tier) (*types.ConsolidationPlan, error) {
	plan, err := p.Plan(ctx, userID, currency, targetTier)
	if err != nil {
		return nil, err
	}

	sources, err := p.wallets.ListActive(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	overflow := make(map[uuid.UUID]decimal.Decimal, len(sources))
	for _, w := range sources {
		if !p.tiers.ExceedsCeiling(w) {
			continue
		}
		tc, err := p.tiers.For(w.Tier)
		if err != nil {
			continue
		}
		overflow[w.ID] = w.Balance.Sub(tc.Ceiling)
	}

	trimmed := plan.Sweeps[:0]
	for _, sweep := range plan.Sweeps {
		excess, ok := overflow[sweep.SourceWalletID]
		if !ok || excess.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if excess.LessThanOrEqual(p.dust) {
			plan.SkippedAsDust++
			continue
		}
		sweep.Amount = excess
		trimmed = append(trimmed, sweep)
	}
	plan.Sweeps = trimmed
	return plan, nil
}

// Execute converts a plan into pending transfer intents, all persisted in
// one transaction so a partially-written plan can never reach the signer.
func (p *Planner) Execute(ctx context.Context, plan *types.ConsolidationPlan) ([]*types.TransferIntent, error) {
	if plan == nil || len(plan.Sweeps) == 0 {
		return nil, nil
	}

	offline := p.tiers.RequiresOfflineSigning(plan.TargetTier)
	intents := make([]*types.TransferIntent, 0, len(plan.Sweeps))
	for _, sweep := range plan.Sweeps {
		sink := plan.SinkWalletID
		intents = append(intents, &types.TransferIntent{
			ID:             uuid.New(),
			Currency:       plan.Currency,
			FromWalletID:   sweep.SourceWalletID,
			FromAddress:    sweep.SourceAddress,
			ToWalletID:     &sink,
			ToAddress:      plan.SinkAddress,
			Amount:         sweep.Amount,
			Status:         types.IntentPending,
			OfflineSigning: offline,
		})
	}

	err := p.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return p.intents.CreateBatchTx(ctx, tx, intents)
	})
	if err != nil {
		return nil, err
	}

	p.metrics.ConsolidationSweeps.WithLabelValues(string(plan.Currency)).Add(float64(len(intents)))
	p.log.Info("consolidation executed",
		"currency", plan.Currency,
		"intents", len(intents),
		"sink_wallet_id", plan.SinkWalletID,
	)
	return intents, nil
}
