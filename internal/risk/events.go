package risk

import (
	"context"
	"log/slog"

	"github.com/coinharbor/custody/internal/logger"
	"github.com/coinharbor/custody/pkg/types"
)

// Emitter delivers custody events to the external compliance subsystem.
// Implementations must not block; the custody mutation has already committed
// by the time an event fires.
type Emitter interface {
	WalletFrozen(ctx context.Context, w *types.Wallet, reason, actor string)
	WalletUnfrozen(ctx context.Context, w *types.Wallet, actor string)
	AuditRecorded(ctx context.Context, w *types.Wallet, result types.AuditResult)
	AuditDue(ctx context.Context, w *types.Wallet)
	RiskScoreChanged(ctx context.Context, w *types.Wallet, oldScore, newScore int)
}

// LogEmitter is the default Emitter: it writes each event as a structured
// log line that the compliance pipeline tails.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter creates a log-backed event emitter
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{log: logger.Component("compliance")}
}

// WalletFrozen reports a freeze transition
func (e *LogEmitter) WalletFrozen(_ context.Context, w *types.Wallet, reason, actor string) {
	e.log.Warn("wallet frozen",
		"wallet_id", w.ID,
		"address", w.Address,
		"currency", w.Currency,
		"reason", reason,
		"actor", actor,
	)
}

// WalletUnfrozen reports an unfreeze transition
func (e *LogEmitter) WalletUnfrozen(_ context.Context, w *types.Wallet, actor string) {
	e.log.Info("wallet unfrozen",
		"wallet_id", w.ID,
		"address", w.Address,
		"currency", w.Currency,
		"actor", actor,
	)
}

// AuditRecorded reports a completed wallet audit
func (e *LogEmitter) AuditRecorded(_ context.Context, w *types.Wallet, result types.AuditResult) {
	e.log.Info("wallet audit recorded",
		"wallet_id", w.ID,
		"address", w.Address,
		"result", result,
	)
}

// AuditDue reports a wallet whose audit window has lapsed
func (e *LogEmitter) AuditDue(_ context.Context, w *types.Wallet) {
	e.log.Warn("wallet audit due",
		"wallet_id", w.ID,
		"address", w.Address,
		"next_audit_at", w.NextAuditAt,
	)
}

// RiskScoreChanged reports a recomputed risk score
func (e *LogEmitter) RiskScoreChanged(_ context.Context, w *types.Wallet, oldScore, newScore int) {
	e.log.Info("wallet risk score changed",
		"wallet_id", w.ID,
		"address", w.Address,
		"old_score", oldScore,
		"new_score", newScore,
	)
}
