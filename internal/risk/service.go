package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coinharbor/custody/internal/logger"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// WalletAuditStore is the slice of wallet persistence the audit recorder
// needs. Implemented by storage.WalletRepository.
type WalletAuditStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Wallet, error)
	UpdateAudit(ctx context.Context, id uuid.UUID, lastAudit, nextAudit time.Time, riskScore int) error
}

// NoteStore is append-only; notes are never edited or deleted. Implemented
// by storage.AuditNoteRepository.
type NoteStore interface {
	Append(ctx context.Context, note *types.AuditNote) error
}

// Service records audits and maintains wallet risk scores.
type Service struct {
	wallets  WalletAuditStore
	notes    NoteStore
	tiers    TierScorer
	emitter  Emitter
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates the risk/audit service. interval is the configured gap
// between audits; now is injectable for tests (nil for the wall clock).
func NewService(wallets WalletAuditStore, notes NoteStore, tiers TierScorer, emitter Emitter, interval time.Duration, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		wallets:  wallets,
		notes:    notes,
		tiers:    tiers,
		emitter:  emitter,
		interval: interval,
		now:      now,
		log:      logger.Component("risk"),
	}
}

// RecordAudit stores the audit outcome: last/next audit timestamps, the
// recomputed risk score, and an immutable trail note.
func (s *Service) RecordAudit(ctx context.Context, walletID uuid.UUID, result types.AuditResult, actor, note string) (*types.AuditNote, error) {
	if actor == "" {
		return nil, apperrors.Validation("audit actor is required")
	}

	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(walletID.String())
	}

	now := s.now()
	nextDue := now.Add(s.interval)

	// Score against the post-audit state of the wallet.
	audited := *wallet
	audited.LastAuditAt = &now
	audited.NextAuditAt = &nextDue
	newScore := Score(&audited, s.tiers, now)

	if err := s.wallets.UpdateAudit(ctx, walletID, now, nextDue, newScore); err != nil {
		return nil, err
	}

	trail := &types.AuditNote{
		ID:       uuid.New(),
		WalletID: walletID,
		Actor:    actor,
		Result:   result,
		Note:     note,
	}
	if err := s.notes.Append(ctx, trail); err != nil {
		return nil, err
	}

	s.emitter.AuditRecorded(ctx, wallet, result)
	if newScore != wallet.RiskScore {
		s.emitter.RiskScoreChanged(ctx, wallet, wallet.RiskScore, newScore)
	}

	s.log.Info("audit recorded",
		"wallet_id", walletID,
		"result", result,
		"risk_score", newScore,
		"next_due", nextDue,
	)

	return trail, nil
}

// NotifyOverdue emits audit-due events for every wallet whose next audit
// timestamp has passed. Called by the scheduled compliance sweep.
func (s *Service) NotifyOverdue(ctx context.Context, wallets []*types.Wallet) int {
	now := s.now()
	overdue := 0
	for _, w := range wallets {
		if w.NextAuditAt != nil && now.After(*w.NextAuditAt) {
			s.emitter.AuditDue(ctx, w)
			overdue++
		}
	}
	return overdue
}
