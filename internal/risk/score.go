// Package risk computes wallet risk scores and records compliance audits.
package risk

import (
	"time"

	"github.com/coinharbor/custody/pkg/types"
)

// Score penalties on top of the tier's base score.
const (
	penaltyNoBackup     = 10
	penaltyNeverAudited = 15
	penaltyAuditOverdue = 15
	penaltyCompromised  = 30
)

// TierScorer supplies the base risk score per tier. Satisfied by
// policy.Tiers.
type TierScorer interface {
	DefaultRiskScore(tier types.Tier) int
}

// Score computes a wallet's risk score in [0,100]. It is a pure function of
// the wallet's tier, backup-verification status, and audit recency: calling
// it mutates nothing and it always returns the same score for the same
// inputs and clock reading.
func Score(w *types.Wallet, tiers TierScorer, now time.Time) int {
	score := tiers.DefaultRiskScore(w.Tier)

	if !w.BackupVerified {
		score += penaltyNoBackup
	}

	switch {
	case w.LastAuditAt == nil:
		score += penaltyNeverAudited
	case w.NextAuditAt != nil && now.After(*w.NextAuditAt):
		score += penaltyAuditOverdue
	}

	if w.Status == types.WalletCompromised {
		score += penaltyCompromised
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
