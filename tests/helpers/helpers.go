// Package helpers provides shared test scaffolding.
package helpers

import (
	"github.com/shopspring/decimal"

	"github.com/coinharbor/custody/internal/config"
	"github.com/coinharbor/custody/pkg/types"
)

// TierConfigs returns a tier policy table with round-number limits suitable
// for asserting against: hot holds up to 10 with a daily limit of 5, warm
// up to 100 with a daily limit of 50, cold is unbounded and offline.
func TierConfigs() map[types.Tier]config.TierConfig {
	return map[types.Tier]config.TierConfig{
		types.TierHot: {
			Ceiling:          decimal.RequireFromString("10"),
			DailyLimit:       decimal.RequireFromString("5"),
			DefaultRiskScore: 10,
		},
		types.TierWarm: {
			Ceiling:          decimal.RequireFromString("100"),
			DailyLimit:       decimal.RequireFromString("50"),
			DefaultRiskScore: 20,
		},
		types.TierCold: {
			DefaultRiskScore: 5,
			RequiresApproval: true,
		},
		types.TierMultisig: {
			DailyLimit:       decimal.RequireFromString("200"),
			DefaultRiskScore: 15,
			RequiresApproval: true,
		},
	}
}
