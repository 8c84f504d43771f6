package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coinharbor/custody/pkg/types"
	"github.com/shopspring/decimal"
)

// TierConfig holds the policy knobs for one custody tier.
type TierConfig struct {
	// Ceiling is the maximum balance the tier should hold before a
	// consolidation sweep is due. Zero means no ceiling (cold storage).
	Ceiling decimal.Decimal

	// DailyLimit caps the total withdrawn from a wallet per UTC day.
	// Zero means withdrawals are not limited by volume.
	DailyLimit decimal.Decimal

	// DefaultRiskScore seeds the risk score of new wallets in this tier.
	DefaultRiskScore int

	// RequiresApproval gates withdrawals behind manual approval; intents from
	// such tiers are emitted for offline signing.
	RequiresApproval bool
}

// Config holds infrastructure-level configuration
type Config struct {
	// Database
	PostgresDSN string

	// Server
	Port       int
	AdminToken string

	// Seed backend: env, vault, or aws-kms
	SeedBackend    string
	SeedMnemonic   string
	SeedPassphrase string

	VaultAddress   string
	VaultToken     string
	VaultSeedMount string
	VaultSeedPath  string

	KMSKeyID     string
	KMSRegion    string
	WrappedSeeds map[types.Currency]string // base64 KMS-wrapped seed per currency

	// Custody policy
	Tiers            map[types.Tier]TierConfig
	DustThreshold    decimal.Decimal
	MinConfirmations uint32
	AuditIntervalDays int

	// Rate limiting (withdrawal endpoint)
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		Port:        getEnvInt("PORT", 8080),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),

		SeedBackend:    getEnv("SEED_BACKEND", "env"),
		SeedMnemonic:   getEnv("SEED_MNEMONIC", ""),
		SeedPassphrase: getEnv("SEED_PASSPHRASE", ""),

		VaultAddress:   getEnv("VAULT_ADDR", ""),
		VaultToken:     getEnv("VAULT_TOKEN", ""),
		VaultSeedMount: getEnv("VAULT_SEED_MOUNT", "secret"),
		VaultSeedPath:  getEnv("VAULT_SEED_PATH", "custody/seeds"),

		KMSKeyID:  getEnv("KMS_KEY_ID", ""),
		KMSRegion: getEnv("KMS_REGION", "us-east-1"),

		DustThreshold:     getEnvDecimal("DUST_THRESHOLD", "0.0001"),
		MinConfirmations:  uint32(getEnvInt("MIN_CONFIRMATIONS", 3)),
		AuditIntervalDays: getEnvInt("AUDIT_INTERVAL_DAYS", 90),

		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	cfg.Tiers = loadTiers()

	cfg.WrappedSeeds = make(map[types.Currency]string)
	for _, c := range types.SupportedCurrencies {
		if v := os.Getenv("WRAPPED_SEED_" + string(c)); v != "" {
			cfg.WrappedSeeds[c] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadTiers reads per-tier overrides on top of conservative defaults.
// Env keys follow TIER_<NAME>_<KNOB>, e.g. TIER_HOT_DAILY_LIMIT.
func loadTiers() map[types.Tier]TierConfig {
	defaults := map[types.Tier]TierConfig{
		types.TierHot: {
			Ceiling:          decimal.RequireFromString("10"),
			DailyLimit:       decimal.RequireFromString("5"),
			DefaultRiskScore: 70,
			RequiresApproval: false,
		},
		types.TierWarm: {
			Ceiling:          decimal.RequireFromString("100"),
			DailyLimit:       decimal.RequireFromString("20"),
			DefaultRiskScore: 40,
			RequiresApproval: false,
		},
		types.TierCold: {
			Ceiling:          decimal.Zero,
			DailyLimit:       decimal.Zero,
			DefaultRiskScore: 10,
			RequiresApproval: true,
		},
		types.TierMultisig: {
			Ceiling:          decimal.Zero,
			DailyLimit:       decimal.Zero,
			DefaultRiskScore: 20,
			RequiresApproval: true,
		},
	}

	tiers := make(map[types.Tier]TierConfig, len(defaults))
	for tier, def := range defaults {
		prefix := "TIER_" + strings.ToUpper(string(tier)) + "_"
		tiers[tier] = TierConfig{
			Ceiling:          getEnvDecimal(prefix+"CEILING", def.Ceiling.String()),
			DailyLimit:       getEnvDecimal(prefix+"DAILY_LIMIT", def.DailyLimit.String()),
			DefaultRiskScore: getEnvInt(prefix+"RISK_SCORE", def.DefaultRiskScore),
			RequiresApproval: getEnvBool(prefix+"REQUIRES_APPROVAL", def.RequiresApproval),
		}
	}
	return tiers
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	switch c.SeedBackend {
	case "env":
		if c.SeedMnemonic == "" {
			return fmt.Errorf("SEED_MNEMONIC is required when SEED_BACKEND is 'env'")
		}
	case "vault":
		if c.VaultAddress == "" || c.VaultToken == "" {
			return fmt.Errorf("VAULT_ADDR and VAULT_TOKEN are required when SEED_BACKEND is 'vault'")
		}
	case "aws-kms":
		if c.KMSKeyID == "" {
			return fmt.Errorf("KMS_KEY_ID is required when SEED_BACKEND is 'aws-kms'")
		}
		if len(c.WrappedSeeds) == 0 {
			return fmt.Errorf("at least one WRAPPED_SEED_<CURRENCY> is required when SEED_BACKEND is 'aws-kms'")
		}
	default:
		return fmt.Errorf("SEED_BACKEND must be 'env', 'vault', or 'aws-kms', got: %s", c.SeedBackend)
	}

	if c.DustThreshold.IsNegative() {
		return fmt.Errorf("DUST_THRESHOLD must not be negative")
	}

	for tier, tc := range c.Tiers {
		if tc.Ceiling.IsNegative() || tc.DailyLimit.IsNegative() {
			return fmt.Errorf("tier %s: ceiling and daily limit must not be negative", tier)
		}
		if tc.DefaultRiskScore < 0 || tc.DefaultRiskScore > 100 {
			return fmt.Errorf("tier %s: risk score must be within [0,100]", tier)
		}
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDecimal gets a decimal environment variable with a default value
func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return value
}
