package seeds

import (
	"context"
	"encoding/hex"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/coinharbor/custody/pkg/types"
)

// VaultProvider reads per-currency master seeds from a Vault KV-v2 mount.
// Each currency has its own secret at <mount>/data/<path>/<currency> with a
// hex-encoded "seed" field, so compromising one currency's seed does not
// expose the others.
type VaultProvider struct {
	client *vault.Client
	mount  string
	path   string
}

// VaultConfig contains configuration for the Vault seed backend
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
	Path    string
}

// NewVaultProvider creates a Vault-backed seed provider
func NewVaultProvider(cfg *VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" || cfg.Token == "" {
		return nil, fmt.Errorf("vault address and token are required")
	}

	client, err := vault.NewClient(&vault.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultProvider{
		client: client,
		mount:  cfg.Mount,
		path:   cfg.Path,
	}, nil
}

// Seed reads and decodes the currency's master seed.
func (p *VaultProvider) Seed(ctx context.Context, currency types.Currency) ([]byte, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, fmt.Sprintf("%s/%s", p.path, currency))
	if err != nil {
		return nil, fmt.Errorf("read seed from vault: %w", err)
	}

	raw, ok := secret.Data["seed"].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret for %s has no 'seed' field", currency)
	}

	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("seed for %s is not valid hex: %w", currency, err)
	}

	if err := validateSeed(currency, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// Backend returns the backend name.
func (p *VaultProvider) Backend() string {
	return string(BackendVault)
}
