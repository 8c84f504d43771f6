// Package seeds supplies per-currency master seeds to the derivation engine.
// Different backends (env mnemonic, HashiCorp Vault, AWS KMS-wrapped blobs)
// implement one Provider interface so the engine never knows where key
// material lives.
package seeds

import (
	"context"
	"fmt"
	"sync"

	"github.com/coinharbor/custody/pkg/types"
)

// Provider resolves the master seed for a currency.
type Provider interface {
	// Seed returns the 64-byte BIP-39 master seed for the currency.
	Seed(ctx context.Context, currency types.Currency) ([]byte, error)

	// Backend returns the backend name (e.g. "env", "vault", "aws-kms").
	Backend() string
}

// BackendType represents supported seed backends
type BackendType string

const (
	// BackendEnv reads a BIP-39 mnemonic from the environment
	// (development and single-operator deployments).
	BackendEnv BackendType = "env"

	// BackendVault reads hex seeds from a Vault KV-v2 mount.
	BackendVault BackendType = "vault"

	// BackendKMS decrypts KMS-wrapped seed blobs.
	BackendKMS BackendType = "aws-kms"
)

// caching wraps a Provider and memoizes resolved seeds so derivation never
// performs backend I/O more than once per currency per process.
type caching struct {
	inner Provider

	mu    sync.Mutex
	seeds map[types.Currency][]byte
}

// WithCache memoizes seeds resolved by the inner provider.
func WithCache(inner Provider) Provider {
	return &caching{inner: inner, seeds: make(map[types.Currency][]byte)}
}

func (c *caching) Seed(ctx context.Context, currency types.Currency) ([]byte, error) {
	c.mu.Lock()
	if seed, ok := c.seeds[currency]; ok {
		c.mu.Unlock()
		return seed, nil
	}
	c.mu.Unlock()

	// Backend call happens outside the cache lock; concurrent misses may
	// fetch twice, the result is identical.
	seed, err := c.inner.Seed(ctx, currency)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.seeds[currency] = seed
	c.mu.Unlock()
	return seed, nil
}

func (c *caching) Backend() string {
	return c.inner.Backend()
}

func validateSeed(currency types.Currency, seed []byte) error {
	if len(seed) != 64 {
		return fmt.Errorf("seed for %s must be 64 bytes, got %d", currency, len(seed))
	}
	return nil
}
