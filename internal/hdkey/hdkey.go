// Package hdkey implements the hierarchical deterministic key derivation
// engine: BIP-32 child keys along BIP-44 paths, per-currency address
// encoding, and m-of-n multisig script construction.
package hdkey

import (
	"fmt"

	"github.com/tyler-smith/go-bip32"
)

// SeedSize is the required master seed length (BIP-39 output).
const SeedSize = 64

// HDKey wraps a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// PrivateKeyBytes returns the raw 32-byte private key, or nil for a
// public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Neuter returns a public-key-only copy (for watch-only use).
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
