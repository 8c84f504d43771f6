package seeds

import (
	"context"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/coinharbor/custody/pkg/types"
)

// EnvProvider derives master seeds from a BIP-39 mnemonic held in the
// environment. All currencies share one mnemonic, but each currency's seed
// is expanded separately: Ethereum and Tether share an address space and a
// BIP-44 coin type, so handing them the same seed would derive colliding
// addresses at equal coordinates.
type EnvProvider struct {
	master []byte
}

// NewEnvProvider validates the mnemonic and precomputes the shared master
// seed the per-currency seeds are expanded from.
func NewEnvProvider(mnemonic, passphrase string) (*EnvProvider, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid BIP-39 mnemonic")
	}
	return &EnvProvider{master: bip39.NewSeed(mnemonic, passphrase)}, nil
}

// Seed expands the currency's 64-byte seed from the master seed via HKDF
// keyed by the currency symbol.
func (p *EnvProvider) Seed(_ context.Context, currency types.Currency) ([]byte, error) {
	seed := make([]byte, 64)
	r := hkdf.New(sha512.New, p.master, nil, []byte("custody seed v1 "+string(currency)))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("expand seed for %s: %w", currency, err)
	}
	if err := validateSeed(currency, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// Backend returns the backend name.
func (p *EnvProvider) Backend() string {
	return string(BackendEnv)
}
