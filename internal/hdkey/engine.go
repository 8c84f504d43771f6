package hdkey

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tyler-smith/go-bip32"

	"github.com/coinharbor/custody/internal/seeds"
	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// MaxAddressIndex is the last allocable non-hardened index on a path.
// Allocation past it is fatal for the path and needs operator intervention.
const MaxAddressIndex = int64(bip32.FirstHardenedChild) - 1

const purposeBIP44 = bip32.FirstHardenedChild + 44

// tierAccount maps each custody tier to its BIP-44 account, so the tiers
// never share derivation coordinates.
var tierAccount = map[types.Tier]uint32{
	types.TierHot:      0,
	types.TierWarm:     1,
	types.TierCold:     2,
	types.TierMultisig: 3,
}

// IndexAllocator reserves monotonically increasing address indexes per
// (currency, path prefix). Implemented by storage.CursorRepository.
type IndexAllocator interface {
	Allocate(ctx context.Context, currency types.Currency, pathPrefix string) (int64, error)
}

// MultisigOptions configures an m-of-n wallet. CosignerKeys are the
// hex-encoded compressed public keys of the independently held co-signers,
// in spending order. The engine contributes exactly one house key; it never
// pads the signer set with additional keys derived from the same seed.
type MultisigOptions struct {
	Threshold    int
	CosignerKeys []string
}

// Options carries optional derivation parameters.
type Options struct {
	Multisig *MultisigOptions
}

// Derivation is the result of deriving the next receiving script.
type Derivation struct {
	Address  string
	PubKey   string // house key, hex compressed
	Path     string
	Index    uint32
	Network  string
	Currency types.Currency

	// Multisig fields; empty for single-sig derivations.
	Threshold  int
	SignerKeys []string // full ordered signer set, house key first
}

// Engine derives deposit and change scripts from per-currency master seeds.
// Derivation is deterministic: the same (currency, path, index) always
// yields the same key pair, which is what makes recovery-from-seed and
// address-reuse detection possible.
type Engine struct {
	seeds   seeds.Provider
	cursors IndexAllocator
}

// NewEngine creates a derivation engine over a seed provider and an index
// allocator.
func NewEngine(seedProvider seeds.Provider, cursors IndexAllocator) *Engine {
	return &Engine{seeds: seedProvider, cursors: cursors}
}

// ValidateMultisig rejects an m-of-n configuration with m < 1 or m > n.
func ValidateMultisig(threshold, signers int) error {
	if threshold < 1 || threshold > signers {
		return apperrors.InvalidMultisigConfig(threshold, signers)
	}
	return nil
}

// PathPrefix returns the receiving-chain path prefix for (currency, tier),
// e.g. m/44'/0'/0'/0.
func (e *Engine) PathPrefix(currency types.Currency, tier types.Tier) (string, error) {
	deriver, err := DeriverFor(currency)
	if err != nil {
		return "", err
	}
	account, ok := tierAccount[tier]
	if !ok {
		return "", apperrors.Validation(fmt.Sprintf("unknown tier: %s", tier))
	}
	return fmt.Sprintf("m/44'/%d'/%d'/0", deriver.CoinType(), account), nil
}

// DeriveNext allocates the next index on the tier's path and derives its
// receiving script. All input validation, including the multisig threshold
// check, happens before the index is allocated so invalid requests burn no
// derivation coordinates.
func (e *Engine) DeriveNext(ctx context.Context, currency types.Currency, tier types.Tier, opts Options) (*Derivation, error) {
	deriver, err := DeriverFor(currency)
	if err != nil {
		return nil, err
	}

	var (
		scriptDeriver ScriptDeriver
		cosignerPubs  []*btcec.PublicKey
	)
	if opts.Multisig != nil {
		sd, ok := deriver.(ScriptDeriver)
		if !ok {
			return nil, apperrors.Validation(
				fmt.Sprintf("currency %s does not support script-based multisig", currency))
		}
		scriptDeriver = sd

		signers := len(opts.Multisig.CosignerKeys) + 1 // house key included
		if err := ValidateMultisig(opts.Multisig.Threshold, signers); err != nil {
			return nil, err
		}

		cosignerPubs = make([]*btcec.PublicKey, 0, len(opts.Multisig.CosignerKeys))
		for _, keyHex := range opts.Multisig.CosignerKeys {
			raw, err := hex.DecodeString(keyHex)
			if err != nil {
				return nil, apperrors.Validation(fmt.Sprintf("cosigner key is not hex: %s", keyHex))
			}
			pub, err := btcec.ParsePubKey(raw)
			if err != nil {
				return nil, apperrors.Validation(fmt.Sprintf("invalid cosigner public key: %v", err))
			}
			cosignerPubs = append(cosignerPubs, pub)
		}
	}

	prefix, err := e.PathPrefix(currency, tier)
	if err != nil {
		return nil, err
	}

	index, err := e.cursors.Allocate(ctx, currency, prefix)
	if err != nil {
		return nil, err
	}
	if index > MaxAddressIndex {
		return nil, apperrors.DerivationExhausted(prefix)
	}

	housePub, err := e.publicKeyAt(ctx, currency, tier, uint32(index))
	if err != nil {
		return nil, err
	}

	d := &Derivation{
		PubKey:   hex.EncodeToString(housePub),
		Path:     prefix,
		Index:    uint32(index),
		Network:  deriver.Network(),
		Currency: currency,
	}

	if opts.Multisig == nil {
		d.Address, err = deriver.DeriveAddress(housePub)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	// House key first, then the cosigners in caller order. Key order is part
	// of the script identity and must stay stable across restores.
	ordered := make([][]byte, 0, len(cosignerPubs)+1)
	ordered = append(ordered, housePub)
	signerKeys := []string{d.PubKey}
	for _, pub := range cosignerPubs {
		serialized := pub.SerializeCompressed()
		ordered = append(ordered, serialized)
		signerKeys = append(signerKeys, hex.EncodeToString(serialized))
	}

	address, _, err := scriptDeriver.MultisigAddress(ordered, opts.Multisig.Threshold)
	if err != nil {
		return nil, err
	}

	d.Address = address
	d.Threshold = opts.Multisig.Threshold
	d.SignerKeys = signerKeys
	return d, nil
}

// DeriveAt re-derives the key at an already-assigned coordinate without
// allocating anything. Used for recovery-from-seed verification.
func (e *Engine) DeriveAt(ctx context.Context, currency types.Currency, tier types.Tier, index uint32) (*types.DerivedAddress, error) {
	deriver, err := DeriverFor(currency)
	if err != nil {
		return nil, err
	}

	prefix, err := e.PathPrefix(currency, tier)
	if err != nil {
		return nil, err
	}

	pub, err := e.publicKeyAt(ctx, currency, tier, index)
	if err != nil {
		return nil, err
	}

	address, err := deriver.DeriveAddress(pub)
	if err != nil {
		return nil, err
	}

	return &types.DerivedAddress{
		Address: address,
		PubKey:  hex.EncodeToString(pub),
		Path:    prefix,
		Index:   index,
	}, nil
}

// publicKeyAt walks m/44'/coin'/account'/0/index under the currency's
// master seed and returns the compressed public key.
func (e *Engine) publicKeyAt(ctx context.Context, currency types.Currency, tier types.Tier, index uint32) ([]byte, error) {
	deriver, err := DeriverFor(currency)
	if err != nil {
		return nil, err
	}

	seed, err := e.seeds.Seed(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("load master seed for %s: %w", currency, err)
	}

	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	key, err := master.DerivePath(
		purposeBIP44,
		bip32.FirstHardenedChild+deriver.CoinType(),
		bip32.FirstHardenedChild+tierAccount[tier],
		0,
		index,
	)
	if err != nil {
		return nil, err
	}

	return key.PublicKeyBytes(), nil
}
