package seeds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinharbor/custody/pkg/types"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestEnvProvider(t *testing.T) {
	t.Run("derives the standard test vector seed", func(t *testing.T) {
		p, err := NewEnvProvider(testMnemonic, "")
		require.NoError(t, err)

		seed, err := p.Seed(context.Background(), types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.Len(t, seed, 64)
		assert.Equal(t, "env", p.Backend())
	})

	t.Run("currencies get disjoint seeds", func(t *testing.T) {
		p, err := NewEnvProvider(testMnemonic, "")
		require.NoError(t, err)

		seen := make(map[string]types.Currency)
		for _, c := range types.SupportedCurrencies {
			seed, err := p.Seed(context.Background(), c)
			require.NoError(t, err)
			require.Len(t, seed, 64)
			if prev, dup := seen[string(seed)]; dup {
				t.Fatalf("%s and %s share a seed", prev, c)
			}
			seen[string(seed)] = c
		}
	})

	t.Run("seeds are deterministic across instances", func(t *testing.T) {
		a, err := NewEnvProvider(testMnemonic, "")
		require.NoError(t, err)
		b, err := NewEnvProvider(testMnemonic, "")
		require.NoError(t, err)

		seedA, err := a.Seed(context.Background(), types.CurrencyTether)
		require.NoError(t, err)
		seedB, err := b.Seed(context.Background(), types.CurrencyTether)
		require.NoError(t, err)
		assert.Equal(t, seedA, seedB)
	})

	t.Run("passphrase changes the seed", func(t *testing.T) {
		plain, err := NewEnvProvider(testMnemonic, "")
		require.NoError(t, err)
		salted, err := NewEnvProvider(testMnemonic, "TREZOR")
		require.NoError(t, err)

		a, err := plain.Seed(context.Background(), types.CurrencyBitcoin)
		require.NoError(t, err)
		b, err := salted.Seed(context.Background(), types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects invalid mnemonic", func(t *testing.T) {
		_, err := NewEnvProvider("definitely not twelve valid words", "")
		require.Error(t, err)
	})
}

type countingProvider struct {
	calls int
	seed  []byte
}

func (p *countingProvider) Seed(_ context.Context, _ types.Currency) ([]byte, error) {
	p.calls++
	return p.seed, nil
}

func (p *countingProvider) Backend() string { return "counting" }

func TestWithCache(t *testing.T) {
	inner := &countingProvider{seed: make([]byte, 64)}
	cached := WithCache(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seed, err := cached.Seed(ctx, types.CurrencyBitcoin)
		require.NoError(t, err)
		assert.Len(t, seed, 64)
	}
	assert.Equal(t, 1, inner.calls, "backend hit once per currency")

	_, err := cached.Seed(ctx, types.CurrencyEthereum)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	assert.Equal(t, "counting", cached.Backend())
}

func TestValidateSeed(t *testing.T) {
	assert.NoError(t, validateSeed(types.CurrencyBitcoin, make([]byte, 64)))
	assert.Error(t, validateSeed(types.CurrencyBitcoin, make([]byte, 32)))
	assert.Error(t, validateSeed(types.CurrencyBitcoin, nil))
}
