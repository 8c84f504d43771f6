package hdkey

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/coinharbor/custody/pkg/errors"
	"github.com/coinharbor/custody/pkg/types"
)

// Deriver is the per-currency derivation capability. Adding a currency means
// registering a new Deriver, not editing a conditional.
type Deriver interface {
	// CoinType is the BIP-44 coin type for the currency's derivation path.
	CoinType() uint32

	// Network names the chain the derived addresses live on.
	Network() string

	// DeriveAddress encodes a receiving address for a compressed
	// secp256k1 public key.
	DeriveAddress(compressedPub []byte) (string, error)
}

// ScriptDeriver is implemented by currencies that support pay-to-script
// addresses, which is what m-of-n multisig wallets require.
type ScriptDeriver interface {
	Deriver

	// MultisigAddress builds the m-of-n redeem script over the ordered
	// signer keys and encodes its P2SH address.
	MultisigAddress(orderedPubs [][]byte, threshold int) (address string, script []byte, err error)
}

// litecoinParams carries only the address version bytes; btcutil address
// constructors read nothing else from the params.
var litecoinParams = &chaincfg.Params{
	Name:             "litecoin",
	PubKeyHashAddrID: 0x30,
	ScriptHashAddrID: 0x32,
}

type btcDeriver struct {
	coinType uint32
	network  string
	params   *chaincfg.Params
}

func (d *btcDeriver) CoinType() uint32 { return d.coinType }
func (d *btcDeriver) Network() string  { return d.network }

func (d *btcDeriver) DeriveAddress(compressedPub []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(compressedPub), d.params)
	if err != nil {
		return "", fmt.Errorf("encode p2pkh address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

func (d *btcDeriver) MultisigAddress(orderedPubs [][]byte, threshold int) (string, []byte, error) {
	addrPubs := make([]*btcutil.AddressPubKey, 0, len(orderedPubs))
	for _, pub := range orderedPubs {
		apk, err := btcutil.NewAddressPubKey(pub, d.params)
		if err != nil {
			return "", nil, fmt.Errorf("parse signer public key: %w", err)
		}
		addrPubs = append(addrPubs, apk)
	}

	script, err := txscript.MultiSigScript(addrPubs, threshold)
	if err != nil {
		return "", nil, fmt.Errorf("build multisig script: %w", err)
	}

	addr, err := btcutil.NewAddressScriptHash(script, d.params)
	if err != nil {
		return "", nil, fmt.Errorf("encode p2sh address: %w", err)
	}
	return addr.EncodeAddress(), script, nil
}

type ethDeriver struct {
	network string
}

func (d *ethDeriver) CoinType() uint32 { return 60 }
func (d *ethDeriver) Network() string  { return d.network }

func (d *ethDeriver) DeriveAddress(compressedPub []byte) (string, error) {
	pub, err := btcec.ParsePubKey(compressedPub)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
}

// derivers maps each supported currency variant to its derivation strategy.
// Tether settles on Ethereum, so it shares the Ethereum address space.
var derivers = map[types.Currency]Deriver{
	types.CurrencyBitcoin: &btcDeriver{
		coinType: 0,
		network:  "bitcoin-mainnet",
		params:   &chaincfg.MainNetParams,
	},
	types.CurrencyLitecoin: &btcDeriver{
		coinType: 2,
		network:  "litecoin-mainnet",
		params:   litecoinParams,
	},
	types.CurrencyEthereum: &ethDeriver{network: "ethereum-mainnet"},
	types.CurrencyTether:   &ethDeriver{network: "ethereum-mainnet"},
}

// DeriverFor returns the derivation strategy for a currency.
func DeriverFor(currency types.Currency) (Deriver, error) {
	d, ok := derivers[currency]
	if !ok {
		return nil, apperrors.UnsupportedCurrency(string(currency))
	}
	return d, nil
}
