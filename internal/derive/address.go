package derive

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Chain identifiers understood by the derivation service.
const (
	ChainBitcoin  = "bitcoin"
	ChainDogecoin = "dogecoin"
)

// Dogecoin address parameters. Only the base58 version bytes are used.
var (
	DogecoinMainNetParams = chaincfg.Params{
		Name:             "dogecoin-mainnet",
		PubKeyHashAddrID: 0x1e,
		ScriptHashAddrID: 0x16,
		PrivateKeyID:     0x9e,
	}
	DogecoinTestNetParams = chaincfg.Params{
		Name:             "dogecoin-testnet",
		PubKeyHashAddrID: 0x71,
		ScriptHashAddrID: 0xc4,
		PrivateKeyID:     0xf1,
	}
)

// ChainParams returns the address parameters for chain on network
// ("mainnet" or "testnet").
func ChainParams(chain, network string) (*chaincfg.Params, error) {
	mainnet := network == "mainnet"
	switch chain {
	case ChainBitcoin:
		if mainnet {
			return &chaincfg.MainNetParams, nil
		}
		return &chaincfg.TestNet3Params, nil
	case ChainDogecoin:
		if mainnet {
			return &DogecoinMainNetParams, nil
		}
		return &DogecoinTestNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChain, chain)
	}
}

// ValidateReceiver checks that addr is a pay-to-pubkey-hash address for
// params. Claim transactions only pay to P2PKH outputs, so segwit and
// script-hash receivers are rejected.
func ValidateReceiver(addr string, params *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidReceiver, addr, err)
	}
	if _, ok := decoded.(*btcutil.AddressPubKeyHash); !ok {
		return fmt.Errorf("%w %q: not a pay-to-pubkey-hash address", ErrInvalidReceiver, addr)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("%w %q: not a %s address", ErrInvalidReceiver, addr, params.Name)
	}
	return nil
}

// ParseFunderKey parses a hex-encoded secp256k1 public key, compressed or
// uncompressed.
func ParseFunderKey(pubKeyHex string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// FundingAddress returns the P2PKH address the contract spends from for
// the funder key. The key is hashed in its uncompressed form, which is how
// the contract serializes it.
func FundingAddress(pubKeyHex string, params *chaincfg.Params) (string, error) {
	pub, err := ParseFunderKey(pubKeyHex)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeUncompressed()), params)
	if err != nil {
		return "", fmt.Errorf("funding address: %w", err)
	}
	return addr.EncodeAddress(), nil
}
