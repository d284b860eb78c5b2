package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
)

// Key types of a NEAR PublicKey
const (
	KeyTypeED25519   uint8 = 0
	KeyTypeSECP256K1 uint8 = 1
)

// PublicKey is a NEAR public key
type PublicKey struct {
	KeyType uint8
	Data    []byte
}

// String returns the "<curve>:<base58>" form used by NEAR RPC
func (pk PublicKey) String() string {
	prefix := "ed25519"
	if pk.KeyType == KeyTypeSECP256K1 {
		prefix = "secp256k1"
	}
	return prefix + ":" + base58.Encode(pk.Data)
}

// ParsePublicKey parses "ed25519:<base58>" or "secp256k1:<base58>"
func ParsePublicKey(s string) (PublicKey, error) {
	curve, encoded, ok := strings.Cut(s, ":")
	if !ok {
		curve, encoded = "ed25519", s
	}

	data, err := base58.Decode(encoded)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid public key encoding: %w", err)
	}

	switch curve {
	case "ed25519":
		if len(data) != 32 {
			return PublicKey{}, fmt.Errorf("ed25519 public key must be 32 bytes, got %d", len(data))
		}
		return PublicKey{KeyType: KeyTypeED25519, Data: data}, nil
	case "secp256k1":
		if len(data) != 64 {
			return PublicKey{}, fmt.Errorf("secp256k1 public key must be 64 bytes, got %d", len(data))
		}
		return PublicKey{KeyType: KeyTypeSECP256K1, Data: data}, nil
	default:
		return PublicKey{}, fmt.Errorf("unsupported key type %q", curve)
	}
}

// PublicKeyFromBTC converts a hex BTC public key (compressed or not) into the
// secp256k1 NEAR access key of its chain signature account.
func PublicKeyFromBTC(btcPublicKeyHex string) (PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(btcPublicKeyHex, "0x"))
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid btc public key hex: %w", err)
	}

	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid btc public key: %w", err)
	}

	// drop the 0x04 prefix of the uncompressed encoding
	return PublicKey{KeyType: KeyTypeSECP256K1, Data: pub.SerializeUncompressed()[1:]}, nil
}
