package transaction

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	bin "github.com/gagliardetto/binary"
	"github.com/mr-tron/base58"
)

// Borsh enum tags of NEAR actions
const (
	actionTagFunctionCall uint8 = 2
	actionTagTransfer     uint8 = 3
)

// Unsigned is a NEAR transaction before signing
type Unsigned struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []types.Action
}

var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Serialize encodes the transaction in NEAR's Borsh layout
func (tx *Unsigned) Serialize() ([]byte, error) {
	if tx.SignerID == "" || tx.ReceiverID == "" {
		return nil, fmt.Errorf("signer and receiver are required")
	}

	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)

	if err := writeString(enc, tx.SignerID); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(tx.PublicKey.KeyType); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(tx.PublicKey.Data, false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(tx.Nonce, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := writeString(enc, tx.ReceiverID); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(tx.BlockHash[:], false); err != nil {
		return nil, err
	}

	if err := enc.WriteUint32(uint32(len(tx.Actions)), binary.LittleEndian); err != nil {
		return nil, err
	}
	for i, action := range tx.Actions {
		if err := writeAction(enc, action); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

func writeAction(enc *bin.Encoder, action types.Action) error {
	deposit, err := parseU128(action.Params.Deposit)
	if err != nil {
		return fmt.Errorf("invalid deposit: %w", err)
	}

	switch action.Type {
	case types.ActionFunctionCall:
		gas, err := parseU128(action.Params.Gas)
		if err != nil || !gas.IsUint64() {
			return fmt.Errorf("invalid gas %q", action.Params.Gas)
		}
		args := []byte(action.Params.Args)
		if len(args) == 0 {
			args = []byte("{}")
		}
		if err := enc.WriteUint8(actionTagFunctionCall); err != nil {
			return err
		}
		if err := writeString(enc, action.Params.MethodName); err != nil {
			return err
		}
		if err := writeBytes(enc, args); err != nil {
			return err
		}
		if err := enc.WriteUint64(gas.Uint64(), binary.LittleEndian); err != nil {
			return err
		}
		return writeU128(enc, deposit)
	case types.ActionTransfer:
		if err := enc.WriteUint8(actionTagTransfer); err != nil {
			return err
		}
		return writeU128(enc, deposit)
	default:
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// writeBytes writes a u32 length prefix followed by b
func writeBytes(enc *bin.Encoder, b []byte) error {
	if err := enc.WriteUint32(uint32(len(b)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes(b, false)
}

func writeString(enc *bin.Encoder, s string) error {
	return writeBytes(enc, []byte(s))
}

// writeU128 writes v as 16 little-endian bytes
func writeU128(enc *bin.Encoder, v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(maxU128) > 0 {
		return fmt.Errorf("value %s does not fit in u128", v.String())
	}
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	return enc.WriteUint128(bin.Uint128{Lo: lo.Uint64(), Hi: hi.Uint64()}, binary.LittleEndian)
}

// Encode serializes tx and derives its hex form and base58 hash
func Encode(tx *Unsigned) (types.EncodedTransaction, error) {
	data, err := tx.Serialize()
	if err != nil {
		return types.EncodedTransaction{}, err
	}

	hash := sha256.Sum256(data)
	return types.EncodedTransaction{
		TxBytes: data,
		TxHex:   hex.EncodeToString(data),
		Hash:    base58.Encode(hash[:]),
		Nonce:   tx.Nonce,
	}, nil
}

// DecodeBlockHash decodes a base58 NEAR block hash
func DecodeBlockHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("invalid block hash: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("block hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
