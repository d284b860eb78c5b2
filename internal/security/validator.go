package security

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Validator checks user-supplied identifiers and amounts before any chain query
type Validator struct {
	params *chaincfg.Params
}

// NewValidator creates a validator for the environment's BTC network
func NewValidator(env types.EnvConfig) *Validator {
	params := &chaincfg.TestNet3Params
	if env.IsMainnet() {
		params = &chaincfg.MainNetParams
	}
	return &Validator{params: params}
}

// BTCPublicKey checks a hex-encoded compressed or uncompressed secp256k1 key
func (v *Validator) BTCPublicKey(publicKey string) error {
	if publicKey == "" {
		return types.ErrAccountDerivation
	}
	raw, err := hex.DecodeString(publicKey)
	if err != nil {
		return fmt.Errorf("%w: public key is not hex", types.ErrAccountDerivation)
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return fmt.Errorf("%w: %v", types.ErrAccountDerivation, err)
	}
	return nil
}

// BTCAddress checks that address decodes on the environment's network
func (v *Validator) BTCAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, v.params)
	if err != nil {
		return fmt.Errorf("invalid btc address %q: %w", address, err)
	}
	if !addr.IsForNet(v.params) {
		return fmt.Errorf("btc address %q is not for %s", address, v.params.Name)
	}
	return nil
}

// Amount parses a positive satoshi amount
func (v *Validator) Amount(amount string) (uint64, error) {
	value, err := strconv.ParseUint(amount, 10, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidAmount, amount)
	}
	return value, nil
}
