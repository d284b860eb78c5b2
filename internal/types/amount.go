package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// Uint64String is an unsigned amount that NEAR contracts may serialize either as
// a JSON string or as a JSON number. It always marshals back as a string.
type Uint64String uint64

// UnmarshalJSON accepts "123", 123 and null
func (u *Uint64String) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			*u = 0
			return nil
		}
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	*u = Uint64String(v)
	return nil
}

// MarshalJSON encodes the amount as a decimal string
func (u Uint64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

// String returns the decimal representation
func (u Uint64String) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// ParseBigAmount parses a base-10 u128 amount; an empty string is zero
func ParseBigAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	return v, nil
}

// UnitsToBase converts a whole-unit value (e.g. 0.5 NEAR) to base units for the given decimals
func UnitsToBase(whole *big.Rat, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(whole, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
