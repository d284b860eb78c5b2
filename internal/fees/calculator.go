package fees

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
)

// NewAccountMinDepositAmount is the surcharge (satoshis) on the first deposit of a new account
const NewAccountMinDepositAmount uint64 = 1000

// DepositBreakdown is the fee split of a BTC deposit, all in satoshis
type DepositBreakdown struct {
	ReceiveAmount              uint64 `json:"receive_amount"`
	ProtocolFee                uint64 `json:"protocol_fee"`
	RepayAmount                uint64 `json:"repay_amount"`
	NewAccountMinDepositAmount uint64 `json:"new_account_min_deposit_amount"`
	MinDepositAmount           uint64 `json:"min_deposit_amount"`
}

// DepositOptions carries the account-dependent inputs of a deposit quote
type DepositOptions struct {
	RepayAmount uint64
	// ChargeNewAccount adds NewAccountMinDepositAmount to the minimum
	ChargeNewAccount bool
}

// BridgeFee returns max(fee_min, ceil(amount × fee_rate))
func BridgeFee(amount uint64, fee types.BridgeFee) uint64 {
	rated := ceilRate(amount, fee.FeeRate)
	if min := uint64(fee.FeeMin); rated < min {
		return min
	}
	return rated
}

// CalculateDeposit computes protocol fee, repay, minimum and received amounts
func CalculateDeposit(amount uint64, cfg *types.BridgeConfig, opts DepositOptions) DepositBreakdown {
	breakdown := DepositBreakdown{
		ProtocolFee: BridgeFee(amount, cfg.DepositBridgeFee),
		RepayAmount: opts.RepayAmount,
	}
	if opts.ChargeNewAccount {
		breakdown.NewAccountMinDepositAmount = NewAccountMinDepositAmount
	}

	breakdown.MinDepositAmount = uint64(cfg.MinDepositAmount) +
		breakdown.NewAccountMinDepositAmount +
		breakdown.ProtocolFee +
		breakdown.RepayAmount

	deductions := breakdown.ProtocolFee + breakdown.RepayAmount
	if amount > deductions {
		breakdown.ReceiveAmount = amount - deductions
	}

	return breakdown
}

// ValidateDeposit rejects amounts below the computed minimum, naming the minimum
func ValidateDeposit(amount uint64, breakdown DepositBreakdown, decimals int) error {
	if amount < breakdown.MinDepositAmount {
		return fmt.Errorf("%w: minimum deposit amount is %s BTC", types.ErrInvalidAmount, FormatUnits(breakdown.MinDepositAmount, decimals))
	}
	return nil
}

// FormatUnits renders base units as a decimal string, trimming trailing zeros
func FormatUnits(amount uint64, decimals int) string {
	if decimals <= 0 {
		return strconv.FormatUint(amount, 10)
	}
	r := new(big.Rat).SetFrac(new(big.Int).SetUint64(amount), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	s := r.FloatString(decimals)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// ceilRate computes ceil(amount × rate) exactly, reading rate as its shortest decimal form
func ceilRate(amount uint64, rate float64) uint64 {
	if rate <= 0 || amount == 0 {
		return 0
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(rate, 'f', -1, 64))
	if !ok {
		return 0
	}
	product := new(big.Rat).Mul(new(big.Rat).SetInt(new(big.Int).SetUint64(amount)), r)

	q, m := new(big.Int).QuoRem(product.Num(), product.Denom(), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}

// ApplyMargin returns ceil(value × (100+percent) / 100)
func ApplyMargin(value uint64, percent uint64) uint64 {
	v := new(big.Int).Mul(new(big.Int).SetUint64(value), new(big.Int).SetUint64(100+percent))
	q, m := new(big.Int).QuoRem(v, big.NewInt(100), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Uint64()
}
