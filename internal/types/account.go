package types

import "math/big"

// DebtInfo is the gas arrears recorded for an account by the account contract
type DebtInfo struct {
	GasTokenID            string       `json:"gas_token_id"`
	NearGasDebtAmount     Uint64String `json:"near_gas_debt_amount"`
	ProtocolFeeDebtAmount Uint64String `json:"protocol_fee_debt_amount"`
}

// RelayerFee is an outstanding relayer fee owed by the account
type RelayerFee struct {
	Amount Uint64String `json:"amount"`
}

// AccountInfo is a read-only snapshot of the CSNA state on the account contract
type AccountInfo struct {
	Nonce      Uint64String            `json:"nonce"`
	GasToken   map[string]Uint64String `json:"gas_token"`
	DebtInfo   *DebtInfo               `json:"debt_info,omitempty"`
	RelayerFee *RelayerFee             `json:"relayer_fee,omitempty"`

	// Registered is false when the contract had no record for the account
	Registered bool `json:"registered"`
}

// IsNew reports whether the account has never executed an intention
func (a *AccountInfo) IsNew() bool {
	return a == nil || a.Nonce == 0
}

// TotalDebt returns near gas debt plus protocol fee debt
func (a *AccountInfo) TotalDebt() uint64 {
	if a == nil || a.DebtInfo == nil {
		return 0
	}
	return uint64(a.DebtInfo.NearGasDebtAmount) + uint64(a.DebtInfo.ProtocolFeeDebtAmount)
}

// GasTokenInfo describes a gas token accepted by the account contract
type GasTokenInfo struct {
	TokenID          string       `json:"token_id,omitempty"`
	Decimals         int          `json:"decimals,omitempty"`
	PerTxProtocolFee Uint64String `json:"per_tx_protocol_fee"`
}

// BridgeFee is a min/rate fee schedule on the bridge contract
type BridgeFee struct {
	FeeMin          Uint64String `json:"fee_min"`
	FeeRate         float64      `json:"fee_rate"`
	ProtocolFeeRate float64      `json:"protocol_fee_rate"`
}

// BridgeConfig is the subset of the bridge contract's get_config used for planning
type BridgeConfig struct {
	DepositBridgeFee  BridgeFee    `json:"deposit_bridge_fee"`
	WithdrawBridgeFee BridgeFee    `json:"withdraw_bridge_fee"`
	MinDepositAmount  Uint64String `json:"min_deposit_amount"`
	MinWithdrawAmount Uint64String `json:"min_withdraw_amount"`
	MinChangeAmount   Uint64String `json:"min_change_amount"`
	MaxChangeAmount   Uint64String `json:"max_change_amount"`
	MaxBTCGasFee      Uint64String `json:"max_btc_gas_fee"`
	ChangeAddress     string       `json:"change_address"`
}

// StorageBalance is the NEP-145 storage_balance_of response
type StorageBalance struct {
	Total     string `json:"total"`
	Available string `json:"available"`
}

// Balances groups the spendable balances of a CSNA and its BTC owner
type Balances struct {
	// NEAR in yocto, native plus wrapped
	Near *big.Int `json:"near"`
	// bridged BTC token, in satoshis
	BTCToken *big.Int `json:"btc_token"`
	// gas token balance held by the account contract
	GasToken uint64 `json:"gas_token"`
	// confirmed on-chain BTC of the wallet address
	BTCConfirmed uint64 `json:"btc_confirmed"`
}
