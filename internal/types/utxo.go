package types

// UTXO is an unspent output as seen by the explorer or the bridge contract
type UTXO struct {
	TxID      string `json:"txid"`
	Vout      uint32 `json:"vout"`
	Value     uint64 `json:"value"`
	Script    string `json:"script,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// Output is a planned transaction output
type Output struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// WithdrawPlan is a balanced withdrawal: sum(inputs) == sum(outputs) + fee
type WithdrawPlan struct {
	Inputs  []UTXO   `json:"inputs"`
	Outputs []Output `json:"outputs"`
	// network fee in satoshis
	Fee uint64 `json:"fee"`
	// bridge fee + NEAR gas cost + any change shortfall moved off the user output
	WithdrawFee   uint64 `json:"withdraw_fee"`
	BridgeFee     uint64 `json:"bridge_fee"`
	GasCost       uint64 `json:"gas_cost"`
	FromAmount    uint64 `json:"from_amount"`
	ReceiveAmount uint64 `json:"receive_amount"`
}
