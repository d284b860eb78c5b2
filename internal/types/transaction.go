package types

import (
	"encoding/json"
	"fmt"
)

// ActionType is the kind of NEAR action in a pending transaction
type ActionType string

const (
	ActionFunctionCall ActionType = "FunctionCall"
	ActionTransfer     ActionType = "Transfer"
)

// ActionParams carries the parameters of a FunctionCall or Transfer action.
// Gas and Deposit are base-10 strings (gas units and yoctoNEAR).
type ActionParams struct {
	MethodName string          `json:"methodName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Gas        string          `json:"gas,omitempty"`
	Deposit    string          `json:"deposit,omitempty"`
}

// Action is an abstract NEAR action
type Action struct {
	Type   ActionType   `json:"type"`
	Params ActionParams `json:"params"`
}

// PendingTransaction is an abstract NEAR call created by orchestration logic
type PendingTransaction struct {
	SignerID   string   `json:"signerId"`
	ReceiverID string   `json:"receiverId"`
	Actions    []Action `json:"actions"`
}

// NewFunctionCall builds a FunctionCall action with JSON-encoded args
func NewFunctionCall(method string, args interface{}, gas, deposit string) (Action, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Action{}, fmt.Errorf("failed to marshal args for %s: %w", method, err)
	}
	return Action{
		Type: ActionFunctionCall,
		Params: ActionParams{
			MethodName: method,
			Args:       raw,
			Gas:        gas,
			Deposit:    deposit,
		},
	}, nil
}

// NewTransfer builds a native NEAR transfer action
func NewTransfer(deposit string) Action {
	return Action{Type: ActionTransfer, Params: ActionParams{Deposit: deposit}}
}

// EncodedTransaction is a serialized NEAR transaction ready for relay submission
type EncodedTransaction struct {
	TxBytes []byte `json:"-"`
	TxHex   string `json:"tx_hex"`
	// Hash is the base58 sha256 of TxBytes, as reported by NEAR RPC
	Hash  string `json:"hash"`
	Nonce uint64 `json:"nonce"`
}

// Intention is the signed unit submitted to the relay
type Intention struct {
	ChainID          string   `json:"chain_id"`
	CSNA             string   `json:"csna"`
	NearTransactions []string `json:"near_transactions"`
	GasToken         string   `json:"gas_token"`
	GasLimit         string   `json:"gas_limit"`
	UseNearPayGas    bool     `json:"use_near_pay_gas"`
	Nonce            string   `json:"nonce"`
	Replace          *bool    `json:"replace,omitempty"`
}

// ExecutionStatus is the status field of a NEAR final execution outcome
type ExecutionStatus struct {
	SuccessValue     *string         `json:"SuccessValue,omitempty"`
	SuccessReceiptID *string         `json:"SuccessReceiptId,omitempty"`
	Failure          json.RawMessage `json:"Failure,omitempty"`
}

// UnmarshalJSON also accepts the bare string states ("NotStarted", "Started")
// reported for transactions still in flight.
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		*s = ExecutionStatus{}
		return nil
	}
	type plain ExecutionStatus
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = ExecutionStatus(p)
	return nil
}

// IsSuccess reports whether execution finished successfully
func (s ExecutionStatus) IsSuccess() bool {
	return s.SuccessValue != nil || s.SuccessReceiptID != nil
}

// IsFailure reports whether execution failed
func (s ExecutionStatus) IsFailure() bool {
	return len(s.Failure) > 0 && string(s.Failure) != "null"
}

// FinalExecutionOutcome is the subset of NEAR's tx status result used by callers
type FinalExecutionOutcome struct {
	Status      ExecutionStatus `json:"status"`
	Transaction struct {
		Hash       string `json:"hash"`
		SignerID   string `json:"signer_id"`
		ReceiverID string `json:"receiver_id"`
		Nonce      uint64 `json:"nonce"`
	} `json:"transaction"`
	FinalExecutionStatus string `json:"final_execution_status,omitempty"`
}

// Post-action messages understood by the account contract
const (
	MsgRepay      = "Repay"
	MsgRelayerFee = "RelayerFee"
)

// PostAction is a token transfer the bridge executes right after minting a deposit
type PostAction struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Msg        string `json:"msg,omitempty"`
	Gas        string `json:"gas,omitempty"`
}
