package withdraw

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/events"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"
)

// Gas and deposit attached to the withdrawal ft_transfer_call
const (
	WithdrawGas     = "300000000000000"
	WithdrawDeposit = "1"
)

// WithdrawMsg is the ft_transfer_call message the bridge contract executes
type WithdrawMsg struct {
	Withdraw WithdrawParams `json:"Withdraw"`
}

// WithdrawParams lists the exact inputs and outputs of the BTC payout
type WithdrawParams struct {
	TargetBTCAddress string           `json:"target_btc_address"`
	Input            []string         `json:"input"`
	Output           []WithdrawOutput `json:"output"`
}

// WithdrawOutput is one payout output
type WithdrawOutput struct {
	Value        int64  `json:"value"`
	ScriptPubKey string `json:"script_pubkey"`
}

// NewWithdrawMsg describes plan as a bridge withdraw message
func NewWithdrawMsg(btcAddress string, plan *types.WithdrawPlan, params *chaincfg.Params) (WithdrawMsg, error) {
	msg := WithdrawMsg{Withdraw: WithdrawParams{
		TargetBTCAddress: btcAddress,
		Input:            make([]string, 0, len(plan.Inputs)),
		Output:           make([]WithdrawOutput, 0, len(plan.Outputs)),
	}}
	for _, in := range plan.Inputs {
		msg.Withdraw.Input = append(msg.Withdraw.Input, fmt.Sprintf("%s:%d", in.TxID, in.Vout))
	}
	for _, out := range plan.Outputs {
		script, err := OutputScript(out, params)
		if err != nil {
			return WithdrawMsg{}, err
		}
		msg.Withdraw.Output = append(msg.Withdraw.Output, WithdrawOutput{
			Value:        out.Value,
			ScriptPubKey: hex.EncodeToString(script),
		})
	}
	return msg, nil
}

// WithdrawTransaction burns amount of the BTC token through the bridge with msg
func WithdrawTransaction(env types.EnvConfig, amount uint64, msg WithdrawMsg) (types.PendingTransaction, error) {
	rawMsg, err := json.Marshal(msg)
	if err != nil {
		return types.PendingTransaction{}, fmt.Errorf("failed to marshal withdraw msg: %w", err)
	}
	action, err := types.NewFunctionCall("ft_transfer_call", map[string]string{
		"receiver_id": env.BridgeContractID,
		"amount":      strconv.FormatUint(amount, 10),
		"msg":         string(rawMsg),
	}, WithdrawGas, WithdrawDeposit)
	if err != nil {
		return types.PendingTransaction{}, err
	}
	return types.PendingTransaction{
		ReceiverID: env.BTCToken,
		Actions:    []types.Action{action},
	}, nil
}

// TransactionSender signs and sends NEAR batches as intentions
type TransactionSender interface {
	SignAndSendTransactions(ctx context.Context, creds wallet.SessionCredentials, txs []types.PendingTransaction) ([]*types.FinalExecutionOutcome, error)
}

// Execution is a submitted withdrawal
type Execution struct {
	Plan     *types.WithdrawPlan            `json:"plan"`
	PSBT     string                         `json:"psbt"`
	Outcomes []*types.FinalExecutionOutcome `json:"outcomes"`
}

// Executor plans a withdrawal and submits it through the intention pipeline
type Executor struct {
	env      types.EnvConfig
	selector *Selector
	sender   TransactionSender
	scripts  ScriptFetcher
	events   events.Publisher
	logger   zerolog.Logger
}

// NewExecutor creates a new withdrawal executor
func NewExecutor(env types.EnvConfig, selector *Selector, sender TransactionSender, scripts ScriptFetcher, publisher events.Publisher, logger zerolog.Logger) *Executor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Executor{
		env:      env,
		selector: selector,
		sender:   sender,
		scripts:  scripts,
		events:   publisher,
		logger:   logger.With().Str("component", "withdraw").Logger(),
	}
}

// Execute withdraws req.Amount of BTC token to req.BTCAddress
func (e *Executor) Execute(ctx context.Context, creds wallet.SessionCredentials, req Request) (*Execution, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAccountDerivation, err)
	}
	if req.BTCPublicKey == "" {
		req.BTCPublicKey = creds.BTCPublicKey
	}
	if req.CSNA == "" {
		req.CSNA = creds.NearAccountID
	}
	if req.BTCAddress == "" {
		req.BTCAddress = creds.Account
	}
	if req.PublicKey == "" {
		req.PublicKey = creds.PublicKey
	}
	if req.CSNA == "" {
		return nil, fmt.Errorf("%w: csna is required", types.ErrAccountDerivation)
	}

	result := e.selector.CalculateWithdraw(ctx, req)
	if result.IsError {
		return nil, result.Err
	}
	plan := result.Plan

	packet, err := BuildPSBT(ctx, plan, e.selector.params, e.scripts)
	if err != nil {
		return nil, err
	}
	psbtB64, _, err := EncodePSBT(packet)
	if err != nil {
		return nil, err
	}

	msg, err := NewWithdrawMsg(req.BTCAddress, plan, e.selector.params)
	if err != nil {
		return nil, err
	}
	tx, err := WithdrawTransaction(e.env, plan.FromAmount-plan.GasCost, msg)
	if err != nil {
		return nil, err
	}

	withdrawn := events.NewEvent(events.TypeWithdrawSubmitted, req.CSNA, "")
	withdrawn.Data = map[string]string{
		"btc_address":    req.BTCAddress,
		"receive_amount": strconv.FormatUint(plan.ReceiveAmount, 10),
		"fee":            strconv.FormatUint(plan.Fee, 10),
	}

	outcomes, err := e.sender.SignAndSendTransactions(ctx, creds, []types.PendingTransaction{tx})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("csna", req.CSNA).
		Str("btc_address", req.BTCAddress).
		Uint64("receive_amount", plan.ReceiveAmount).
		Uint64("fee", plan.Fee).
		Msg("Withdrawal submitted")
	events.Emit(ctx, e.events, e.logger, withdrawn)

	return &Execution{Plan: plan, PSBT: psbtB64, Outcomes: outcomes}, nil
}
