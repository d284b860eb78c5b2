package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/fees"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
)

// Strategy selects how gas is paid
type Strategy string

const (
	StrategyAuto Strategy = "auto"
	StrategyNear Strategy = "near"
	StrategyBTC  Strategy = "btc"
)

const (
	// MinPerTxProtocolFee floors the per-transaction protocol fee on the NEAR path
	MinPerTxProtocolFee uint64 = 100
	// MinPerTxGasAmount floors the predicted gas per transaction on the BTC path
	MinPerTxGasAmount uint64 = 200
	// PredictionMarginPercent inflates the predicted gas on the BTC path
	PredictionMarginPercent uint64 = 20

	// TransferGas is the NEAR gas attached to the synthetic gas transfer
	TransferGas = "100000000000000"
	// OneYocto is the deposit NEP-141 transfers require
	OneYocto = "1"
)

// NearReserve is the NEAR balance (yocto) above which gas is paid in NEAR
var NearReserve = types.UnitsToBase(big.NewRat(1, 2), 24)

// ParseStrategy validates a strategy string; empty means auto
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyNear, StrategyBTC:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unsupported gas strategy %q", s)
	}
}

// AccountReader exposes the balances and gas-token schedule of the account contract
type AccountReader interface {
	AvailableNear(ctx context.Context, csna string) (*big.Int, error)
	ListGasTokens(ctx context.Context) (map[string]types.GasTokenInfo, error)
	GetCsnaPublicKey(ctx context.Context, btcPublicKey string) (string, error)
}

// Viewer runs uncached view calls
type Viewer interface {
	ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error)
}

// BatchEncoder encodes pending transactions for gas prediction
type BatchEncoder interface {
	EncodeBatch(ctx context.Context, csna, publicKey string, txs []types.PendingTransaction) ([]types.EncodedTransaction, error)
}

// Request is the input of Estimate
type Request struct {
	CSNA         string
	BTCPublicKey string
	// PublicKey is the CSNA access key; resolved from BTCPublicKey when empty
	PublicKey string
	Transactions []types.PendingTransaction
	Strategy     Strategy
}

// Estimate is the chosen payer and amount for a batch
type Estimate struct {
	// TransferGasTransaction is prepended to the batch and pays GasLimit to the account contract
	TransferGasTransaction types.PendingTransaction `json:"transfer_gas_transaction"`
	UseNearPayGas          bool                     `json:"use_near_pay_gas"`
	GasLimit               uint64                   `json:"gas_limit"`
	// NearAmountMoved is the yocto NEAR the batch itself spends
	NearAmountMoved *big.Int `json:"near_amount_moved"`
	// BTCAmountMoved is the BTC token the batch itself transfers
	BTCAmountMoved *big.Int `json:"btc_amount_moved"`
}

// Batch returns the transfer transaction followed by the original transactions
func (e *Estimate) Batch(txs []types.PendingTransaction) []types.PendingTransaction {
	batch := make([]types.PendingTransaction, 0, len(txs)+1)
	batch = append(batch, e.TransferGasTransaction)
	return append(batch, txs...)
}

// Engine decides gas payment for transaction batches
type Engine struct {
	env      types.EnvConfig
	accounts AccountReader
	viewer   Viewer
	encoder  BatchEncoder
	logger   zerolog.Logger
}

// NewEngine creates a new gas strategy engine
func NewEngine(env types.EnvConfig, accounts AccountReader, viewer Viewer, encoder BatchEncoder, logger zerolog.Logger) *Engine {
	return &Engine{
		env:      env,
		accounts: accounts,
		viewer:   viewer,
		encoder:  encoder,
		logger:   logger.With().Str("component", "gas-engine").Logger(),
	}
}

// Estimate picks the payer, sizes the gas limit including the synthetic transfer and
// returns the transfer transaction with its amount patched to the final limit.
func (e *Engine) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	if len(req.Transactions) == 0 {
		return nil, fmt.Errorf("%w: no transactions to estimate", types.ErrInvalidAmount)
	}

	nearMoved, btcMoved := e.amountsMoved(req.Transactions)
	estimate := &Estimate{NearAmountMoved: nearMoved, BTCAmountMoved: btcMoved}

	useNear, err := e.useNearPayGas(ctx, req, nearMoved)
	if err != nil {
		return nil, err
	}
	estimate.UseNearPayGas = useNear

	preLimit, err := e.gasLimit(ctx, req, useNear, req.Transactions)
	if err != nil {
		return nil, err
	}

	transfer, err := e.transferTransaction(req.CSNA, preLimit)
	if err != nil {
		return nil, err
	}

	withTransfer := append([]types.PendingTransaction{transfer}, req.Transactions...)
	finalLimit, err := e.gasLimit(ctx, req, useNear, withTransfer)
	if err != nil {
		return nil, err
	}
	if finalLimit < preLimit {
		finalLimit = preLimit
	}

	transfer, err = e.transferTransaction(req.CSNA, finalLimit)
	if err != nil {
		return nil, err
	}
	estimate.TransferGasTransaction = transfer
	estimate.GasLimit = finalLimit

	monitoring.RecordGasTokenAmount(useNear, finalLimit)
	e.logger.Debug().
		Str("csna", req.CSNA).
		Bool("use_near_pay_gas", useNear).
		Uint64("pre_transfer_limit", preLimit).
		Uint64("gas_limit", finalLimit).
		Int("transactions", len(withTransfer)).
		Msg("Gas estimated")

	return estimate, nil
}

func (e *Engine) useNearPayGas(ctx context.Context, req Request, nearMoved *big.Int) (bool, error) {
	switch req.Strategy {
	case StrategyNear:
		return true, nil
	case StrategyBTC:
		return false, nil
	}

	balance, err := e.accounts.AvailableNear(ctx, req.CSNA)
	if err != nil {
		return false, err
	}
	available := new(big.Int).Sub(balance, nearMoved)
	return available.Cmp(NearReserve) > 0, nil
}

func (e *Engine) gasLimit(ctx context.Context, req Request, useNear bool, txs []types.PendingTransaction) (uint64, error) {
	count := uint64(len(txs))
	if useNear {
		perTx, err := e.perTxProtocolFee(ctx)
		if err != nil {
			return 0, err
		}
		return perTx * count, nil
	}

	predicted, err := e.predict(ctx, req, txs)
	if err != nil {
		return 0, err
	}
	limit := fees.ApplyMargin(predicted, PredictionMarginPercent)
	if floor := MinPerTxGasAmount * count; limit < floor {
		limit = floor
	}
	return limit, nil
}

func (e *Engine) perTxProtocolFee(ctx context.Context) (uint64, error) {
	tokens, err := e.accounts.ListGasTokens(ctx)
	if err != nil {
		return 0, err
	}
	fee := uint64(tokens[e.env.BTCToken].PerTxProtocolFee)
	if fee < MinPerTxProtocolFee {
		fee = MinPerTxProtocolFee
	}
	return fee, nil
}

func (e *Engine) predict(ctx context.Context, req Request, txs []types.PendingTransaction) (uint64, error) {
	publicKey := req.PublicKey
	if publicKey == "" {
		var err error
		if publicKey, err = e.accounts.GetCsnaPublicKey(ctx, req.BTCPublicKey); err != nil {
			return 0, err
		}
	}

	encoded, err := e.encoder.EncodeBatch(ctx, req.CSNA, publicKey, txs)
	if err != nil {
		return 0, err
	}
	hexes := make([]string, len(encoded))
	for i, enc := range encoded {
		hexes[i] = enc.TxHex
	}

	raw, err := e.viewer.ViewFunction(ctx, e.env.AccountContractID, "predict_txs_gas_token_amount", map[string]interface{}{
		"gas_token_id":      e.env.BTCToken,
		"near_transactions": hexes,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	var amount types.Uint64String
	if err := json.Unmarshal(raw, &amount); err != nil {
		return 0, fmt.Errorf("%w: unexpected gas prediction %s", types.ErrChainQuery, string(raw))
	}
	return uint64(amount), nil
}

// transferTransaction builds the ft_transfer_call paying amount to the account contract
func (e *Engine) transferTransaction(csna string, amount uint64) (types.PendingTransaction, error) {
	msg, err := json.Marshal(types.MsgRepay)
	if err != nil {
		return types.PendingTransaction{}, err
	}

	call, err := types.NewFunctionCall("ft_transfer_call", map[string]string{
		"receiver_id": e.env.AccountContractID,
		"amount":      strconv.FormatUint(amount, 10),
		"msg":         string(msg),
	}, TransferGas, OneYocto)
	if err != nil {
		return types.PendingTransaction{}, err
	}

	return types.PendingTransaction{
		SignerID:   csna,
		ReceiverID: e.env.BTCToken,
		Actions:    []types.Action{call},
	}, nil
}

type ftTransferArgs struct {
	Amount string `json:"amount"`
}

// amountsMoved sums NEAR (native deposits and wrapped transfers) and BTC-token transfers
func (e *Engine) amountsMoved(txs []types.PendingTransaction) (*big.Int, *big.Int) {
	nearMoved := new(big.Int)
	btcMoved := new(big.Int)

	for _, tx := range txs {
		for _, action := range tx.Actions {
			if deposit, err := types.ParseBigAmount(action.Params.Deposit); err == nil {
				nearMoved.Add(nearMoved, deposit)
			}
			if action.Type != types.ActionFunctionCall {
				continue
			}
			if action.Params.MethodName != "ft_transfer" && action.Params.MethodName != "ft_transfer_call" {
				continue
			}

			var args ftTransferArgs
			if err := json.Unmarshal(action.Params.Args, &args); err != nil {
				continue
			}
			amount, err := types.ParseBigAmount(args.Amount)
			if err != nil {
				continue
			}
			switch tx.ReceiverID {
			case e.env.NearToken:
				nearMoved.Add(nearMoved, amount)
			case e.env.BTCToken:
				btcMoved.Add(btcMoved, amount)
			}
		}
	}

	return nearMoved, btcMoved
}
