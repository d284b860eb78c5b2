package withdraw

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/fees"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/gas"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/rs/zerolog"
)

// MaxInputs is the input count above which selection retries with larger UTXOs only
const MaxInputs = 10

// GasEstimator sizes the NEAR gas a withdrawal call costs
type GasEstimator interface {
	Estimate(ctx context.Context, req gas.Request) (*gas.Estimate, error)
}

// ConfigSource reads the bridge configuration
type ConfigSource interface {
	GetBridgeConfig(ctx context.Context) (*types.BridgeConfig, error)
}

// FeeRates supplies a default BTC fee rate in sat/vB
type FeeRates interface {
	FastestFeeRate(ctx context.Context) (uint64, error)
}

// Request is the input of CalculateWithdraw
type Request struct {
	// Amount of BTC token to spend, in satoshis, including the NEAR gas cost
	Amount uint64 `json:"amount,string"`
	// FeeRate in sat/vB; zero uses the explorer's fastest rate
	FeeRate      uint64 `json:"fee_rate,omitempty"`
	CSNA         string `json:"csna"`
	BTCPublicKey string `json:"btc_public_key"`
	BTCAddress   string `json:"btc_address"`
	// PublicKey is the CSNA access key; resolved from BTCPublicKey when empty
	PublicKey string `json:"public_key,omitempty"`
}

// Result is a withdrawal plan or a renderable error
type Result struct {
	IsError  bool                `json:"is_error"`
	ErrorMsg string              `json:"error_msg,omitempty"`
	Err      error               `json:"-"`
	Plan     *types.WithdrawPlan `json:"plan,omitempty"`
}

func errorResult(err error) *Result {
	return &Result{IsError: true, ErrorMsg: err.Error(), Err: err}
}

// SelectorDeps groups the collaborators of a Selector
type SelectorDeps struct {
	Config   ConfigSource
	Viewer   Viewer
	Gas      GasEstimator
	FeeRates FeeRates
}

// Selector plans withdrawals from the bridge-custodied UTXO set
type Selector struct {
	env      types.EnvConfig
	params   *chaincfg.Params
	config   ConfigSource
	viewer   Viewer
	gas      GasEstimator
	feeRates FeeRates
	logger   zerolog.Logger
}

// NewSelector creates a new withdrawal coin selector
func NewSelector(env types.EnvConfig, deps SelectorDeps, logger zerolog.Logger) *Selector {
	return &Selector{
		env:      env,
		params:   NetworkParams(env.Network),
		config:   deps.Config,
		viewer:   deps.Viewer,
		gas:      deps.Gas,
		feeRates: deps.FeeRates,
		logger:   logger.With().Str("component", "withdraw-selector").Logger(),
	}
}

// NetworkParams maps a BTC network to its chain parameters
func NetworkParams(network types.BTCNetwork) *chaincfg.Params {
	if network == types.BTCNetworkMainnet {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}

// CalculateWithdraw plans a withdrawal. Computation failures come back as an error Result.
func (s *Selector) CalculateWithdraw(ctx context.Context, req Request) *Result {
	start := time.Now()
	plan, err := s.calculate(ctx, req)

	status := "success"
	if err != nil {
		status = "failure"
	}
	monitoring.RecordOperation("withdraw_plan", status, time.Since(start).Seconds())

	if err != nil {
		s.logger.Debug().Err(err).Uint64("amount", req.Amount).Msg("Withdrawal planning failed")
		return errorResult(err)
	}
	monitoring.WithdrawFeeSats.Observe(float64(plan.Fee))
	return &Result{Plan: plan}
}

func (s *Selector) calculate(ctx context.Context, req Request) (*types.WithdrawPlan, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount is required", types.ErrInvalidAmount)
	}
	userAddr, err := btcutil.DecodeAddress(req.BTCAddress, s.params)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid btc address %q: %v", types.ErrInvalidAmount, req.BTCAddress, err)
	}
	userScript, err := txscript.PayToAddrScript(userAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported btc address %q: %v", types.ErrInvalidAmount, req.BTCAddress, err)
	}

	cfg, err := s.config.GetBridgeConfig(ctx)
	if err != nil {
		return nil, err
	}
	changeAddr, err := btcutil.DecodeAddress(cfg.ChangeAddress, s.params)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid bridge change address: %v", types.ErrServiceBusy, err)
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid bridge change address: %v", types.ErrServiceBusy, err)
	}

	gasCost, err := s.gasCost(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Amount <= gasCost {
		return nil, fmt.Errorf("%w: amount does not cover the %s BTC gas cost", types.ErrInsufficientGas, fees.FormatUnits(gasCost, s.env.BTCTokenDecimals))
	}
	satoshis := req.Amount - gasCost

	if minWithdraw := uint64(cfg.MinWithdrawAmount); satoshis < minWithdraw {
		return nil, fmt.Errorf("%w: minimum withdraw amount is %s BTC", types.ErrInvalidAmount, fees.FormatUnits(minWithdraw+gasCost, s.env.BTCTokenDecimals))
	}

	withdrawFee := fees.BridgeFee(satoshis, cfg.WithdrawBridgeFee)

	utxos, err := FetchBridgeUTXOs(ctx, s.viewer, s.env.BridgeContractID)
	if err != nil {
		return nil, err
	}
	utxos = filterDust(utxos, uint64(cfg.MinChangeAmount))

	feeRate := req.FeeRate
	if feeRate == 0 {
		if s.feeRates == nil {
			return nil, fmt.Errorf("%w: fee rate is required", types.ErrInvalidAmount)
		}
		if feeRate, err = s.feeRates.FastestFeeRate(ctx); err != nil {
			return nil, err
		}
	}

	inputs, outputs, err := s.selectCoins(utxos, userScript, changeScript, satoshis, feeRate)
	if err != nil {
		return nil, err
	}

	plan := &types.WithdrawPlan{
		Inputs:     inputs,
		BridgeFee:  withdrawFee,
		GasCost:    gasCost,
		FromAmount: req.Amount,
	}

	user := types.Output{Address: req.BTCAddress, Value: outputs.user}
	var change *types.Output
	if outputs.hasChange {
		change = &types.Output{Address: cfg.ChangeAddress, Value: outputs.change}
	}

	fee := sumInputs(inputs) - outputs.user - outputs.change
	if fee < 0 {
		return nil, fmt.Errorf("%w: negative network fee", types.ErrServiceBusy)
	}
	if maxFee := int64(cfg.MaxBTCGasFee); maxFee > 0 && fee > maxFee {
		return nil, fmt.Errorf("%w: gas exceeds maximum value of %s BTC", types.ErrInsufficientGas, fees.FormatUnits(uint64(maxFee), s.env.BTCTokenDecimals))
	}

	deduction := fee + int64(withdrawFee)
	user.Value -= deduction
	if user.Value < 0 {
		return nil, fmt.Errorf("%w: amount does not cover network and bridge fees of %s BTC", types.ErrInsufficientGas, fees.FormatUnits(uint64(deduction), s.env.BTCTokenDecimals))
	}

	if change == nil {
		change = &types.Output{Address: cfg.ChangeAddress}
	}
	change.Value += deduction

	plan.Inputs, change.Value = consolidate(plan.Inputs, change.Value)

	var shortfall int64
	if minChange := int64(cfg.MinChangeAmount); change.Value > 0 && change.Value < minChange {
		shortfall = minChange - change.Value
		user.Value -= shortfall
		change.Value = minChange
		if user.Value < 0 {
			return nil, fmt.Errorf("%w: amount does not cover the minimum change of %s BTC", types.ErrInsufficientGas, fees.FormatUnits(uint64(minChange), s.env.BTCTokenDecimals))
		}
	}

	plan.Outputs = []types.Output{user}
	if change.Value > 0 {
		plan.Outputs = append(plan.Outputs, *change)
	}
	plan.Fee = uint64(fee)
	plan.WithdrawFee = withdrawFee + gasCost + uint64(shortfall)
	plan.ReceiveAmount = uint64(user.Value)

	if err := checkConservation(plan); err != nil {
		s.logger.Error().Err(err).Str("csna", req.CSNA).Msg("Withdrawal plan failed conservation check")
		return nil, err
	}

	s.logger.Debug().
		Str("csna", req.CSNA).
		Int("inputs", len(plan.Inputs)).
		Uint64("fee", plan.Fee).
		Uint64("withdraw_fee", plan.WithdrawFee).
		Uint64("receive_amount", plan.ReceiveAmount).
		Uint64("fee_rate", feeRate).
		Msg("Withdrawal planned")

	return plan, nil
}

func (s *Selector) gasCost(ctx context.Context, req Request) (uint64, error) {
	if s.gas == nil {
		return 0, nil
	}
	mock, err := WithdrawTransaction(s.env, req.Amount, WithdrawMsg{
		Withdraw: WithdrawParams{TargetBTCAddress: req.BTCAddress},
	})
	if err != nil {
		return 0, err
	}
	estimate, err := s.gas.Estimate(ctx, gas.Request{
		CSNA:         req.CSNA,
		BTCPublicKey: req.BTCPublicKey,
		PublicKey:    req.PublicKey,
		Transactions: []types.PendingTransaction{mock},
		Strategy:     gas.StrategyAuto,
	})
	if err != nil {
		return 0, err
	}
	return estimate.GasLimit, nil
}

type selectedOutputs struct {
	user      int64
	change    int64
	hasChange bool
}

// selectCoins runs coin selection in source order and retries with individually
// sufficient UTXOs when the first pass needs too many inputs.
func (s *Selector) selectCoins(utxos []types.UTXO, userScript, changeScript []byte, satoshis, feeRate uint64) ([]types.UTXO, selectedOutputs, error) {
	inputs, outputs, err := authorTx(utxos, userScript, changeScript, satoshis, feeRate)
	if err != nil {
		return nil, selectedOutputs{}, err
	}
	if len(inputs) <= MaxInputs {
		return inputs, outputs, nil
	}

	candidates := largeEnough(utxos, satoshis)
	if len(candidates) == 0 {
		return inputs, outputs, nil
	}
	retryInputs, retryOutputs, err := authorTx(candidates, userScript, changeScript, satoshis, feeRate)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Large-input selection failed, keeping first selection")
		return inputs, outputs, nil
	}
	return retryInputs, retryOutputs, nil
}

// authorTx selects inputs with txauthor paying satoshis to userScript
func authorTx(utxos []types.UTXO, userScript, changeScript []byte, satoshis, feeRate uint64) ([]types.UTXO, selectedOutputs, error) {
	byOutpoint := make(map[wire.OutPoint]types.UTXO, len(utxos))
	source, err := inputSource(utxos, byOutpoint)
	if err != nil {
		return nil, selectedOutputs{}, err
	}

	userOut := wire.NewTxOut(int64(satoshis), userScript)
	changeSource := &txauthor.ChangeSource{
		NewScript:  func() ([]byte, error) { return changeScript, nil },
		ScriptSize: len(changeScript),
	}

	authored, err := txauthor.NewUnsignedTransaction([]*wire.TxOut{userOut}, btcutil.Amount(feeRate*1000), source, changeSource)
	if err != nil {
		var inputErr txauthor.InputSourceError
		if errors.As(err, &inputErr) {
			return nil, selectedOutputs{}, fmt.Errorf("%w: bridge cannot fund %d satoshis", types.ErrInsufficientFunds, satoshis)
		}
		return nil, selectedOutputs{}, fmt.Errorf("coin selection failed: %w", err)
	}

	inputs := make([]types.UTXO, 0, len(authored.Tx.TxIn))
	for _, in := range authored.Tx.TxIn {
		utxo, ok := byOutpoint[in.PreviousOutPoint]
		if !ok {
			return nil, selectedOutputs{}, fmt.Errorf("%w: selected unknown input %s", types.ErrServiceBusy, in.PreviousOutPoint)
		}
		inputs = append(inputs, utxo)
	}

	outputs := selectedOutputs{user: authored.Tx.TxOut[0].Value}
	if authored.ChangeIndex >= 0 {
		outputs.change = authored.Tx.TxOut[authored.ChangeIndex].Value
		outputs.hasChange = true
	}
	return inputs, outputs, nil
}

// inputSource feeds UTXOs to txauthor in order until the target is covered
func inputSource(utxos []types.UTXO, byOutpoint map[wire.OutPoint]types.UTXO) (txauthor.InputSource, error) {
	txIns := make([]*wire.TxIn, len(utxos))
	scripts := make([][]byte, len(utxos))
	for i, u := range utxos {
		outpoint, err := Outpoint(u)
		if err != nil {
			return nil, err
		}
		txIns[i] = wire.NewTxIn(outpoint, nil, nil)
		byOutpoint[*outpoint] = u

		if u.Script != "" {
			script, err := hex.DecodeString(u.Script)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid script for %s:%d", types.ErrChainQuery, u.TxID, u.Vout)
			}
			scripts[i] = script
		}
	}

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
		var total btcutil.Amount
		var ins []*wire.TxIn
		var values []btcutil.Amount
		var prevScripts [][]byte
		for i, u := range utxos {
			if total >= target {
				break
			}
			value := btcutil.Amount(u.Value)
			total += value
			ins = append(ins, txIns[i])
			values = append(values, value)
			prevScripts = append(prevScripts, scripts[i])
		}
		return total, ins, values, prevScripts, nil
	}, nil
}

// consolidate drops the smallest input while the change exceeds it, keeping at least one input
func consolidate(inputs []types.UTXO, change int64) ([]types.UTXO, int64) {
	inputs = append([]types.UTXO(nil), inputs...)
	for len(inputs) > 1 {
		minIdx := 0
		for i, in := range inputs {
			if in.Value < inputs[minIdx].Value {
				minIdx = i
			}
		}
		minValue := int64(inputs[minIdx].Value)
		if minValue <= 0 || change <= minValue {
			break
		}
		change -= minValue
		inputs = append(inputs[:minIdx], inputs[minIdx+1:]...)
	}
	return inputs, change
}

func sumInputs(inputs []types.UTXO) int64 {
	var total int64
	for _, in := range inputs {
		total += int64(in.Value)
	}
	return total
}

// checkConservation enforces sum(inputs) == sum(outputs) + fee
func checkConservation(plan *types.WithdrawPlan) error {
	var outputs int64
	for _, out := range plan.Outputs {
		if out.Value < 0 {
			return fmt.Errorf("%w: negative output", types.ErrServiceBusy)
		}
		outputs += out.Value
	}
	if sumInputs(plan.Inputs) != outputs+int64(plan.Fee) {
		return types.ErrServiceBusy
	}
	return nil
}
