package gas

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"testing"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEnv = types.EnvConfig{
	BTCToken:          "nbtc.testnet",
	NearToken:         "wrap.testnet",
	AccountContractID: "acc.testnet",
}

type fakeAccounts struct {
	near     *big.Int
	perTxFee uint64
}

func (f *fakeAccounts) AvailableNear(ctx context.Context, csna string) (*big.Int, error) {
	return f.near, nil
}

func (f *fakeAccounts) ListGasTokens(ctx context.Context) (map[string]types.GasTokenInfo, error) {
	return map[string]types.GasTokenInfo{"nbtc.testnet": {PerTxProtocolFee: types.Uint64String(f.perTxFee)}}, nil
}

// fakePredictor predicts perTx × len(near_transactions), or a fixed sequence when set
type fakePredictor struct {
	perTx    uint64
	sequence []uint64
	calls    int
}

func (f *fakePredictor) ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error) {
	f.calls++
	if len(f.sequence) > 0 {
		v := f.sequence[0]
		f.sequence = f.sequence[1:]
		return json.RawMessage(strconv.Quote(strconv.FormatUint(v, 10))), nil
	}
	hexes := args.(map[string]interface{})["near_transactions"].([]string)
	return json.RawMessage(strconv.Quote(strconv.FormatUint(f.perTx*uint64(len(hexes)), 10))), nil
}

func (f *fakeAccounts) GetCsnaPublicKey(ctx context.Context, btcPublicKey string) (string, error) {
	return "secp256k1:" + btcPublicKey, nil
}

type fakeEncoder struct{}

func (fakeEncoder) EncodeBatch(ctx context.Context, csna, publicKey string, txs []types.PendingTransaction) ([]types.EncodedTransaction, error) {
	out := make([]types.EncodedTransaction, len(txs))
	for i := range txs {
		out[i] = types.EncodedTransaction{TxHex: "00", Nonce: uint64(i)}
	}
	return out, nil
}

func nearAmount(whole float64) *big.Int {
	return types.UnitsToBase(new(big.Rat).SetFloat64(whole), 24)
}

func callTransactions(n int) []types.PendingTransaction {
	txs := make([]types.PendingTransaction, n)
	for i := range txs {
		call, _ := types.NewFunctionCall("do_something", map[string]string{}, "30000000000000", "0")
		txs[i] = types.PendingTransaction{ReceiverID: "app.testnet", Actions: []types.Action{call}}
	}
	return txs
}

func transferAmount(t *testing.T, tx types.PendingTransaction) (string, string) {
	t.Helper()
	require.Len(t, tx.Actions, 1)
	var args map[string]string
	require.NoError(t, json.Unmarshal(tx.Actions[0].Params.Args, &args))
	return args["amount"], args["msg"]
}

func TestEstimateNearPathWhenBalanceAboveReserve(t *testing.T) {
	predictor := &fakePredictor{perTx: 1}
	engine := NewEngine(testEnv, &fakeAccounts{near: nearAmount(1.2), perTxFee: 150}, predictor, fakeEncoder{}, zerolog.Nop())

	estimate, err := engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", Transactions: callTransactions(2)})
	require.NoError(t, err)

	assert.True(t, estimate.UseNearPayGas)
	assert.Equal(t, uint64(150*3), estimate.GasLimit)
	assert.Equal(t, 0, predictor.calls)

	transfer := estimate.TransferGasTransaction
	assert.Equal(t, "nbtc.testnet", transfer.ReceiverID)
	assert.Equal(t, "csna.testnet", transfer.SignerID)
	assert.Equal(t, "ft_transfer_call", transfer.Actions[0].Params.MethodName)
	assert.Equal(t, "1", transfer.Actions[0].Params.Deposit)

	amount, msg := transferAmount(t, transfer)
	assert.Equal(t, "450", amount)
	assert.Equal(t, `"Repay"`, msg)
}

func TestEstimateNearPathFloorsProtocolFee(t *testing.T) {
	engine := NewEngine(testEnv, &fakeAccounts{near: nearAmount(2), perTxFee: 10}, &fakePredictor{}, fakeEncoder{}, zerolog.Nop())

	estimate, err := engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", Transactions: callTransactions(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(200), estimate.GasLimit)
}

func TestEstimateBTCPathWhenNearMovedExhaustsReserve(t *testing.T) {
	txs := []types.PendingTransaction{{
		ReceiverID: "app.testnet",
		Actions:    []types.Action{types.NewTransfer(nearAmount(0.8).String())},
	}}
	engine := NewEngine(testEnv, &fakeAccounts{near: nearAmount(1.2), perTxFee: 150}, &fakePredictor{perTx: 1000}, fakeEncoder{}, zerolog.Nop())

	estimate, err := engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", Transactions: txs})
	require.NoError(t, err)

	assert.False(t, estimate.UseNearPayGas)
	// two transactions predicted at 1000 each, plus 20%
	assert.Equal(t, uint64(2400), estimate.GasLimit)
	assert.Equal(t, nearAmount(0.8).String(), estimate.NearAmountMoved.String())

	amount, _ := transferAmount(t, estimate.TransferGasTransaction)
	assert.Equal(t, "2400", amount)
}

func TestEstimateBTCPathFloorsPrediction(t *testing.T) {
	engine := NewEngine(testEnv, &fakeAccounts{near: big.NewInt(0)}, &fakePredictor{perTx: 10}, fakeEncoder{}, zerolog.Nop())

	estimate, err := engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", Transactions: callTransactions(2)})
	require.NoError(t, err)
	assert.Equal(t, uint64(600), estimate.GasLimit)
}

func TestEstimateFinalLimitNeverDecreases(t *testing.T) {
	predictor := &fakePredictor{sequence: []uint64{5000, 1000}}
	engine := NewEngine(testEnv, &fakeAccounts{near: big.NewInt(0)}, predictor, fakeEncoder{}, zerolog.Nop())

	estimate, err := engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", Transactions: callTransactions(1), Strategy: StrategyBTC})
	require.NoError(t, err)
	assert.Equal(t, uint64(6000), estimate.GasLimit)
	assert.Equal(t, 2, predictor.calls)
}

func TestEstimateForcedStrategies(t *testing.T) {
	accounts := &fakeAccounts{near: big.NewInt(0), perTxFee: 120}
	engine := NewEngine(testEnv, accounts, &fakePredictor{perTx: 300}, fakeEncoder{}, zerolog.Nop())

	forced, err := engine.Estimate(context.Background(), Request{CSNA: "c", Transactions: callTransactions(1), Strategy: StrategyNear})
	require.NoError(t, err)
	assert.True(t, forced.UseNearPayGas)
	assert.Equal(t, uint64(240), forced.GasLimit)

	accounts.near = nearAmount(10)
	forced, err = engine.Estimate(context.Background(), Request{CSNA: "c", Transactions: callTransactions(1), Strategy: StrategyBTC})
	require.NoError(t, err)
	assert.False(t, forced.UseNearPayGas)
}

func TestEstimateTracksBTCTokenMoved(t *testing.T) {
	call, err := types.NewFunctionCall("ft_transfer", map[string]string{"receiver_id": "bob.testnet", "amount": "777"}, "30000000000000", "1")
	require.NoError(t, err)
	txs := []types.PendingTransaction{{ReceiverID: "nbtc.testnet", Actions: []types.Action{call}}}

	engine := NewEngine(testEnv, &fakeAccounts{near: nearAmount(1), perTxFee: 100}, &fakePredictor{}, fakeEncoder{}, zerolog.Nop())
	estimate, err := engine.Estimate(context.Background(), Request{CSNA: "c", Transactions: txs})
	require.NoError(t, err)
	assert.Equal(t, "777", estimate.BTCAmountMoved.String())
	assert.Equal(t, "1", estimate.NearAmountMoved.String())

	batch := estimate.Batch(txs)
	require.Len(t, batch, 2)
	assert.Equal(t, estimate.TransferGasTransaction.ReceiverID, batch[0].ReceiverID)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, s)

	_, err = ParseStrategy("eth")
	assert.Error(t, err)
}

type keyRecorder struct {
	fakeEncoder
	keys []string
}

func (k *keyRecorder) EncodeBatch(ctx context.Context, csna, publicKey string, txs []types.PendingTransaction) ([]types.EncodedTransaction, error) {
	k.keys = append(k.keys, publicKey)
	return k.fakeEncoder.EncodeBatch(ctx, csna, publicKey, txs)
}

func TestPredictionEncodesWithCsnaKey(t *testing.T) {
	encoder := &keyRecorder{}
	engine := NewEngine(testEnv, &fakeAccounts{near: big.NewInt(0)}, &fakePredictor{perTx: 10}, encoder, zerolog.Nop())

	_, err := engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", BTCPublicKey: "02ab", Transactions: callTransactions(1)})
	require.NoError(t, err)
	require.NotEmpty(t, encoder.keys)
	for _, key := range encoder.keys {
		assert.Equal(t, "secp256k1:02ab", key)
	}

	encoder.keys = nil
	_, err = engine.Estimate(context.Background(), Request{CSNA: "csna.testnet", PublicKey: "secp256k1:given", Transactions: callTransactions(1)})
	require.NoError(t, err)
	for _, key := range encoder.keys {
		assert.Equal(t, "secp256k1:given", key)
	}
}

func TestNearReserveIsHalfNear(t *testing.T) {
	assert.Equal(t, "500000000000000000000000", NearReserve.String())
}
