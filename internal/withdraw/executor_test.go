package withdraw

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	creds wallet.SessionCredentials
	txs   []types.PendingTransaction
}

func (f *fakeSender) SignAndSendTransactions(ctx context.Context, creds wallet.SessionCredentials, txs []types.PendingTransaction) ([]*types.FinalExecutionOutcome, error) {
	f.creds = creds
	f.txs = txs
	return []*types.FinalExecutionOutcome{{}}, nil
}

type fakeFetcher struct {
	raw   map[string]string
	calls int
}

func (f *fakeFetcher) RawTransaction(ctx context.Context, txid string) (string, error) {
	f.calls++
	raw, ok := f.raw[txid]
	if !ok {
		return "", errors.New("not found")
	}
	return raw, nil
}

func TestBuildPSBT(t *testing.T) {
	f := newFixture(t, 5000, 3000)
	result := f.selector().CalculateWithdraw(context.Background(), f.request(7000))
	require.False(t, result.IsError, result.ErrorMsg)

	packet, err := BuildPSBT(context.Background(), result.Plan, &chaincfg.TestNet3Params, nil)
	require.NoError(t, err)

	require.Len(t, packet.UnsignedTx.TxIn, len(result.Plan.Inputs))
	require.Len(t, packet.UnsignedTx.TxOut, len(result.Plan.Outputs))
	assert.Equal(t, int32(2), packet.UnsignedTx.Version)
	for i, in := range packet.Inputs {
		require.NotNil(t, in.WitnessUtxo)
		assert.Equal(t, int64(result.Plan.Inputs[i].Value), in.WitnessUtxo.Value)
	}
	assert.Equal(t, result.Plan.Outputs[0].Value, packet.UnsignedTx.TxOut[0].Value)

	b64, hexEncoded, err := EncodePSBT(packet)
	require.NoError(t, err)
	assert.NotEmpty(t, b64)
	assert.NotEmpty(t, hexEncoded)

	decoded, err := psbt.NewFromRawBytes(bytes.NewReader([]byte(b64)), true)
	require.NoError(t, err)
	assert.Equal(t, packet.UnsignedTx.TxHash(), decoded.UnsignedTx.TxHash())
}

func TestBuildPSBTFetchesMissingScript(t *testing.T) {
	_, scriptHex := testAddress(t, 4)
	script, err := hex.DecodeString(scriptHex)
	require.NoError(t, err)

	prev := wire.NewMsgTx(2)
	prev.AddTxOut(wire.NewTxOut(100, []byte{0x51}))
	prev.AddTxOut(wire.NewTxOut(9000, script))
	var buf bytes.Buffer
	require.NoError(t, prev.Serialize(&buf))
	txid := prev.TxHash().String()

	user, _ := testAddress(t, 1)
	plan := &types.WithdrawPlan{
		Inputs:  []types.UTXO{{TxID: txid, Vout: 1, Value: 9000}},
		Outputs: []types.Output{{Address: user, Value: 8800}},
		Fee:     200,
	}

	fetcher := &fakeFetcher{raw: map[string]string{txid: hex.EncodeToString(buf.Bytes())}}
	packet, err := BuildPSBT(context.Background(), plan, &chaincfg.TestNet3Params, fetcher)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, script, packet.Inputs[0].WitnessUtxo.PkScript)

	plan.Inputs[0].Vout = 5
	_, err = BuildPSBT(context.Background(), plan, &chaincfg.TestNet3Params, fetcher)
	assert.True(t, errors.Is(err, types.ErrChainQuery))
}

func TestExecutorSubmitsWithdrawCall(t *testing.T) {
	f := newFixture(t, 5000, 3000)
	f.gas = &fakeGas{limit: 200}
	sender := &fakeSender{}
	executor := NewExecutor(testEnv, f.selector(), sender, nil, nil, zerolog.Nop())

	creds := wallet.SessionCredentials{Account: f.user, BTCPublicKey: "02abc", NearAccountID: "csna.testnet", PublicKey: "secp256k1:csnaKey"}
	execution, err := executor.Execute(context.Background(), creds, Request{Amount: 7200})
	require.NoError(t, err)
	assert.NotEmpty(t, execution.PSBT)
	assert.Len(t, execution.Outcomes, 1)
	assert.Equal(t, "secp256k1:csnaKey", f.gas.req.PublicKey)

	require.Len(t, sender.txs, 1)
	tx := sender.txs[0]
	assert.Equal(t, "nbtc.testnet", tx.ReceiverID)
	action := tx.Actions[0]
	assert.Equal(t, "ft_transfer_call", action.Params.MethodName)
	assert.Equal(t, WithdrawDeposit, action.Params.Deposit)

	var args map[string]string
	require.NoError(t, json.Unmarshal(action.Params.Args, &args))
	assert.Equal(t, "bridge.testnet", args["receiver_id"])
	assert.Equal(t, "7000", args["amount"])

	var msg WithdrawMsg
	require.NoError(t, json.Unmarshal([]byte(args["msg"]), &msg))
	assert.Equal(t, f.user, msg.Withdraw.TargetBTCAddress)
	require.Len(t, msg.Withdraw.Input, len(execution.Plan.Inputs))
	assert.Equal(t, testTxID(0)+":0", msg.Withdraw.Input[0])
	require.Len(t, msg.Withdraw.Output, len(execution.Plan.Outputs))
	assert.Equal(t, execution.Plan.Outputs[0].Value, msg.Withdraw.Output[0].Value)
}

func TestExecutorReturnsPlanningError(t *testing.T) {
	f := newFixture(t, 5000)
	sender := &fakeSender{}
	executor := NewExecutor(testEnv, f.selector(), sender, nil, nil, zerolog.Nop())

	creds := wallet.SessionCredentials{Account: f.user, BTCPublicKey: "02abc", NearAccountID: "csna.testnet"}
	_, err := executor.Execute(context.Background(), creds, Request{Amount: 500})
	assert.True(t, errors.Is(err, types.ErrInvalidAmount))
	assert.Nil(t, sender.txs)
}
