package intention

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/account"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/blockchain/near"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/gas"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/relay"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	info      *types.AccountInfo
	debtErr   error
	debtCalls int
	keyCalls  int
}

func (f *fakeAccounts) GetCsnaAccountID(ctx context.Context, btcPublicKey string) (string, error) {
	return "csna.testnet", nil
}

func (f *fakeAccounts) GetCsnaPublicKey(ctx context.Context, btcPublicKey string) (string, error) {
	f.keyCalls++
	return "secp256k1:contractKey", nil
}

func (f *fakeAccounts) GetAccountInfo(ctx context.Context, csna string) (*types.AccountInfo, error) {
	if f.info == nil {
		return &types.AccountInfo{}, nil
	}
	return f.info, nil
}

func (f *fakeAccounts) CheckGasTokenDebt(ctx context.Context, req account.DebtCheck) (*types.PostAction, error) {
	f.debtCalls++
	return nil, f.debtErr
}

type fakeGas struct{ req gas.Request }

func (f *fakeGas) Estimate(ctx context.Context, req gas.Request) (*gas.Estimate, error) {
	f.req = req
	return &gas.Estimate{
		TransferGasTransaction: types.PendingTransaction{ReceiverID: "nbtc.testnet"},
		UseNearPayGas:          true,
		GasLimit:               300,
	}, nil
}

type fakeEncoder struct {
	batch     []types.PendingTransaction
	publicKey string
}

func (f *fakeEncoder) EncodeBatch(ctx context.Context, csna, publicKey string, txs []types.PendingTransaction) ([]types.EncodedTransaction, error) {
	f.batch = txs
	f.publicKey = publicKey
	encoded := make([]types.EncodedTransaction, len(txs))
	for i := range txs {
		encoded[i] = types.EncodedTransaction{
			TxHex: fmt.Sprintf("0%d", i),
			Hash:  fmt.Sprintf("hash%d", i),
			Nonce: uint64(10 + i),
		}
	}
	return encoded, nil
}

type fakeRelay struct {
	nonce     uint64
	statuses  []*relay.IntentionStatus
	calls     int
	submitted relay.ReceiveTransactionRequest
}

func (f *fakeRelay) Nonce(ctx context.Context, csna string) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeRelay) ReceiveTransaction(ctx context.Context, req relay.ReceiveTransactionRequest) error {
	f.submitted = req
	return nil
}

func (f *fakeRelay) BTCTx(ctx context.Context, sig string) (*relay.IntentionStatus, error) {
	status := f.statuses[f.calls]
	if f.calls < len(f.statuses)-1 {
		f.calls++
	}
	return status, nil
}

type fakeNear struct {
	outcomes map[string][]*types.FinalExecutionOutcome
	queried  []string
}

func (f *fakeNear) TxStatus(ctx context.Context, txHash, senderID string) (*types.FinalExecutionOutcome, error) {
	f.queried = append(f.queried, txHash)
	queue := f.outcomes[txHash]
	if len(queue) == 0 {
		return nil, near.ErrUnknownTransaction
	}
	next := queue[0]
	if len(queue) > 1 {
		f.outcomes[txHash] = queue[1:]
	}
	if next == nil {
		return nil, near.ErrUnknownTransaction
	}
	return next, nil
}

type fakeSigner struct {
	message string
	err     error
}

func (f *fakeSigner) SignMessage(ctx context.Context, message string) (string, error) {
	f.message = message
	if f.err != nil {
		return "", f.err
	}
	return "sig-1", nil
}

type denyGate struct{}

func (denyGate) Check(ctx context.Context, btcAccount string) error {
	return types.ErrWhitelist
}

func success() *types.FinalExecutionOutcome {
	value := ""
	return &types.FinalExecutionOutcome{Status: types.ExecutionStatus{SuccessValue: &value}}
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

type fixture struct {
	accounts *fakeAccounts
	gas      *fakeGas
	encoder  *fakeEncoder
	relay    *fakeRelay
	near     *fakeNear
	signer   *fakeSigner
}

func newFixture() *fixture {
	return &fixture{
		accounts: &fakeAccounts{},
		gas:      &fakeGas{},
		encoder:  &fakeEncoder{},
		relay:    &fakeRelay{nonce: 4, statuses: []*relay.IntentionStatus{{Status: 3}}},
		near:     &fakeNear{outcomes: map[string][]*types.FinalExecutionOutcome{}},
		signer:   &fakeSigner{},
	}
}

func (f *fixture) service(gate Gate) *Service {
	env := types.EnvConfig{BTCToken: "nbtc.testnet", AccountContractID: "acc.testnet"}
	return NewService(env, Deps{
		Accounts: f.accounts,
		Gas:      f.gas,
		Encoder:  f.encoder,
		Relay:    f.relay,
		Near:     f.near,
		Signer:   f.signer,
		Gate:     gate,
	}, Options{Sleep: noSleep, BTCMaxAttempts: 5, NearMaxAttempts: 5}, zerolog.Nop())
}

var creds = wallet.SessionCredentials{Account: "tb1qexample", BTCPublicKey: "02abc"}

func TestBuildIntentionFields(t *testing.T) {
	f := newFixture()
	svc := f.service(nil)

	intention := svc.Build("csna.testnet",
		[]types.EncodedTransaction{{TxHex: "aa"}, {TxHex: "bb"}},
		&gas.Estimate{GasLimit: 600, UseNearPayGas: false}, 7)

	raw, err := json.Marshal(intention)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"chain_id": "397",
		"csna": "csna.testnet",
		"near_transactions": ["aa", "bb"],
		"gas_token": "nbtc.testnet",
		"gas_limit": "600",
		"use_near_pay_gas": false,
		"nonce": "7"
	}`, string(raw))
}

func TestNonceTakesLargerCounter(t *testing.T) {
	f := newFixture()
	f.relay.nonce = 3
	f.accounts.info = &types.AccountInfo{Nonce: 9}

	nonce, err := f.service(nil).Nonce(context.Background(), "csna.testnet")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), nonce)

	f.relay.nonce = 12
	nonce, err = f.service(nil).Nonce(context.Background(), "csna.testnet")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), nonce)
}

func TestSignAndSendSkipsGasTransferOutcome(t *testing.T) {
	f := newFixture()
	f.relay.statuses = []*relay.IntentionStatus{{Status: 1}, {Status: 2}, {Status: 3}}
	f.near.outcomes["hash1"] = []*types.FinalExecutionOutcome{nil, success()}
	f.near.outcomes["hash2"] = []*types.FinalExecutionOutcome{success()}

	txs := []types.PendingTransaction{{ReceiverID: "a.testnet"}, {ReceiverID: "b.testnet"}}
	outcomes, err := f.service(nil).SignAndSendTransactions(context.Background(), creds, txs)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	assert.Equal(t, 1, f.accounts.debtCalls)
	require.Len(t, f.encoder.batch, 3)
	assert.Equal(t, "nbtc.testnet", f.encoder.batch[0].ReceiverID)
	assert.Equal(t, "csna.testnet", f.gas.req.CSNA)
	assert.Equal(t, gas.StrategyAuto, f.gas.req.Strategy)
	assert.Equal(t, "secp256k1:contractKey", f.gas.req.PublicKey)
	assert.Equal(t, "secp256k1:contractKey", f.encoder.publicKey)
	assert.Equal(t, 1, f.accounts.keyCalls)

	assert.NotContains(t, f.near.queried, "hash0")

	assert.Equal(t, "sig-1", f.relay.submitted.Sig)
	assert.Equal(t, "02abc", f.relay.submitted.BTCPubKey)
	data, err := hex.DecodeString(f.relay.submitted.Data)
	require.NoError(t, err)
	assert.Equal(t, f.signer.message, string(data))

	var intention types.Intention
	require.NoError(t, json.Unmarshal(data, &intention))
	assert.Equal(t, "4", intention.Nonce)
	assert.Equal(t, []string{"00", "01", "02"}, intention.NearTransactions)
}

func TestSignAndSendUsesSessionPublicKey(t *testing.T) {
	f := newFixture()
	f.near.outcomes["hash1"] = []*types.FinalExecutionOutcome{success()}

	session := creds
	session.PublicKey = "secp256k1:sessionKey"
	_, err := f.service(nil).SignAndSendTransactions(context.Background(), session,
		[]types.PendingTransaction{{ReceiverID: "a.testnet"}})
	require.NoError(t, err)
	assert.Equal(t, 0, f.accounts.keyCalls)
	assert.Equal(t, "secp256k1:sessionKey", f.encoder.publicKey)
	assert.Equal(t, "secp256k1:sessionKey", f.gas.req.PublicKey)
}

func TestSignAndSendUsesRelayHashList(t *testing.T) {
	f := newFixture()
	f.relay.statuses = []*relay.IntentionStatus{{Status: 3, NearHashList: []string{"r0", "r1"}}}
	f.near.outcomes["r1"] = []*types.FinalExecutionOutcome{success()}

	outcomes, err := f.service(nil).SignAndSendTransactions(context.Background(), creds,
		[]types.PendingTransaction{{ReceiverID: "a.testnet"}})
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, []string{"r1"}, f.near.queried)
}

func TestWaitForBTCTxFailureStatus(t *testing.T) {
	f := newFixture()
	f.relay.statuses = []*relay.IntentionStatus{{Status: 2}, {Status: 101}, {Status: 3}}

	_, err := f.service(nil).WaitForBTCTx(context.Background(), "sig")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTransactionFailed))
	assert.Equal(t, 2, f.relay.calls)
}

func TestWaitForBTCTxTimeout(t *testing.T) {
	f := newFixture()
	f.relay.statuses = []*relay.IntentionStatus{{Status: 1}}

	_, err := f.service(nil).WaitForBTCTx(context.Background(), "sig")
	assert.True(t, errors.Is(err, types.ErrPollingTimeout))
}

func TestWaitForNearFinalityFailure(t *testing.T) {
	f := newFixture()
	f.near.outcomes["h"] = []*types.FinalExecutionOutcome{{
		Status: types.ExecutionStatus{Failure: json.RawMessage(`{"ActionError":{}}`)},
	}}

	_, err := f.service(nil).WaitForNearFinality(context.Background(), []string{"h"}, "csna.testnet")
	assert.True(t, errors.Is(err, types.ErrTransactionFailed))
}

func TestSignRejectedByUser(t *testing.T) {
	f := newFixture()
	f.signer.err = errors.New("User rejected the request.")

	_, err := f.service(nil).SignAndSendTransactions(context.Background(), creds,
		[]types.PendingTransaction{{ReceiverID: "a.testnet"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUserRejected))
	assert.Empty(t, f.relay.submitted.Sig)
}

func TestSignAndSendStopsOnDebt(t *testing.T) {
	f := newFixture()
	f.accounts.debtErr = types.ErrDebtUnresolved

	_, err := f.service(nil).SignAndSendTransactions(context.Background(), creds,
		[]types.PendingTransaction{{ReceiverID: "a.testnet"}})
	assert.True(t, errors.Is(err, types.ErrDebtUnresolved))
	assert.Nil(t, f.encoder.batch)
}

func TestSignAndSendGate(t *testing.T) {
	f := newFixture()

	_, err := f.service(denyGate{}).SignAndSendTransactions(context.Background(), creds,
		[]types.PendingTransaction{{ReceiverID: "a.testnet"}})
	assert.True(t, errors.Is(err, types.ErrWhitelist))
	assert.Equal(t, 0, f.accounts.debtCalls)
}

func TestSignAndSendRequiresPublicKey(t *testing.T) {
	f := newFixture()

	_, err := f.service(nil).SignAndSendTransactions(context.Background(), wallet.SessionCredentials{},
		[]types.PendingTransaction{{ReceiverID: "a.testnet"}})
	assert.True(t, errors.Is(err, types.ErrAccountDerivation))
}
