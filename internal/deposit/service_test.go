package deposit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/relay"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	info *types.AccountInfo
	cfg  *types.BridgeConfig
}

func (f *fakeAccounts) GetCsnaAccountID(ctx context.Context, btcPublicKey string) (string, error) {
	return "csna.testnet", nil
}

func (f *fakeAccounts) GetAccountInfo(ctx context.Context, csna string) (*types.AccountInfo, error) {
	return f.info, nil
}

func (f *fakeAccounts) GetBridgeConfig(ctx context.Context) (*types.BridgeConfig, error) {
	return f.cfg, nil
}

type fakeNear struct {
	storage     map[string]*types.StorageBalance
	addressArgs []string
}

func (f *fakeNear) ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	f.addressArgs = append(f.addressArgs, string(raw))
	sum := sha256.Sum256(raw)
	return json.Marshal("tb1q" + hex.EncodeToString(sum[:8]))
}

func (f *fakeNear) StorageBalanceOf(ctx context.Context, contractID, accountID string) (*types.StorageBalance, error) {
	return f.storage[contractID], nil
}

type fakeRelay struct {
	pre      *relay.DepositMsgRequest
	received *relay.DepositMsgRequest
	statuses []*relay.BridgeTxStatus
	calls    int
	// onSuccess runs when a successful status is served
	onSuccess func()
}

func (f *fakeRelay) PreReceiveDepositMsg(ctx context.Context, req relay.DepositMsgRequest) error {
	f.pre = &req
	return nil
}

func (f *fakeRelay) ReceiveDepositMsg(ctx context.Context, req relay.DepositMsgRequest) error {
	f.received = &req
	return nil
}

func (f *fakeRelay) BridgeFromTx(ctx context.Context, fromTxHash string, fromChainID types.BridgeChainID) (*relay.BridgeTxStatus, error) {
	status := f.statuses[f.calls]
	f.calls++
	if status.Status == relay.BridgeStatusSuccess && f.onSuccess != nil {
		f.onSuccess()
	}
	return status, nil
}

type fakeSender struct {
	address string
	amount  uint64
	opts    wallet.SendOptions
	err     error
}

func (f *fakeSender) SendBitcoin(ctx context.Context, address string, satoshis uint64, opts wallet.SendOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.address, f.amount, f.opts = address, satoshis, opts
	return "btctx1", nil
}

type fixedFeeRate uint64

func (r fixedFeeRate) FastestFeeRate(ctx context.Context) (uint64, error) {
	return uint64(r), nil
}

type fakeFinality struct{ hashes []string }

func (f *fakeFinality) WaitForNearFinality(ctx context.Context, hashes []string, senderID string) ([]*types.FinalExecutionOutcome, error) {
	f.hashes = hashes
	return []*types.FinalExecutionOutcome{{}}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

type fixture struct {
	accounts *fakeAccounts
	near     *fakeNear
	relay    *fakeRelay
	sender   *fakeSender
	finality *fakeFinality
}

func newFixture(info *types.AccountInfo) *fixture {
	return &fixture{
		accounts: &fakeAccounts{
			info: info,
			cfg: &types.BridgeConfig{
				DepositBridgeFee: types.BridgeFee{FeeMin: 100, FeeRate: 0.001},
				MinDepositAmount: 500,
			},
		},
		near:     &fakeNear{storage: map[string]*types.StorageBalance{}},
		relay:    &fakeRelay{},
		sender:   &fakeSender{},
		finality: &fakeFinality{},
	}
}

func (f *fixture) service() *Service {
	env := types.EnvConfig{
		BTCToken:          "nbtc.testnet",
		BTCTokenDecimals:  8,
		AccountContractID: "acc.testnet",
		BridgeContractID:  "bridge.testnet",
	}
	return NewService(env, Deps{
		Accounts: f.accounts,
		Near:     f.near,
		Relay:    f.relay,
		FeeRates: fixedFeeRate(12),
		Finality: f.finality,
		Sender:   f.sender,
	}, Options{Sleep: noSleep, BridgeMaxAttempts: 10}, zerolog.Nop())
}

var creds = wallet.SessionCredentials{Account: "tb1quser", BTCPublicKey: "02abc", NearAccountID: "csna.testnet"}

func existing() *types.AccountInfo {
	return &types.AccountInfo{Nonce: 3, Registered: true}
}

func TestGetDepositAmountNewAccount(t *testing.T) {
	f := newFixture(&types.AccountInfo{})

	breakdown, err := f.service().GetDepositAmount(context.Background(), 10000, "csna.testnet", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), breakdown.ProtocolFee)
	assert.Equal(t, uint64(1000), breakdown.NewAccountMinDepositAmount)
	assert.Equal(t, uint64(1600), breakdown.MinDepositAmount)
	assert.Equal(t, uint64(9900), breakdown.ReceiveAmount)
	assert.Equal(t, uint64(0), breakdown.RepayAmount)
}

func TestGetDepositAmountIncludesDebt(t *testing.T) {
	info := existing()
	info.DebtInfo = &types.DebtInfo{NearGasDebtAmount: 300, ProtocolFeeDebtAmount: 50}
	f := newFixture(info)

	breakdown, err := f.service().GetDepositAmount(context.Background(), 10000, "csna.testnet", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(350), breakdown.RepayAmount)
	assert.Equal(t, uint64(0), breakdown.NewAccountMinDepositAmount)
	assert.Equal(t, uint64(950), breakdown.MinDepositAmount)
	assert.Equal(t, uint64(9550), breakdown.ReceiveAmount)
}

func TestExecuteRejectsBelowMinimum(t *testing.T) {
	f := newFixture(&types.AccountInfo{})

	_, err := f.service().ExecuteBTCDepositAndAction(context.Background(), Request{
		Credentials:                creds,
		Amount:                     1000,
		NewAccountMinDepositAmount: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidAmount))
	assert.Contains(t, err.Error(), "0.000016 BTC")
	assert.Empty(t, f.sender.address)
	assert.Nil(t, f.relay.pre)
}

func TestExecuteRequiresAmountOrAction(t *testing.T) {
	f := newFixture(existing())

	_, err := f.service().ExecuteBTCDepositAndAction(context.Background(), Request{Credentials: creds})
	assert.True(t, errors.Is(err, types.ErrInvalidAmount))

	_, err = f.service().ExecuteBTCDepositAndAction(context.Background(), Request{Amount: 5000})
	assert.True(t, errors.Is(err, types.ErrAccountDerivation))
}

func TestExecutePlainDeposit(t *testing.T) {
	f := newFixture(existing())
	f.near.storage["nbtc.testnet"] = &types.StorageBalance{Total: "1250000000000000000000"}

	result, err := f.service().ExecuteBTCDepositAndAction(context.Background(), Request{
		Credentials: creds,
		Amount:      5000,
	})
	require.NoError(t, err)
	assert.Equal(t, "btctx1", result.BTCTxHash)
	assert.Equal(t, uint64(4900), result.Breakdown.ReceiveAmount)

	assert.Equal(t, result.DepositAddress, f.sender.address)
	assert.Equal(t, uint64(5000), f.sender.amount)
	assert.Equal(t, uint64(12), f.sender.opts.FeeRate)

	require.NotNil(t, f.relay.pre)
	assert.Equal(t, TypePlain, f.relay.pre.DepositType)
	assert.Empty(t, f.relay.pre.TxHash)
	assert.Nil(t, f.relay.pre.PostActions)
	assert.Empty(t, f.relay.pre.ExtraMsg)
	assert.Equal(t, result.DepositAddress, f.relay.pre.UserDepositAddress)

	require.NotNil(t, f.relay.received)
	assert.Equal(t, "btctx1", f.relay.received.TxHash)

	require.Len(t, f.near.addressArgs, 1)
	assert.JSONEq(t, `{"deposit_msg":{"recipient_id":"csna.testnet"}}`, f.near.addressArgs[0])
	assert.Equal(t, 0, f.relay.calls)
}

func TestExecuteNewAccountWithAction(t *testing.T) {
	f := newFixture(&types.AccountInfo{})

	_, err := f.service().ExecuteBTCDepositAndAction(context.Background(), Request{
		Credentials: creds,
		Amount:      999,
		FeeRate:     30,
		Action:      &Action{ReceiverID: "dex.testnet", Amount: 20000, Msg: "swap"},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(20000), f.sender.amount)
	assert.Equal(t, uint64(30), f.sender.opts.FeeRate)
	assert.Equal(t, TypeWithAction, f.relay.pre.DepositType)

	var actions []types.PostAction
	require.NoError(t, json.Unmarshal(f.relay.pre.PostActions, &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, types.PostAction{ReceiverID: "acc.testnet", Amount: "1000", Msg: types.MsgRelayerFee}, actions[0])
	assert.Equal(t, types.PostAction{ReceiverID: "dex.testnet", Amount: "18900", Msg: "swap"}, actions[1])

	var extra ExtraMsg
	require.NoError(t, json.Unmarshal([]byte(f.relay.pre.ExtraMsg), &extra))
	assert.Equal(t, "02abc", extra.BTCPublicKey)
	require.NotNil(t, extra.StorageDepositMsg)
	assert.Equal(t, "dex.testnet", extra.StorageDepositMsg.ContractID)
	assert.Equal(t, DefaultStorageDeposit, extra.StorageDepositMsg.Deposit)
	assert.True(t, extra.StorageDepositMsg.RegistrationOnly)
}

func TestExecuteUserRejectsPayment(t *testing.T) {
	f := newFixture(existing())
	f.sender.err = errors.New("User rejected the request")

	_, err := f.service().ExecuteBTCDepositAndAction(context.Background(), Request{Credentials: creds, Amount: 5000})
	assert.True(t, errors.Is(err, types.ErrUserRejected))
	assert.Nil(t, f.relay.received)
}

func TestDepositAddressIsDeterministic(t *testing.T) {
	f := newFixture(existing())
	svc := f.service()

	build := func() DepositMsg {
		msg, err := buildDepositMsg("csna.testnet",
			[]types.PostAction{{ReceiverID: "acc.testnet", Amount: "500", Msg: types.MsgRepay}},
			ExtraMsg{BTCPublicKey: "02abc"})
		require.NoError(t, err)
		return msg
	}

	first, err := svc.DepositAddress(context.Background(), build())
	require.NoError(t, err)
	second, err := svc.DepositAddress(context.Background(), build())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, f.near.addressArgs, 2)
	assert.Equal(t, f.near.addressArgs[0], f.near.addressArgs[1])
}

func TestWaitForBridgeVerified(t *testing.T) {
	f := newFixture(existing())
	f.relay.statuses = []*relay.BridgeTxStatus{{Status: 2}, {Status: 2}, {Status: 4, ToTxHash: "nearhash"}}

	status, err := f.service().WaitForBridge(context.Background(), "btctx1")
	require.NoError(t, err)
	assert.Equal(t, "nearhash", status.ToTxHash)
	assert.Equal(t, 3, f.relay.calls)
}

func TestWaitForBridgeFailsImmediately(t *testing.T) {
	f := newFixture(existing())
	f.relay.statuses = []*relay.BridgeTxStatus{{Status: 55}, {Status: 4}}

	_, err := f.service().WaitForBridge(context.Background(), "btctx1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTransactionFailed))
	assert.Equal(t, 1, f.relay.calls)
}

func TestExecutePollsResult(t *testing.T) {
	f := newFixture(existing())
	f.relay.statuses = []*relay.BridgeTxStatus{{Status: 1}, {Status: 4, ToTxHash: "nearhash"}}

	result, err := f.service().ExecuteBTCDepositAndAction(context.Background(), Request{
		Credentials: creds,
		Amount:      5000,
		PollResult:  true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 1)
	assert.Equal(t, []string{"nearhash"}, f.finality.hashes)
}

func TestDepositMinimumSettlesDebt(t *testing.T) {
	info := existing()
	info.DebtInfo = &types.DebtInfo{NearGasDebtAmount: 500}
	f := newFixture(info)
	f.near.storage["nbtc.testnet"] = &types.StorageBalance{}
	f.relay.statuses = []*relay.BridgeTxStatus{{Status: 1}, {Status: 2}, {Status: 4, ToTxHash: "nearhash"}}
	f.relay.onSuccess = func() { info.DebtInfo = nil }

	txHash, err := f.service().DepositMinimum(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "btctx1", txHash)
	assert.Equal(t, uint64(1100), f.sender.amount)
	assert.Equal(t, 3, f.relay.calls)
	assert.Nil(t, f.accounts.info.DebtInfo)
	assert.Equal(t, []string{"nearhash"}, f.finality.hashes)

	var actions []types.PostAction
	require.NoError(t, json.Unmarshal(f.relay.pre.PostActions, &actions))
	assert.Equal(t, []types.PostAction{{ReceiverID: "acc.testnet", Amount: "500", Msg: types.MsgRepay}}, actions)
}

func TestDepositMinimumReportsBridgeFailure(t *testing.T) {
	info := existing()
	info.DebtInfo = &types.DebtInfo{NearGasDebtAmount: 500}
	f := newFixture(info)
	f.near.storage["nbtc.testnet"] = &types.StorageBalance{}
	f.relay.statuses = []*relay.BridgeTxStatus{{Status: 1}, {Status: 60}}

	_, err := f.service().DepositMinimum(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTransactionFailed))
	assert.NotNil(t, f.accounts.info.DebtInfo)
}
