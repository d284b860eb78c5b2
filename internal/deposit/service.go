package deposit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/account"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/events"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/fees"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/poller"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/relay"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
)

// Accounts resolves the CSNA, its contract state and the bridge configuration
type Accounts interface {
	GetCsnaAccountID(ctx context.Context, btcPublicKey string) (string, error)
	GetAccountInfo(ctx context.Context, csna string) (*types.AccountInfo, error)
	GetBridgeConfig(ctx context.Context) (*types.BridgeConfig, error)
}

// NearViewer runs the view calls a deposit needs
type NearViewer interface {
	ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error)
	StorageBalanceOf(ctx context.Context, contractID, accountID string) (*types.StorageBalance, error)
}

// Relay is the subset of the relay backend used for deposits
type Relay interface {
	PreReceiveDepositMsg(ctx context.Context, req relay.DepositMsgRequest) error
	ReceiveDepositMsg(ctx context.Context, req relay.DepositMsgRequest) error
	BridgeFromTx(ctx context.Context, fromTxHash string, fromChainID types.BridgeChainID) (*relay.BridgeTxStatus, error)
}

// FeeRates supplies a default BTC fee rate in sat/vB
type FeeRates interface {
	FastestFeeRate(ctx context.Context) (uint64, error)
}

// Finality waits for NEAR transactions to finalize
type Finality interface {
	WaitForNearFinality(ctx context.Context, hashes []string, senderID string) ([]*types.FinalExecutionOutcome, error)
}

// Sender broadcasts BTC payments from the connected wallet
type Sender interface {
	SendBitcoin(ctx context.Context, address string, satoshis uint64, opts wallet.SendOptions) (string, error)
}

// Gate admits or refuses a BTC account
type Gate interface {
	Check(ctx context.Context, btcAccount string) error
}

// Action is a token call executed with the minted BTC token once the deposit lands
type Action struct {
	ReceiverID string `json:"receiver_id"`
	// Amount is the BTC deposited for the action, in satoshis
	Amount uint64 `json:"amount,string"`
	Msg    string `json:"msg,omitempty"`
	Gas    string `json:"gas,omitempty"`
}

// Request is the input of ExecuteBTCDepositAndAction
type Request struct {
	Credentials wallet.SessionCredentials
	// Action, when set, fixes the deposited amount to Action.Amount
	Action *Action
	Amount uint64
	// FeeRate in sat/vB; zero uses the explorer's fastest rate
	FeeRate uint64
	// RegisterDeposit overrides the storage deposit attached on registration
	RegisterDeposit string
	// PollResult waits for the bridge and NEAR outcome instead of returning after broadcast
	PollResult bool
	// NewAccountMinDepositAmount charges the new-account minimum for unregistered accounts
	NewAccountMinDepositAmount bool
}

// Result describes a broadcast deposit
type Result struct {
	BTCTxHash      string                         `json:"btc_tx_hash"`
	DepositAddress string                         `json:"deposit_address"`
	Breakdown      fees.DepositBreakdown          `json:"breakdown"`
	Outcomes       []*types.FinalExecutionOutcome `json:"outcomes,omitempty"`
}

// Options configures bridge polling
type Options struct {
	BridgePollInterval time.Duration
	BridgeMaxAttempts  int
	Sleep              func(ctx context.Context, d time.Duration) error
}

// Deps groups the collaborators of a Service
type Deps struct {
	Accounts Accounts
	Near     NearViewer
	Relay    Relay
	FeeRates FeeRates
	Finality Finality
	Sender   Sender
	Gate     Gate
	Events   events.Publisher
}

// Service orchestrates BTC deposits into the CSNA
type Service struct {
	env      types.EnvConfig
	accounts Accounts
	near     NearViewer
	relay    Relay
	feeRates FeeRates
	finality Finality
	sender   Sender
	gate     Gate
	events   events.Publisher
	opts     Options
	logger   zerolog.Logger
}

// NewService creates a new deposit orchestrator
func NewService(env types.EnvConfig, deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.BridgePollInterval <= 0 {
		opts.BridgePollInterval = 5 * time.Second
	}
	if opts.BridgeMaxAttempts <= 0 {
		opts.BridgeMaxAttempts = 360
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}

	return &Service{
		env:      env,
		accounts: deps.Accounts,
		near:     deps.Near,
		relay:    deps.Relay,
		feeRates: deps.FeeRates,
		finality: deps.Finality,
		sender:   deps.Sender,
		gate:     deps.Gate,
		events:   deps.Events,
		opts:     opts,
		logger:   logger.With().Str("component", "deposit").Logger(),
	}
}

// GetDepositAmount quotes a deposit of amount satoshis for csna. An empty csna quotes
// without account-dependent charges.
func (s *Service) GetDepositAmount(ctx context.Context, amount uint64, csna string, chargeNewAccount bool) (*fees.DepositBreakdown, error) {
	cfg, err := s.accounts.GetBridgeConfig(ctx)
	if err != nil {
		return nil, err
	}

	info := &types.AccountInfo{}
	if csna != "" {
		info, err = s.accounts.GetAccountInfo(ctx, csna)
		if err != nil {
			return nil, err
		}
	}

	breakdown := fees.CalculateDeposit(amount, cfg, fees.DepositOptions{
		RepayAmount:      info.TotalDebt(),
		ChargeNewAccount: chargeNewAccount && info.IsNew(),
	})
	return &breakdown, nil
}

// DepositAddress derives the one-time deposit address for msg from the bridge contract
func (s *Service) DepositAddress(ctx context.Context, msg DepositMsg) (string, error) {
	raw, err := s.near.ViewFunction(ctx, s.env.BridgeContractID, "get_user_deposit_address",
		map[string]interface{}{"deposit_msg": msg})
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	var address string
	if err := json.Unmarshal(raw, &address); err != nil || address == "" {
		return "", fmt.Errorf("%w: unexpected deposit address %s", types.ErrChainQuery, string(raw))
	}
	return address, nil
}

// ExecuteBTCDepositAndAction deposits BTC into the CSNA and optionally runs an action with
// the minted tokens. Without PollResult it returns once the payment is broadcast.
func (s *Service) ExecuteBTCDepositAndAction(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result, err := s.execute(ctx, req)

	status := "success"
	if err != nil {
		status = "failure"
	}
	monitoring.RecordOperation("deposit", status, time.Since(start).Seconds())
	return result, err
}

func (s *Service) execute(ctx context.Context, req Request) (*Result, error) {
	creds := req.Credentials
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAccountDerivation, err)
	}

	amount := req.Amount
	if req.Action != nil {
		amount = req.Action.Amount
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount or action is required", types.ErrInvalidAmount)
	}

	if s.gate != nil {
		if err := s.gate.Check(ctx, creds.Account); err != nil {
			return nil, err
		}
	}

	csna, err := s.csna(ctx, creds)
	if err != nil {
		return nil, err
	}

	info, err := s.accounts.GetAccountInfo(ctx, csna)
	if err != nil {
		return nil, err
	}
	cfg, err := s.accounts.GetBridgeConfig(ctx)
	if err != nil {
		return nil, err
	}

	breakdown := fees.CalculateDeposit(amount, cfg, fees.DepositOptions{
		RepayAmount:      info.TotalDebt(),
		ChargeNewAccount: req.NewAccountMinDepositAmount && info.IsNew(),
	})
	if err := fees.ValidateDeposit(amount, breakdown, s.env.BTCTokenDecimals); err != nil {
		return nil, err
	}

	postActions, err := s.postActions(info, req.Action, breakdown)
	if err != nil {
		return nil, err
	}

	extra, err := s.registration(ctx, csna, creds.BTCPublicKey, info, req)
	if err != nil {
		return nil, err
	}

	msg, err := buildDepositMsg(csna, postActions, extra)
	if err != nil {
		return nil, err
	}

	address, err := s.DepositAddress(ctx, msg)
	if err != nil {
		return nil, err
	}

	postActionsJSON, err := msg.postActionsJSON()
	if err != nil {
		return nil, err
	}
	relayMsg := relay.DepositMsgRequest{
		BTCPublicKey:       creds.BTCPublicKey,
		DepositType:        msg.Type(),
		PostActions:        postActionsJSON,
		ExtraMsg:           msg.ExtraMsg,
		UserDepositAddress: address,
	}
	if err := s.relay.PreReceiveDepositMsg(ctx, relayMsg); err != nil {
		return nil, err
	}

	feeRate := req.FeeRate
	if feeRate == 0 && s.feeRates != nil {
		feeRate, err = s.feeRates.FastestFeeRate(ctx)
		if err != nil {
			return nil, err
		}
	}

	txHash, err := s.sender.SendBitcoin(ctx, address, amount, wallet.SendOptions{FeeRate: feeRate})
	if err != nil {
		if wallet.IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrUserRejected, err)
		}
		return nil, fmt.Errorf("failed to send bitcoin: %w", err)
	}

	relayMsg.TxHash = txHash
	if err := s.relay.ReceiveDepositMsg(ctx, relayMsg); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("csna", csna).
		Str("btc_tx", txHash).
		Str("deposit_address", address).
		Uint64("amount", amount).
		Uint64("fee_rate", feeRate).
		Int("deposit_type", msg.Type()).
		Msg("Deposit broadcast")

	sent := events.NewEvent(events.TypeDepositSent, csna, txHash)
	sent.Data = map[string]string{"amount": strconv.FormatUint(amount, 10), "address": address}
	events.Emit(ctx, s.events, s.logger, sent)

	result := &Result{BTCTxHash: txHash, DepositAddress: address, Breakdown: breakdown}
	if !req.PollResult {
		return result, nil
	}

	outcomes, err := s.waitForDeposit(ctx, csna, txHash)
	if err != nil {
		failed := events.NewEvent(events.TypeDepositFailed, csna, txHash)
		failed.Status = err.Error()
		events.Emit(ctx, s.events, s.logger, failed)
		return result, err
	}
	result.Outcomes = outcomes
	events.Emit(ctx, s.events, s.logger, events.NewEvent(events.TypeDepositConfirmed, csna, txHash))

	return result, nil
}

// WaitForBridge polls the relay until the deposit is verified or failed
func (s *Service) WaitForBridge(ctx context.Context, txHash string) (*relay.BridgeTxStatus, error) {
	return poller.Until(ctx,
		func(ctx context.Context) (*relay.BridgeTxStatus, error) {
			return s.relay.BridgeFromTx(ctx, txHash, types.BridgeChainBTC)
		},
		func(status *relay.BridgeTxStatus) (bool, error) {
			if status == nil {
				return false, nil
			}
			if status.Status >= relay.BridgeStatusFailedFrom {
				return true, fmt.Errorf("%w: bridge status %d for %s", types.ErrTransactionFailed, status.Status, txHash)
			}
			return status.Status == relay.BridgeStatusSuccess, nil
		},
		poller.Options{
			Name:        "bridge",
			Interval:    s.opts.BridgePollInterval,
			MaxAttempts: s.opts.BridgeMaxAttempts,
			Logger:      s.logger,
			Sleep:       s.opts.Sleep,
		})
}

func (s *Service) waitForDeposit(ctx context.Context, csna, txHash string) ([]*types.FinalExecutionOutcome, error) {
	status, err := s.WaitForBridge(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if status.ToTxHash == "" || s.finality == nil {
		return nil, nil
	}
	return s.finality.WaitForNearFinality(ctx, []string{status.ToTxHash}, csna)
}

// DepositMinimum broadcasts the smallest deposit the bridge accepts for the account,
// settling its arrears through the repay post action. It returns once the bridge has
// executed the deposit, so the debt is cleared on chain.
func (s *Service) DepositMinimum(ctx context.Context, creds wallet.SessionCredentials) (string, error) {
	csna, err := s.csna(ctx, creds)
	if err != nil {
		return "", err
	}

	var amount uint64
	for i := 0; i < 3; i++ {
		breakdown, err := s.GetDepositAmount(ctx, amount, csna, false)
		if err != nil {
			return "", err
		}
		if amount >= breakdown.MinDepositAmount {
			break
		}
		amount = breakdown.MinDepositAmount
	}

	creds.NearAccountID = csna
	result, err := s.ExecuteBTCDepositAndAction(ctx, Request{
		Credentials: creds,
		Amount:      amount,
		PollResult:  true,
	})
	if err != nil {
		return "", err
	}
	return result.BTCTxHash, nil
}

var _ account.DebtDepositor = (*Service)(nil)

func (s *Service) csna(ctx context.Context, creds wallet.SessionCredentials) (string, error) {
	if creds.NearAccountID != "" {
		return creds.NearAccountID, nil
	}
	return s.accounts.GetCsnaAccountID(ctx, creds.BTCPublicKey)
}

// postActions returns the arrears action followed by the caller's action. The caller's
// action receives what is left of the minted amount after fees and arrears.
func (s *Service) postActions(info *types.AccountInfo, action *Action, breakdown fees.DepositBreakdown) ([]types.PostAction, error) {
	var actions []types.PostAction

	var relayerFee uint64
	if debt := account.DebtAction(info, s.env.AccountContractID); debt != nil {
		actions = append(actions, *debt)
		if debt.Msg == types.MsgRelayerFee {
			relayerFee, _ = strconv.ParseUint(debt.Amount, 10, 64)
		}
	}

	if action == nil {
		return actions, nil
	}

	if breakdown.ReceiveAmount <= relayerFee {
		return nil, fmt.Errorf("%w: deposit does not cover fees of %s BTC", types.ErrInvalidAmount,
			fees.FormatUnits(breakdown.ProtocolFee+breakdown.RepayAmount+relayerFee, s.env.BTCTokenDecimals))
	}

	actions = append(actions, types.PostAction{
		ReceiverID: action.ReceiverID,
		Amount:     strconv.FormatUint(breakdown.ReceiveAmount-relayerFee, 10),
		Msg:        action.Msg,
		Gas:        action.Gas,
	})
	return actions, nil
}

// registration embeds what the bridge must register alongside the deposit
func (s *Service) registration(ctx context.Context, csna, btcPublicKey string, info *types.AccountInfo, req Request) (ExtraMsg, error) {
	var extra ExtraMsg

	contractID := s.env.BTCToken
	if req.Action != nil && req.Action.ReceiverID != "" {
		contractID = req.Action.ReceiverID
	}

	storage, err := s.near.StorageBalanceOf(ctx, contractID, csna)
	if err != nil {
		return extra, fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}
	if storage == nil {
		deposit := req.RegisterDeposit
		if deposit == "" {
			deposit = DefaultStorageDeposit
		}
		extra.StorageDepositMsg = &StorageDepositMsg{
			ContractID:       contractID,
			Deposit:          deposit,
			RegistrationOnly: true,
		}
	}

	if info.IsNew() {
		extra.BTCPublicKey = btcPublicKey
	}

	return extra, nil
}
