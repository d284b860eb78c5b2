package intention

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/account"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/events"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/gas"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/poller"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/relay"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
)

// Default BTC transaction status thresholds reported by /v1/btcTx
const (
	DefaultBTCFailedStatus = 100
)

// Relay is the subset of the relay backend used to submit intentions
type Relay interface {
	Nonce(ctx context.Context, csna string) (uint64, error)
	ReceiveTransaction(ctx context.Context, req relay.ReceiveTransactionRequest) error
	BTCTx(ctx context.Context, sig string) (*relay.IntentionStatus, error)
}

// Signer signs intention messages with the BTC wallet key
type Signer interface {
	SignMessage(ctx context.Context, message string) (string, error)
}

// NearStatus reports NEAR transaction outcomes
type NearStatus interface {
	TxStatus(ctx context.Context, txHash, senderID string) (*types.FinalExecutionOutcome, error)
}

// Accounts resolves the CSNA and its contract state
type Accounts interface {
	GetCsnaAccountID(ctx context.Context, btcPublicKey string) (string, error)
	GetCsnaPublicKey(ctx context.Context, btcPublicKey string) (string, error)
	GetAccountInfo(ctx context.Context, csna string) (*types.AccountInfo, error)
	CheckGasTokenDebt(ctx context.Context, req account.DebtCheck) (*types.PostAction, error)
}

// GasEstimator sizes gas payment for a batch
type GasEstimator interface {
	Estimate(ctx context.Context, req gas.Request) (*gas.Estimate, error)
}

// BatchEncoder encodes pending transactions with consecutive nonces
type BatchEncoder interface {
	EncodeBatch(ctx context.Context, csna, publicKey string, txs []types.PendingTransaction) ([]types.EncodedTransaction, error)
}

// Gate admits or refuses a BTC account
type Gate interface {
	Check(ctx context.Context, btcAccount string) error
}

// Options configures polling and gas selection
type Options struct {
	GasStrategy      gas.Strategy
	BTCPollInterval  time.Duration
	BTCMaxAttempts   int
	NearPollInterval time.Duration
	NearMaxAttempts  int
	// BTCFailedStatus is the lowest /v1/btcTx status treated as failure
	BTCFailedStatus int
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Service builds, signs, submits and confirms intentions
type Service struct {
	env      types.EnvConfig
	accounts Accounts
	gas      GasEstimator
	encoder  BatchEncoder
	relay    Relay
	near     NearStatus
	signer   Signer
	gate     Gate
	events   events.Publisher
	opts     Options
	logger   zerolog.Logger
}

// Deps groups the collaborators of a Service
type Deps struct {
	Accounts Accounts
	Gas      GasEstimator
	Encoder  BatchEncoder
	Relay    Relay
	Near     NearStatus
	Signer   Signer
	Gate     Gate
	Events   events.Publisher
}

// NewService creates a new intention service
func NewService(env types.EnvConfig, deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.GasStrategy == "" {
		opts.GasStrategy = gas.StrategyAuto
	}
	if opts.BTCPollInterval <= 0 {
		opts.BTCPollInterval = 5 * time.Second
	}
	if opts.BTCMaxAttempts <= 0 {
		opts.BTCMaxAttempts = 360
	}
	if opts.NearPollInterval <= 0 {
		opts.NearPollInterval = 10 * time.Second
	}
	if opts.NearMaxAttempts <= 0 {
		opts.NearMaxAttempts = 180
	}
	if opts.BTCFailedStatus <= 0 {
		opts.BTCFailedStatus = DefaultBTCFailedStatus
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}

	return &Service{
		env:      env,
		accounts: deps.Accounts,
		gas:      deps.Gas,
		encoder:  deps.Encoder,
		relay:    deps.Relay,
		near:     deps.Near,
		signer:   deps.Signer,
		gate:     deps.Gate,
		events:   deps.Events,
		opts:     opts,
		logger:   logger.With().Str("component", "intention").Logger(),
	}
}

// Build assembles the intention for an encoded batch
func (s *Service) Build(csna string, encoded []types.EncodedTransaction, estimate *gas.Estimate, nonce uint64) types.Intention {
	hexes := make([]string, len(encoded))
	for i, tx := range encoded {
		hexes[i] = tx.TxHex
	}
	return types.Intention{
		ChainID:          types.NearChainID,
		CSNA:             csna,
		NearTransactions: hexes,
		GasToken:         s.env.BTCToken,
		GasLimit:         strconv.FormatUint(estimate.GasLimit, 10),
		UseNearPayGas:    estimate.UseNearPayGas,
		Nonce:            strconv.FormatUint(nonce, 10),
	}
}

// Nonce returns the intention nonce: the larger of the relay counter and the contract nonce
func (s *Service) Nonce(ctx context.Context, csna string) (uint64, error) {
	relayNonce, err := s.relay.Nonce(ctx, csna)
	if err != nil {
		return 0, err
	}
	info, err := s.accounts.GetAccountInfo(ctx, csna)
	if err != nil {
		return 0, err
	}
	if contractNonce := uint64(info.Nonce); contractNonce > relayNonce {
		return contractNonce, nil
	}
	return relayNonce, nil
}

// Sign serializes the intention and signs it. It returns the signed message and signature.
func (s *Service) Sign(ctx context.Context, intention types.Intention) (string, string, error) {
	raw, err := json.Marshal(intention)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal intention: %w", err)
	}
	message := string(raw)

	sig, err := s.signer.SignMessage(ctx, message)
	if err != nil {
		if wallet.IsUserRejection(err) {
			return "", "", fmt.Errorf("%w: %v", types.ErrUserRejected, err)
		}
		return "", "", fmt.Errorf("failed to sign intention: %w", err)
	}
	return message, sig, nil
}

// Submit posts a signed intention to the relay
func (s *Service) Submit(ctx context.Context, btcPublicKey, message, sig string) error {
	return s.relay.ReceiveTransaction(ctx, relay.ReceiveTransactionRequest{
		Sig:       sig,
		BTCPubKey: btcPublicKey,
		Data:      hex.EncodeToString([]byte(message)),
	})
}

// WaitForBTCTx polls the relay until the intention reaches a terminal status
func (s *Service) WaitForBTCTx(ctx context.Context, sig string) (*relay.IntentionStatus, error) {
	return poller.Until(ctx,
		func(ctx context.Context) (*relay.IntentionStatus, error) {
			return s.relay.BTCTx(ctx, sig)
		},
		func(status *relay.IntentionStatus) (bool, error) {
			if status == nil {
				return false, nil
			}
			if status.Status >= s.opts.BTCFailedStatus {
				return true, fmt.Errorf("%w: relay reported status %d", types.ErrTransactionFailed, status.Status)
			}
			return status.Status >= relay.BTCTxStatusSuccess, nil
		},
		poller.Options{
			Name:        "btc_tx",
			Interval:    s.opts.BTCPollInterval,
			MaxAttempts: s.opts.BTCMaxAttempts,
			Logger:      s.logger,
			Sleep:       s.opts.Sleep,
		})
}

// WaitForNearFinality polls each hash until it has a final outcome. Unknown
// transactions keep polling; an execution failure ends with ErrTransactionFailed.
func (s *Service) WaitForNearFinality(ctx context.Context, hashes []string, senderID string) ([]*types.FinalExecutionOutcome, error) {
	outcomes := make([]*types.FinalExecutionOutcome, 0, len(hashes))
	for _, hash := range hashes {
		hash := hash
		outcome, err := poller.Until(ctx,
			func(ctx context.Context) (*types.FinalExecutionOutcome, error) {
				return s.near.TxStatus(ctx, hash, senderID)
			},
			func(outcome *types.FinalExecutionOutcome) (bool, error) {
				if outcome == nil {
					return false, nil
				}
				if outcome.Status.IsFailure() {
					return true, fmt.Errorf("%w: %s: %s", types.ErrTransactionFailed, hash, string(outcome.Status.Failure))
				}
				return outcome.Status.IsSuccess(), nil
			},
			poller.Options{
				Name:        "near_tx",
				Interval:    s.opts.NearPollInterval,
				MaxAttempts: s.opts.NearMaxAttempts,
				Logger:      s.logger,
				Sleep:       s.opts.Sleep,
			})
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// SignAndSendTransactions settles arrears, prepends the gas transfer, signs the batch as
// one intention and waits for the caller's transactions to finalize on NEAR. The gas
// transfer's outcome is not returned.
func (s *Service) SignAndSendTransactions(ctx context.Context, creds wallet.SessionCredentials, txs []types.PendingTransaction) ([]*types.FinalExecutionOutcome, error) {
	start := time.Now()
	outcomes, err := s.signAndSend(ctx, creds, txs)

	status := "success"
	if err != nil {
		status = "failure"
	}
	monitoring.RecordOperation("sign_and_send", status, time.Since(start).Seconds())
	return outcomes, err
}

func (s *Service) signAndSend(ctx context.Context, creds wallet.SessionCredentials, txs []types.PendingTransaction) ([]*types.FinalExecutionOutcome, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAccountDerivation, err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("no transactions to send")
	}
	if s.gate != nil {
		if err := s.gate.Check(ctx, creds.Account); err != nil {
			return nil, err
		}
	}

	csna := creds.NearAccountID
	if csna == "" {
		var err error
		csna, err = s.accounts.GetCsnaAccountID(ctx, creds.BTCPublicKey)
		if err != nil {
			return nil, err
		}
	}
	publicKey := creds.PublicKey
	if publicKey == "" {
		var err error
		publicKey, err = s.accounts.GetCsnaPublicKey(ctx, creds.BTCPublicKey)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.accounts.CheckGasTokenDebt(ctx, account.DebtCheck{
		CSNA:        csna,
		Credentials: creds,
		AutoDeposit: true,
	}); err != nil {
		return nil, err
	}

	estimate, err := s.gas.Estimate(ctx, gas.Request{
		CSNA:         csna,
		BTCPublicKey: creds.BTCPublicKey,
		PublicKey:    publicKey,
		Transactions: txs,
		Strategy:     s.opts.GasStrategy,
	})
	if err != nil {
		return nil, err
	}

	encoded, err := s.encoder.EncodeBatch(ctx, csna, publicKey, estimate.Batch(txs))
	if err != nil {
		return nil, err
	}

	nonce, err := s.Nonce(ctx, csna)
	if err != nil {
		return nil, err
	}

	intention := s.Build(csna, encoded, estimate, nonce)
	message, sig, err := s.Sign(ctx, intention)
	if err != nil {
		return nil, err
	}

	if err := s.Submit(ctx, creds.BTCPublicKey, message, sig); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("csna", csna).
		Str("nonce", intention.Nonce).
		Str("gas_limit", intention.GasLimit).
		Bool("use_near_pay_gas", intention.UseNearPayGas).
		Int("transactions", len(encoded)).
		Msg("Intention submitted")
	submitted := events.NewEvent(events.TypeIntentionSubmitted, csna, encoded[0].Hash)
	submitted.Data = map[string]string{"nonce": intention.Nonce, "gas_limit": intention.GasLimit}
	events.Emit(ctx, s.events, s.logger, submitted)

	status, err := s.WaitForBTCTx(ctx, sig)
	if err != nil {
		s.fail(ctx, csna, encoded[0].Hash, err)
		return nil, err
	}

	hashes := status.NearHashList
	if len(hashes) == 0 {
		hashes = make([]string, len(encoded))
		for i, tx := range encoded {
			hashes[i] = tx.Hash
		}
	}
	if len(hashes) > 0 {
		hashes = hashes[1:]
	}

	outcomes, err := s.WaitForNearFinality(ctx, hashes, csna)
	if err != nil {
		s.fail(ctx, csna, encoded[0].Hash, err)
		return nil, err
	}

	s.logger.Info().
		Str("csna", csna).
		Int("outcomes", len(outcomes)).
		Msg("Intention confirmed")
	events.Emit(ctx, s.events, s.logger, events.NewEvent(events.TypeIntentionConfirmed, csna, encoded[0].Hash))

	return outcomes, nil
}

func (s *Service) fail(ctx context.Context, csna, txHash string, err error) {
	s.logger.Error().Err(err).Str("csna", csna).Msg("Intention failed")
	event := events.NewEvent(events.TypeIntentionFailed, csna, txHash)
	event.Status = err.Error()
	events.Emit(ctx, s.events, s.logger, event)
}
