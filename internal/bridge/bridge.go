package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/account"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/api"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/blockchain/btc"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/blockchain/near"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/cache"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/config"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/deposit"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/events"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/gas"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/intention"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/relay"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/security"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/session"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/transaction"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/withdraw"
	"github.com/rs/zerolog"
)

// ErrNoWallet is returned by operations that need a connected wallet provider
var ErrNoWallet = errors.New("no wallet provider connected")

// Options supplies the user-facing collaborators. Both are optional: without a
// provider the bridge only serves planning calls.
type Options struct {
	Provider  wallet.Provider
	Confirmer wallet.Confirmer
	// SessionName scopes the persisted session record
	SessionName string
}

// Bridge wires every orchestration service for one environment
type Bridge struct {
	config *config.Config
	env    types.EnvConfig
	logger zerolog.Logger

	provider wallet.Provider
	sessions session.Store
	events   events.Publisher
	cache    *cache.RequestCache
	stop     context.CancelFunc

	Near      *near.Client
	Explorer  *btc.Explorer
	Relay     *relay.Client
	Accounts  *account.Resolver
	Gas       *gas.Engine
	Intents   *intention.Service
	Deposits  *deposit.Service
	Selector  *withdraw.Selector
	Withdraws *withdraw.Executor
	Whitelist *security.Whitelist
}

// New builds the bridge services described by cfg
func New(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*Bridge, error) {
	env, err := cfg.EnvConfig()
	if err != nil {
		return nil, err
	}

	strategy, err := gas.ParseStrategy(cfg.Gas.Strategy)
	if err != nil {
		return nil, err
	}

	requestCache := cache.NewRequestCache(cfg.Cache.TTL, logger)

	nearClient, err := near.NewClient(env.NearRPCEndpoints, near.Options{
		Timeout:           cfg.Near.Timeout,
		RequestsPerSecond: cfg.Near.RequestsPerSecond,
		Cache:             requestCache,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create near client: %w", err)
	}

	relayClient := relay.NewClient(relay.Config{
		BaseURL: env.BaseURL,
		Timeout: cfg.Relay.Timeout,
		Retries: cfg.Relay.Retries,
	}, logger)

	explorer := btc.NewExplorer(env.BTCExplorerURL, cfg.BTC.Timeout, logger)

	publisher, err := events.NewPublisher(cfg.Events, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	name := opts.SessionName
	if name == "" {
		name = string(env.Environment)
	}
	sessions, err := session.Open(ctx, cfg.Session, name, logger)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	whitelist := security.NewWhitelist(relayClient, env, cfg.Whitelist.Enabled, cfg.Whitelist.RefreshInterval, logger)
	resolver := account.NewResolver(env, nearClient, explorer, logger)
	encoder := transaction.NewEncoder(nearClient, relayClient, logger)
	engine := gas.NewEngine(env, resolver, nearClient, encoder, logger)

	intents := intention.NewService(env, intention.Deps{
		Accounts: resolver,
		Gas:      engine,
		Encoder:  encoder,
		Relay:    relayClient,
		Near:     nearClient,
		Signer:   opts.Provider,
		Gate:     whitelist,
		Events:   publisher,
	}, intention.Options{
		GasStrategy:      strategy,
		BTCPollInterval:  cfg.Polling.BridgeInterval,
		BTCMaxAttempts:   cfg.Polling.BridgeMaxAttempts,
		NearPollInterval: cfg.Polling.NearInterval,
		NearMaxAttempts:  cfg.Polling.NearMaxAttempts,
		BTCFailedStatus:  cfg.Relay.BTCFailedStatus,
	}, logger)

	deposits := deposit.NewService(env, deposit.Deps{
		Accounts: resolver,
		Near:     nearClient,
		Relay:    relayClient,
		FeeRates: explorer,
		Finality: intents,
		Sender:   opts.Provider,
		Gate:     whitelist,
		Events:   publisher,
	}, deposit.Options{
		BridgePollInterval: cfg.Polling.BridgeInterval,
		BridgeMaxAttempts:  cfg.Polling.BridgeMaxAttempts,
	}, logger)

	if opts.Confirmer != nil {
		resolver.SetAutoDeposit(opts.Confirmer, deposits)
	}

	selector := withdraw.NewSelector(env, withdraw.SelectorDeps{
		Config:   resolver,
		Viewer:   nearClient,
		Gas:      engine,
		FeeRates: explorer,
	}, logger)

	b := &Bridge{
		config:    cfg,
		env:       env,
		logger:    logger.With().Str("component", "bridge").Logger(),
		provider:  opts.Provider,
		sessions:  sessions,
		events:    publisher,
		cache:     requestCache,
		Near:      nearClient,
		Explorer:  explorer,
		Relay:     relayClient,
		Accounts:  resolver,
		Gas:       engine,
		Intents:   intents,
		Deposits:  deposits,
		Selector:  selector,
		Withdraws: withdraw.NewExecutor(env, selector, intents, explorer, publisher, logger),
		Whitelist: whitelist,
	}

	b.logger.Info().
		Str("environment", string(env.Environment)).
		Str("network", string(env.Network)).
		Str("gas_strategy", string(strategy)).
		Bool("wallet", opts.Provider != nil).
		Msg("Bridge services initialized")

	cleanupCtx, stop := context.WithCancel(context.Background())
	b.stop = stop
	go requestCache.StartPeriodicCleanup(cleanupCtx, cfg.Cache.CleanupInterval)

	return b, nil
}

// Env returns the resolved environment record
func (b *Bridge) Env() types.EnvConfig {
	return b.env
}

// APIDeps exposes the planning services to the HTTP API
func (b *Bridge) APIDeps() api.Deps {
	return api.Deps{
		Accounts:  b.Accounts,
		Deposits:  b.Deposits,
		Withdraws: b.Selector,
		Gas:       b.Gas,
		History:   b.Relay,
		Near:      b.Near,
		Scripts:   b.Explorer,
	}
}

// Connect reads the wallet identity, resolves its CSNA and persists the session
func (b *Bridge) Connect(ctx context.Context) (*wallet.SessionCredentials, error) {
	if b.provider == nil {
		return nil, ErrNoWallet
	}
	if err := wallet.EnsureNetwork(ctx, b.provider, b.env.Network); err != nil {
		return nil, err
	}

	creds, err := wallet.Connect(ctx, b.provider, nil)
	if err != nil {
		return nil, err
	}
	csna, err := b.Accounts.GetCsnaAccountID(ctx, creds.BTCPublicKey)
	if err != nil {
		return nil, err
	}
	publicKey, err := b.Accounts.GetCsnaPublicKey(ctx, creds.BTCPublicKey)
	if err != nil {
		return nil, err
	}
	creds.NearAccountID = csna
	creds.PublicKey = publicKey

	if err := b.sessions.Save(ctx, *creds); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	b.logger.Info().
		Str("account", creds.Account).
		Str("csna", csna).
		Msg("Wallet connected")
	return creds, nil
}

// Session returns the persisted credentials
func (b *Bridge) Session(ctx context.Context) (*wallet.SessionCredentials, error) {
	return b.sessions.Load(ctx)
}

// Disconnect forgets the persisted credentials
func (b *Bridge) Disconnect(ctx context.Context) error {
	return b.sessions.Clear(ctx)
}

// Deposit runs a BTC deposit for the connected session
func (b *Bridge) Deposit(ctx context.Context, req deposit.Request) (*deposit.Result, error) {
	creds, err := b.credentials(ctx)
	if err != nil {
		return nil, err
	}
	req.Credentials = *creds
	return b.Deposits.ExecuteBTCDepositAndAction(ctx, req)
}

// Withdraw plans and submits a withdrawal for the connected session
func (b *Bridge) Withdraw(ctx context.Context, req withdraw.Request) (*withdraw.Execution, error) {
	creds, err := b.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return b.Withdraws.Execute(ctx, *creds, req)
}

// SignAndSend submits NEAR transactions as a signed intention for the connected session
func (b *Bridge) SignAndSend(ctx context.Context, txs []types.PendingTransaction) ([]*types.FinalExecutionOutcome, error) {
	creds, err := b.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return b.Intents.SignAndSendTransactions(ctx, *creds, txs)
}

func (b *Bridge) credentials(ctx context.Context) (*wallet.SessionCredentials, error) {
	if b.provider == nil {
		return nil, ErrNoWallet
	}
	creds, err := b.sessions.Load(ctx)
	if errors.Is(err, wallet.ErrNoSession) {
		return b.Connect(ctx)
	}
	return creds, err
}

// Close releases the session store, the event connection and the NEAR client
func (b *Bridge) Close() error {
	b.stop()

	var errs []error
	if err := b.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.events.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.Near.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
