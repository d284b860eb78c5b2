package account

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/blockchain/near"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/fees"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/transaction"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
)

// NewAccountRelayerFee is the relayer fee (satoshis) charged to an account with no nonce yet
const NewAccountRelayerFee = fees.NewAccountMinDepositAmount

// NearViewer is the NEAR read surface used by the resolver
type NearViewer interface {
	ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error)
	ViewFunctionCached(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error)
	GetNativeBalance(ctx context.Context, accountID string) (*big.Int, error)
	FTBalanceOf(ctx context.Context, tokenID, accountID string) (*big.Int, error)
	FTBalanceOfCached(ctx context.Context, tokenID, accountID string) (*big.Int, error)
}

var _ NearViewer = (*near.Client)(nil)

// UTXOSource lists wallet UTXOs for the on-chain BTC balance
type UTXOSource interface {
	AddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error)
}

// DebtDepositor settles arrears with a real BTC deposit of the minimum size
type DebtDepositor interface {
	DepositMinimum(ctx context.Context, creds wallet.SessionCredentials) (string, error)
}

// Resolver derives CSNAs and reads account, debt and bridge state
type Resolver struct {
	env       types.EnvConfig
	near      NearViewer
	utxos     UTXOSource
	confirmer wallet.Confirmer
	depositor DebtDepositor
	logger    zerolog.Logger
}

// NewResolver creates a new account resolver
func NewResolver(env types.EnvConfig, nearViewer NearViewer, utxos UTXOSource, logger zerolog.Logger) *Resolver {
	return &Resolver{
		env:    env,
		near:   nearViewer,
		utxos:  utxos,
		logger: logger.With().Str("component", "account-resolver").Logger(),
	}
}

// SetAutoDeposit wires the confirmation dialog and depositor used when autoDeposit is requested
func (r *Resolver) SetAutoDeposit(confirmer wallet.Confirmer, depositor DebtDepositor) {
	r.confirmer = confirmer
	r.depositor = depositor
}

// Env returns the environment the resolver reads from
func (r *Resolver) Env() types.EnvConfig {
	return r.env
}

// GetCsnaAccountID derives the chain signature account of a BTC public key
func (r *Resolver) GetCsnaAccountID(ctx context.Context, btcPublicKey string) (string, error) {
	if btcPublicKey == "" {
		return "", types.ErrAccountDerivation
	}
	if _, err := transaction.PublicKeyFromBTC(btcPublicKey); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrAccountDerivation, err)
	}

	raw, err := r.near.ViewFunctionCached(ctx, r.env.AccountContractID, "get_chain_signature_near_account_id",
		map[string]string{"btc_public_key": btcPublicKey})
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	var csna string
	if err := json.Unmarshal(raw, &csna); err != nil || csna == "" {
		return "", fmt.Errorf("%w: unexpected account id %s", types.ErrChainQuery, string(raw))
	}
	return csna, nil
}

// GetCsnaPublicKey returns the NEAR access key registered for the CSNA of a BTC public key
func (r *Resolver) GetCsnaPublicKey(ctx context.Context, btcPublicKey string) (string, error) {
	raw, err := r.near.ViewFunctionCached(ctx, r.env.AccountContractID, "get_chain_signature_near_account_public_key",
		map[string]string{"btc_public_key": btcPublicKey})
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	var publicKey string
	if err := json.Unmarshal(raw, &publicKey); err != nil {
		return "", fmt.Errorf("%w: unexpected public key %s", types.ErrChainQuery, string(raw))
	}
	return publicKey, nil
}

// GetAccountInfo reads the CSNA record fresh from the account contract. An unknown
// account yields a zero-nonce, unregistered snapshot.
func (r *Resolver) GetAccountInfo(ctx context.Context, csna string) (*types.AccountInfo, error) {
	raw, err := r.near.ViewFunction(ctx, r.env.AccountContractID, "get_account", map[string]string{"account_id": csna})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	info := &types.AccountInfo{GasToken: map[string]types.Uint64String{}}
	if string(raw) == "null" {
		return info, nil
	}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("%w: failed to decode account: %v", types.ErrChainQuery, err)
	}
	if info.GasToken == nil {
		info.GasToken = map[string]types.Uint64String{}
	}
	info.Registered = true
	return info, nil
}

// GetBridgeConfig reads the bridge contract configuration
func (r *Resolver) GetBridgeConfig(ctx context.Context) (*types.BridgeConfig, error) {
	raw, err := r.near.ViewFunctionCached(ctx, r.env.BridgeContractID, "get_config", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	var cfg types.BridgeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode bridge config: %v", types.ErrChainQuery, err)
	}
	return &cfg, nil
}

// ListGasTokens returns the accepted gas tokens keyed by token id
func (r *Resolver) ListGasTokens(ctx context.Context) (map[string]types.GasTokenInfo, error) {
	raw, err := r.near.ViewFunctionCached(ctx, r.env.AccountContractID, "list_gas_token",
		map[string][]string{"token_ids": {r.env.BTCToken}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}

	var tokens map[string]types.GasTokenInfo
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("%w: failed to decode gas tokens: %v", types.ErrChainQuery, err)
	}
	for id, info := range tokens {
		info.TokenID = id
		tokens[id] = info
	}
	return tokens, nil
}

// DebtCheck is the input of CheckGasTokenDebt
type DebtCheck struct {
	CSNA        string
	Credentials wallet.SessionCredentials
	AutoDeposit bool
}

// DebtAction computes the transfer settling the account's arrears, or nil when none is owed.
// Debt takes priority over the relayer fee.
func DebtAction(info *types.AccountInfo, accountContractID string) *types.PostAction {
	action, _ := arrears(info, accountContractID)
	return action
}

// arrears returns DebtAction along with its amount in BTC token units
func arrears(info *types.AccountInfo, accountContractID string) (*types.PostAction, uint64) {
	if debt := info.TotalDebt(); debt > 0 {
		return &types.PostAction{
			ReceiverID: accountContractID,
			Amount:     strconv.FormatUint(debt, 10),
			Msg:        types.MsgRepay,
		}, debt
	}

	var relayerFee uint64
	if info.RelayerFee != nil {
		relayerFee = uint64(info.RelayerFee.Amount)
	}
	if relayerFee == 0 && info.IsNew() {
		relayerFee = NewAccountRelayerFee
	}
	if relayerFee == 0 {
		return nil, 0
	}

	return &types.PostAction{
		ReceiverID: accountContractID,
		Amount:     strconv.FormatUint(relayerFee, 10),
		Msg:        types.MsgRelayerFee,
	}, relayerFee
}

// CheckGasTokenDebt returns the repay or relayer-fee action the account owes, if any.
// With AutoDeposit it asks for confirmation and settles through a minimum BTC deposit.
func (r *Resolver) CheckGasTokenDebt(ctx context.Context, req DebtCheck) (*types.PostAction, error) {
	info, err := r.GetAccountInfo(ctx, req.CSNA)
	if err != nil {
		return nil, err
	}

	action, amount := arrears(info, r.env.AccountContractID)
	if action == nil || !req.AutoDeposit {
		return action, nil
	}

	r.logger.Info().
		Str("csna", req.CSNA).
		Str("msg", action.Msg).
		Uint64("amount", amount).
		Msg("Account has gas token arrears")

	if r.confirmer == nil || r.depositor == nil {
		return nil, fmt.Errorf("%w: automatic deposit is not configured", types.ErrDebtUnresolved)
	}

	title := "Has gas token arrears"
	if action.Msg == types.MsgRelayerFee {
		title = "Has relayer fee arrears"
	}
	ok, err := r.confirmer.Confirm(ctx, wallet.Confirmation{
		Title:   title,
		Message: fmt.Sprintf("You have %s BTC owed. Deposit BTC to settle it before continuing.", fees.FormatUnits(amount, r.env.BTCTokenDecimals)),
		Amount:  amount,
	})
	if err != nil {
		if wallet.IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrDebtUnresolved, err)
		}
		return nil, err
	}
	if !ok {
		return nil, types.ErrDebtUnresolved
	}

	txHash, err := r.depositor.DepositMinimum(ctx, req.Credentials)
	if err != nil {
		if wallet.IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrDebtUnresolved, err)
		}
		return nil, fmt.Errorf("failed to settle arrears: %w", err)
	}

	r.logger.Info().
		Str("csna", req.CSNA).
		Str("btc_tx", txHash).
		Msg("Arrears deposit executed")

	settled, err := r.GetAccountInfo(ctx, req.CSNA)
	if err != nil {
		return nil, err
	}
	if remaining := settled.TotalDebt(); remaining > 0 {
		return nil, fmt.Errorf("%w: %d still owed after deposit %s", types.ErrDebtUnresolved, remaining, txHash)
	}

	return action, nil
}
