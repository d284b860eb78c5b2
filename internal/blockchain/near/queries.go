package near

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
)

// StatusResponse represents NEAR status response
type StatusResponse struct {
	ChainID  string `json:"chain_id"`
	SyncInfo struct {
		LatestBlockHash   string `json:"latest_block_hash"`
		LatestBlockHeight uint64 `json:"latest_block_height"`
		Syncing           bool   `json:"syncing"`
	} `json:"sync_info"`
}

// GetStatus returns NEAR node status
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	result, err := c.callRPC(ctx, "status", []interface{}{})
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	return &status, nil
}

// IsHealthy checks if the client is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	_, err := c.GetStatus(ctx)
	return err == nil
}

// FinalBlockHash returns the base58 hash of the latest final block
func (c *Client) FinalBlockHash(ctx context.Context) (string, error) {
	result, err := c.callRPC(ctx, "block", map[string]interface{}{"finality": "final"})
	if err != nil {
		return "", err
	}

	var block struct {
		Header struct {
			Height uint64 `json:"height"`
			Hash   string `json:"hash"`
		} `json:"header"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return "", fmt.Errorf("failed to unmarshal block: %w", err)
	}
	if block.Header.Hash == "" {
		return "", fmt.Errorf("%w: final block has no hash", types.ErrChainQuery)
	}

	return block.Header.Hash, nil
}

// AccountView represents account view response
type AccountView struct {
	Amount       string `json:"amount"`
	Locked       string `json:"locked"`
	CodeHash     string `json:"code_hash"`
	StorageUsage uint64 `json:"storage_usage"`
}

// ViewAccount returns the on-chain account record.
// ErrAccountNotFound is returned for accounts that do not exist yet.
func (c *Client) ViewAccount(ctx context.Context, accountID string) (*AccountView, error) {
	params := map[string]interface{}{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}

	result, err := c.callRPC(ctx, "query", params)
	if err != nil {
		if isUnknownAccount(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var account AccountView
	if err := json.Unmarshal(result, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return &account, nil
}

// GetNativeBalance returns the NEAR balance in yocto. Missing accounts have zero balance.
func (c *Client) GetNativeBalance(ctx context.Context, accountID string) (*big.Int, error) {
	account, err := c.ViewAccount(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(account.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse balance %q", account.Amount)
	}

	return balance, nil
}

// AccessKeyView is the nonce state of one access key
type AccessKeyView struct {
	Nonce     uint64 `json:"nonce"`
	BlockHash string `json:"block_hash"`
}

// ViewAccessKey returns the access key record of publicKey ("ed25519:..." or "secp256k1:...").
// ErrAccountNotFound is returned when the account or key is unknown.
func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKeyView, error) {
	params := map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}

	result, err := c.callRPC(ctx, "query", params)
	if err != nil {
		if isUnknownAccount(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var key struct {
		AccessKeyView
		Error string `json:"error"`
	}
	if err := json.Unmarshal(result, &key); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access key: %w", err)
	}
	if key.Error != "" {
		if strings.Contains(key.Error, "does not exist") {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %s", types.ErrChainQuery, key.Error)
	}

	return &key.AccessKeyView, nil
}

type callFunctionResult struct {
	Result      []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	Error       string   `json:"error"`
}

// ViewFunction calls a view method and returns its decoded JSON result. It always hits the chain.
func (c *Client) ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  methodName,
		"args_base64":  argsBytes,
	}

	result, err := c.callRPC(ctx, "query", params)
	if err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", contractID, methodName, err)
	}

	var call callFunctionResult
	if err := json.Unmarshal(result, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal view result: %w", err)
	}
	if call.Error != "" {
		return nil, fmt.Errorf("%w: view %s.%s: %s", types.ErrChainQuery, contractID, methodName, call.Error)
	}

	raw := make([]byte, len(call.Result))
	for i, b := range call.Result {
		raw[i] = byte(b)
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}

	return raw, nil
}

// ViewFunctionCached is ViewFunction behind the request cache
func (c *Client) ViewFunctionCached(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error) {
	if c.cache == nil {
		return c.ViewFunction(ctx, contractID, methodName, args)
	}
	key := []interface{}{contractID, args}
	return c.cache.Fetch(methodName, key, func() (json.RawMessage, error) {
		return c.ViewFunction(ctx, contractID, methodName, args)
	})
}

// FTBalanceOf returns a NEP-141 balance read fresh from the chain
func (c *Client) FTBalanceOf(ctx context.Context, tokenID, accountID string) (*big.Int, error) {
	raw, err := c.ViewFunction(ctx, tokenID, "ft_balance_of", map[string]string{"account_id": accountID})
	if err != nil {
		return nil, err
	}
	return decodeFTBalance(raw)
}

// FTBalanceOfCached is FTBalanceOf behind the request cache, for display reads
func (c *Client) FTBalanceOfCached(ctx context.Context, tokenID, accountID string) (*big.Int, error) {
	raw, err := c.ViewFunctionCached(ctx, tokenID, "ft_balance_of", map[string]string{"account_id": accountID})
	if err != nil {
		return nil, err
	}
	return decodeFTBalance(raw)
}

func decodeFTBalance(raw json.RawMessage) (*big.Int, error) {
	var balance string
	if err := json.Unmarshal(raw, &balance); err != nil {
		return nil, fmt.Errorf("failed to decode ft_balance_of: %w", err)
	}

	return types.ParseBigAmount(balance)
}

// StorageBalanceOf returns the NEP-145 storage record, or nil when unregistered
func (c *Client) StorageBalanceOf(ctx context.Context, contractID, accountID string) (*types.StorageBalance, error) {
	raw, err := c.ViewFunction(ctx, contractID, "storage_balance_of", map[string]string{"account_id": accountID})
	if err != nil {
		return nil, err
	}

	var balance *types.StorageBalance
	if err := json.Unmarshal(raw, &balance); err != nil {
		return nil, fmt.Errorf("failed to decode storage_balance_of: %w", err)
	}

	return balance, nil
}

// TxStatus fetches the execution outcome of a transaction
func (c *Client) TxStatus(ctx context.Context, txHash, senderID string) (*types.FinalExecutionOutcome, error) {
	params := map[string]interface{}{
		"tx_hash":           txHash,
		"sender_account_id": senderID,
		"wait_until":        "EXECUTED_OPTIMISTIC",
	}

	result, err := c.callRPC(ctx, "tx", params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.causeName() == "UNKNOWN_TRANSACTION" {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}

	var outcome types.FinalExecutionOutcome
	if err := json.Unmarshal(result, &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction outcome: %w", err)
	}

	return &outcome, nil
}

func isUnknownAccount(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.causeName() {
	case "UNKNOWN_ACCOUNT", "UNKNOWN_ACCESS_KEY":
		return true
	}
	return strings.Contains(string(rpcErr.Data), "does not exist")
}
