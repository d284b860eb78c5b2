package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
)

// Bridge status codes reported by /v1/bridgeFromTx
const (
	BridgeStatusSuccess    = 4
	BridgeStatusFailedFrom = 50
)

// BTCTxStatusSuccess is the /v1/btcTx status of an executed intention
const BTCTxStatusSuccess = 3

// BridgeTxStatus is the result_data of /v1/bridgeFromTx
type BridgeTxStatus struct {
	Status   int    `json:"Status"`
	ToTxHash string `json:"ToTxHash"`
}

// IntentionStatus is the result_data of /v1/btcTx
type IntentionStatus struct {
	Status       int      `json:"Status"`
	NearHashList []string `json:"NearHashList"`
}

// ReceiveTransactionRequest submits a signed intention
type ReceiveTransactionRequest struct {
	Sig       string `json:"sig"`
	BTCPubKey string `json:"btcPubKey"`
	Data      string `json:"data"`
}

// DepositMsgRequest notifies the relay about a deposit, before and after broadcast
type DepositMsgRequest struct {
	BTCPublicKey       string          `json:"btcPublicKey"`
	TxHash             string          `json:"txHash,omitempty"`
	DepositType        int             `json:"depositType"`
	PostActions        json.RawMessage `json:"postActions,omitempty"`
	ExtraMsg           string          `json:"extraMsg,omitempty"`
	UserDepositAddress string          `json:"userDepositAddress,omitempty"`
}

// HistoryItem is one entry of /v1/history
type HistoryItem struct {
	FromChainID int    `json:"FromChainId"`
	ToChainID   int    `json:"ToChainId"`
	FromAddress string `json:"FromAddress"`
	ToAddress   string `json:"ToAddress"`
	FromTxHash  string `json:"FromTxHash"`
	ToTxHash    string `json:"ToTxHash"`
	Amount      string `json:"Amount"`
	Status      int    `json:"Status"`
	CreateTime  int64  `json:"CreateTime"`
}

// HistoryPage is one page of bridge history
type HistoryPage struct {
	Items []HistoryItem `json:"data"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
}

// Nonce returns the relay's intention nonce for a CSNA
func (c *Client) Nonce(ctx context.Context, csna string) (uint64, error) {
	return c.nonce(ctx, "/v1/nonce", csna)
}

// NearNonce returns the relay's NEAR transaction nonce counter for a CSNA
func (c *Client) NearNonce(ctx context.Context, csna string) (uint64, error) {
	return c.nonce(ctx, "/v1/nonceNear", csna)
}

func (c *Client) nonce(ctx context.Context, path, csna string) (uint64, error) {
	var nonce types.Uint64String
	if err := c.get(ctx, path, url.Values{"csna": {csna}}, &nonce); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

// ReceiveTransaction submits a signed intention
func (c *Client) ReceiveTransaction(ctx context.Context, req ReceiveTransactionRequest) error {
	if err := c.post(ctx, "/v1/receiveTransaction", req, nil); err != nil {
		return err
	}

	c.logger.Info().
		Str("btc_pub_key", req.BTCPubKey).
		Msg("Intention accepted by relay")
	return nil
}

// PreReceiveDepositMsg registers deposit metadata before the BTC payment is broadcast
func (c *Client) PreReceiveDepositMsg(ctx context.Context, req DepositMsgRequest) error {
	return c.post(ctx, "/v1/preReceiveDepositMsg", req, nil)
}

// ReceiveDepositMsg reports the broadcast deposit transaction
func (c *Client) ReceiveDepositMsg(ctx context.Context, req DepositMsgRequest) error {
	if req.TxHash == "" {
		return fmt.Errorf("receiveDepositMsg requires a transaction hash")
	}
	return c.post(ctx, "/v1/receiveDepositMsg", req, nil)
}

// BridgeFromTx returns the bridge status of a source-chain transaction
func (c *Client) BridgeFromTx(ctx context.Context, fromTxHash string, fromChainID types.BridgeChainID) (*BridgeTxStatus, error) {
	query := url.Values{
		"fromTxHash":  {fromTxHash},
		"fromChainId": {strconv.Itoa(int(fromChainID))},
	}
	var status BridgeTxStatus
	if err := c.get(ctx, "/v1/bridgeFromTx", query, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// BTCTx returns the relay status of a signed intention
func (c *Client) BTCTx(ctx context.Context, sig string) (*IntentionStatus, error) {
	var status IntentionStatus
	if err := c.get(ctx, "/v1/btcTx", url.Values{"sig": {sig}}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WhitelistUsers returns the allow-listed BTC accounts
func (c *Client) WhitelistUsers(ctx context.Context) ([]string, error) {
	var users []string
	if err := c.get(ctx, "/v1/whitelist/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns a page of bridge history for a BTC address
func (c *Client) History(ctx context.Context, fromAddress string, page, pageSize int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	query := url.Values{
		"fromChainId": {strconv.Itoa(int(types.BridgeChainAll))},
		"fromAddress": {fromAddress},
		"page":        {strconv.Itoa(page)},
		"pageSize":    {strconv.Itoa(pageSize)},
	}

	var raw json.RawMessage
	if err := c.get(ctx, "/v1/history", query, &raw); err != nil {
		return nil, err
	}

	result := &HistoryPage{Page: page}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &result.Items); err != nil {
			return nil, fmt.Errorf("relay /v1/history: %w", err)
		}
		result.Total = len(result.Items)
		return result, nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("relay /v1/history: %w", err)
	}
	if result.Page == 0 {
		result.Page = page
	}
	return result, nil
}
