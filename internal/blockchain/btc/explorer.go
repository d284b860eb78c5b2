package btc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
)

// Explorer is a client for an esplora-compatible Bitcoin explorer API
type Explorer struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewExplorer creates a new explorer client
func NewExplorer(baseURL string, timeout time.Duration, logger zerolog.Logger) *Explorer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Explorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "btc-explorer").Logger(),
	}
}

// RecommendedFees mirrors the explorer's /v1/fees/recommended payload (sat/vB)
type RecommendedFees struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

// txStatus is the confirmation state of a Bitcoin transaction
type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

// RecommendedFees fetches the current fee recommendations
func (e *Explorer) RecommendedFees(ctx context.Context) (*RecommendedFees, error) {
	var fees RecommendedFees
	if err := e.getJSON(ctx, "fees", "/v1/fees/recommended", &fees); err != nil {
		return nil, err
	}
	monitoring.FeeRateSatPerVB.Set(float64(fees.FastestFee))
	return &fees, nil
}

// FastestFeeRate returns the fastest recommended fee rate in sat/vB
func (e *Explorer) FastestFeeRate(ctx context.Context) (uint64, error) {
	fees, err := e.RecommendedFees(ctx)
	if err != nil {
		return 0, err
	}
	if fees.FastestFee == 0 {
		return 0, fmt.Errorf("%w: explorer returned zero fee rate", types.ErrChainQuery)
	}
	return fees.FastestFee, nil
}

// AddressUTXOs lists the unspent outputs of an address
func (e *Explorer) AddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error) {
	var raw []struct {
		TxID   string   `json:"txid"`
		Vout   uint32   `json:"vout"`
		Value  uint64   `json:"value"`
		Status txStatus `json:"status"`
	}
	if err := e.getJSON(ctx, "utxo", "/address/"+address+"/utxo", &raw); err != nil {
		return nil, err
	}

	utxos := make([]types.UTXO, 0, len(raw))
	for _, u := range raw {
		utxos = append(utxos, types.UTXO{
			TxID:      u.TxID,
			Vout:      u.Vout,
			Value:     u.Value,
			Confirmed: u.Status.Confirmed,
		})
	}
	return utxos, nil
}

// RawTransaction returns the hex serialization of a transaction
func (e *Explorer) RawTransaction(ctx context.Context, txid string) (string, error) {
	body, err := e.get(ctx, "tx_hex", "/tx/"+txid+"/hex")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (e *Explorer) getJSON(ctx context.Context, method, path string, out interface{}) error {
	body, err := e.get(ctx, method, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", types.ErrChainQuery, path, err)
	}
	return nil
}

func (e *Explorer) get(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		monitoring.RecordRPCRequest("btc_explorer", method, "transport_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s: %v", types.ErrChainQuery, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", types.ErrChainQuery, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		monitoring.RecordRPCRequest("btc_explorer", method, "http_error", time.Since(start).Seconds())
		e.logger.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("Explorer request failed")
		return nil, fmt.Errorf("%w: %s returned status %d: %s", types.ErrChainQuery, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	monitoring.RecordRPCRequest("btc_explorer", method, "ok", time.Since(start).Seconds())
	return body, nil
}
