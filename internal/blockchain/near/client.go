package near

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/cache"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrAccountNotFound is returned when a queried NEAR account does not exist yet
var ErrAccountNotFound = errors.New("near account does not exist")

// ErrUnknownTransaction is returned while a transaction hash is not yet known to the node
var ErrUnknownTransaction = errors.New("near transaction not found")

// Options tunes a Client
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Cache             *cache.RequestCache
}

// Client is a NEAR JSON-RPC client with ordered endpoint failover
type Client struct {
	httpClient *http.Client
	endpoints  []string
	limiter    *rate.Limiter
	cache      *cache.RequestCache
	logger     zerolog.Logger
}

// NewClient creates a new NEAR client
func NewClient(endpoints []string, opts Options, logger zerolog.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one NEAR RPC endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	client := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		endpoints:  append([]string(nil), endpoints...),
		limiter:    rate.NewLimiter(limit, burst),
		cache:      opts.Cache,
		logger:     logger.With().Str("component", "near-client").Logger(),
	}

	client.logger.Info().
		Int("endpoints", len(client.endpoints)).
		Msg("NEAR client initialized")

	return client, nil
}

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCResponse represents a JSON-RPC response
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Name    string          `json:"name,omitempty"`
	Cause   *struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info,omitempty"`
	} `json:"cause,omitempty"`
}

func (e *RPCError) Error() string {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Name
	}
	return fmt.Sprintf("RPC error %d: %s %s %s", e.Code, e.Message, cause, string(e.Data))
}

func (e *RPCError) causeName() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Name
}

// callRPC tries each endpoint in order and returns the first non-transport answer.
// A JSON-RPC error is an answer and stops the failover.
func (c *Client) callRPC(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	request := RPCRequest{
		JSONRPC: "2.0",
		ID:      "dontcare",
		Method:  method,
		Params:  params,
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := c.post(ctx, endpoint, requestBytes)
		elapsed := time.Since(start).Seconds()

		var rpcErr *RPCError
		switch {
		case err == nil:
			monitoring.RecordRPCRequest("near", method, "ok", elapsed)
			return result, nil
		case errors.As(err, &rpcErr):
			monitoring.RecordRPCRequest("near", method, "rpc_error", elapsed)
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		monitoring.RecordRPCRequest("near", method, "transport_error", elapsed)
		monitoring.RecordFailover(endpoint)
		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("method", method).
			Msg("RPC request failed")
		lastErr = err
	}

	return nil, fmt.Errorf("%w: all NEAR RPC endpoints failed: %v", types.ErrChainQuery, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("RPC endpoint returned status %d", resp.StatusCode)
	}

	return rpcResp.Result, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
