package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
)

// Config configures the relay HTTP client
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retries is the number of extra attempts for idempotent GET requests
	Retries int
	// RetryDelay is the pause between GET attempts
	RetryDelay time.Duration
}

// Client talks to the bridge relay backend
type Client struct {
	config Config
	client *http.Client
	logger zerolog.Logger
}

// APIError is a non-zero result_code returned by the relay
type APIError struct {
	Code    int
	Message string
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay %s failed with code %d: %s", e.Path, e.Code, e.Message)
}

// Unwrap lets callers match relay rejections with errors.Is
func (e *APIError) Unwrap() error {
	return types.ErrRelayRejected
}

type envelope struct {
	ResultCode    int             `json:"result_code"`
	ResultMessage string          `json:"result_message"`
	ResultData    json.RawMessage `json:"result_data"`
}

// NewClient creates a new relay client
func NewClient(config Config, logger zerolog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "relay-client").Logger(),
	}
}

// get performs a GET with retries and decodes result_data into out
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.config.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}

		body, err := c.do(req, path)
		if err == nil {
			return decodeEnvelope(path, body, out)
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt+1).
			Msg("Relay request failed")
	}

	return lastErr
}

// post performs a single POST; submissions are never retried automatically
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, path)
	if err != nil {
		return err
	}
	return decodeEnvelope(path, body, out)
}

func (c *Client) do(req *http.Request, path string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Satoshi-Bridge/1.0")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		monitoring.RecordRPCRequest("relay", path, "transport_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("relay %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay %s: failed to read response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		monitoring.RecordRPCRequest("relay", path, "http_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("relay %s returned status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}

	monitoring.RecordRPCRequest("relay", path, "ok", time.Since(start).Seconds())
	return body, nil
}

// decodeEnvelope unwraps {result_code, result_message, result_data}. Bodies that are not
// an envelope are decoded directly.
func decodeEnvelope(path string, body []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && (env.ResultData != nil || env.ResultMessage != "" || env.ResultCode != 0) {
			if env.ResultCode != 0 {
				return &APIError{Code: env.ResultCode, Message: env.ResultMessage, Path: path}
			}
			if out == nil || len(env.ResultData) == 0 {
				return nil
			}
			if err := json.Unmarshal(env.ResultData, out); err != nil {
				return fmt.Errorf("relay %s: failed to decode result_data: %w", path, err)
			}
			return nil
		}
	}

	if out == nil || len(trimmed) == 0 {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("relay %s: failed to decode response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
