package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// HTTPClient implements Adapter against the feed's JSON HTTP API.
type HTTPClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts per request.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a feed client for the given base URL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type quoteResponse struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"` // fixed-point decimal string, 18 implied decimals
	Timestamp uint64 `json:"timestamp"`
}

type epochResponse struct {
	Epoch uint64 `json:"epoch"`
}

type symbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// GetCurrentPrice retrieves the current quote for a symbol.
func (c *HTTPClient) GetCurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	var resp quoteResponse
	path := "/price?symbol=" + url.QueryEscape(symbol)
	if err := c.get(ctx, path, &resp); err != nil {
		return Quote{}, fmt.Errorf("%w: get price for %s: %v", ErrFeedUnavailable, symbol, err)
	}

	price, ok := new(big.Int).SetString(resp.Price, 10)
	if !ok || price.Sign() < 0 {
		return Quote{}, fmt.Errorf("%w: malformed price %q for %s", ErrFeedUnavailable, resp.Price, symbol)
	}
	return Quote{Price: price, Timestamp: resp.Timestamp}, nil
}

// GetCurrentEpoch retrieves the feed's current epoch identifier.
func (c *HTTPClient) GetCurrentEpoch(ctx context.Context) (uint64, error) {
	var resp epochResponse
	if err := c.get(ctx, "/epoch", &resp); err != nil {
		return 0, fmt.Errorf("%w: get epoch: %v", ErrFeedUnavailable, err)
	}
	return resp.Epoch, nil
}

// ListSymbols retrieves the symbols the feed currently supports.
func (c *HTTPClient) ListSymbols(ctx context.Context) ([]string, error) {
	var resp symbolsResponse
	if err := c.get(ctx, "/symbols", &resp); err != nil {
		return nil, fmt.Errorf("%w: list symbols: %v", ErrFeedUnavailable, err)
	}
	return resp.Symbols, nil
}

// get performs a GET with bounded retries and exponential backoff.
// Only transport errors and 5xx responses are retried.
func (c *HTTPClient) get(ctx context.Context, path string, result interface{}) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		lastErr = c.doGet(ctx, path, result)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

// httpStatusError marks a non-2xx response.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func isRetryable(err error) bool {
	if se, ok := err.(*httpStatusError); ok {
		return se.status >= 500
	}
	// Transport-level failures are retryable.
	return true
}

func (c *HTTPClient) doGet(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &httpStatusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Adapter = (*HTTPClient)(nil)
