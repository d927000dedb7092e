package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
	}
}

// tickMessage is one price tick pushed by the upstream feed.
type tickMessage struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"` // fixed-point decimal string, 18 implied decimals
	Timestamp uint64 `json:"timestamp"`
	Epoch     uint64 `json:"epoch"`
}

// WSClient implements Adapter over a push stream of price ticks. It keeps
// the most recent tick per symbol and serves quote reads from that cache,
// so the oracle never blocks on the stream itself. Symbols with no tick
// yet are reported as unavailable.
type WSClient struct {
	endpoint string
	config   WSConfig

	mu     sync.RWMutex
	quotes map[string]Quote

	epoch    atomic.Uint64
	hasEpoch atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSClient creates a stream-backed feed client and starts its read loop.
// The loop reconnects with capped backoff until Close is called.
func NewWSClient(ctx context.Context, endpoint string, config *WSConfig) *WSClient {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		quotes:   make(map[string]Quote),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(runCtx)
	return c
}

// Close stops the read loop and waits for it to exit.
func (c *WSClient) Close() {
	c.cancel()
	<-c.done
}

// run dials, consumes ticks, and reconnects with capped backoff.
func (c *WSClient) run(ctx context.Context) {
	defer close(c.done)

	delay := c.config.ReconnectDelay
	for {
		if err := c.consume(ctx); err == nil || ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// consume runs one connection until it fails or the context is done.
func (c *WSClient) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil {
			// Skip malformed frames; the stream may carry other message types.
			continue
		}
		c.apply(tick)
	}
}

// apply records a tick in the quote cache.
func (c *WSClient) apply(tick tickMessage) {
	if tick.Symbol == "" {
		return
	}
	price, ok := new(big.Int).SetString(tick.Price, 10)
	if !ok || price.Sign() < 0 {
		return
	}

	c.mu.Lock()
	c.quotes[tick.Symbol] = Quote{Price: price, Timestamp: tick.Timestamp}
	c.mu.Unlock()

	if tick.Epoch > 0 {
		c.epoch.Store(tick.Epoch)
		c.hasEpoch.Store(true)
	}
}

// GetCurrentPrice returns the most recent tick for a symbol.
func (c *WSClient) GetCurrentPrice(_ context.Context, symbol string) (Quote, error) {
	c.mu.RLock()
	quote, ok := c.quotes[symbol]
	c.mu.RUnlock()

	if !ok {
		return Quote{}, fmt.Errorf("%w: no tick received for %s", ErrFeedUnavailable, symbol)
	}
	return Quote{Price: new(big.Int).Set(quote.Price), Timestamp: quote.Timestamp}, nil
}

// GetCurrentEpoch returns the epoch of the most recent tick carrying one.
func (c *WSClient) GetCurrentEpoch(_ context.Context) (uint64, error) {
	if !c.hasEpoch.Load() {
		return 0, fmt.Errorf("%w: no epoch received", ErrFeedUnavailable)
	}
	return c.epoch.Load(), nil
}

// ListSymbols returns the symbols seen on the stream so far, sorted.
func (c *WSClient) ListSymbols(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.quotes))
	for sym := range c.quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

var _ Adapter = (*WSClient)(nil)
