package stub

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"token-price-oracle/internal/feed"
)

// Adapter implements feed.Adapter for testing and -use-stub runs.
// Quotes are set explicitly; symbols with no quote behave as unavailable,
// matching a feed that does not list them.
type Adapter struct {
	mu     sync.Mutex
	quotes map[string]feed.Quote
	epoch  uint64
	err    error
}

// NewAdapter creates a new stub feed adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		quotes: make(map[string]feed.Quote),
	}
}

// SetQuote sets the current quote for a symbol.
func (a *Adapter) SetQuote(symbol string, price *big.Int, timestamp uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes[symbol] = feed.Quote{Price: new(big.Int).Set(price), Timestamp: timestamp}
}

// SetEpoch sets the current epoch.
func (a *Adapter) SetEpoch(epoch uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch = epoch
}

// SetError makes every call fail with err until reset with SetError(nil).
func (a *Adapter) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// GetCurrentPrice retrieves the configured quote for a symbol.
func (a *Adapter) GetCurrentPrice(_ context.Context, symbol string) (feed.Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return feed.Quote{}, fmt.Errorf("%w: %v", feed.ErrFeedUnavailable, a.err)
	}
	quote, ok := a.quotes[symbol]
	if !ok {
		return feed.Quote{}, fmt.Errorf("%w: unknown symbol %s", feed.ErrFeedUnavailable, symbol)
	}
	return feed.Quote{Price: new(big.Int).Set(quote.Price), Timestamp: quote.Timestamp}, nil
}

// GetCurrentEpoch retrieves the configured epoch.
func (a *Adapter) GetCurrentEpoch(_ context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return 0, fmt.Errorf("%w: %v", feed.ErrFeedUnavailable, a.err)
	}
	return a.epoch, nil
}

// ListSymbols retrieves the symbols with configured quotes, sorted.
func (a *Adapter) ListSymbols(_ context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrFeedUnavailable, a.err)
	}
	symbols := make([]string, 0, len(a.quotes))
	for sym := range a.quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

var _ feed.Adapter = (*Adapter)(nil)
