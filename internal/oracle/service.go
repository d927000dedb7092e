// Package oracle wires the feed adapter, the bounded history store, the
// registry, and the analytics into the oracle surface exposed to callers.
package oracle

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"token-price-oracle/internal/analytics"
	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/feed"
	"token-price-oracle/internal/observability"
	"token-price-oracle/internal/registry"
	"token-price-oracle/internal/storage"
)

// PriceUpdate describes one recorded sample, delivered to observers.
type PriceUpdate struct {
	Symbol    string
	Price     *big.Int
	Timestamp uint64
	EpochID   uint64
}

// Observer receives a notification for every recorded sample.
// Callbacks run synchronously on the updating goroutine and must be fast.
type Observer interface {
	PriceUpdated(update PriceUpdate)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(update PriceUpdate)

// PriceUpdated calls f.
func (f ObserverFunc) PriceUpdated(update PriceUpdate) { f(update) }

// Service is the oracle core. Reads are non-blocking; Update performs the
// feed call before any store mutation, so the per-symbol critical section
// inside the store never covers network latency.
type Service struct {
	adapter  feed.Adapter
	store    storage.HistoryStore
	archive  storage.SampleArchive
	registry *registry.Registry
	metrics  *observability.Metrics
	logger   *log.Logger

	staleThreshold time.Duration
	now            func() uint64

	obsMu     sync.RWMutex
	observers []Observer
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithArchive sets the best-effort sample archive.
func WithArchive(archive storage.SampleArchive) ServiceOption {
	return func(s *Service) {
		s.archive = archive
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStaleThreshold sets the staleness threshold used by NeedsUpdate.
func WithStaleThreshold(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.staleThreshold = d
	}
}

// WithNowFunc overrides the wall clock, for tests.
func WithNowFunc(now func() uint64) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the oracle service.
func NewService(adapter feed.Adapter, store storage.HistoryStore, reg *registry.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		adapter:        adapter,
		store:          store,
		registry:       reg,
		staleThreshold: domain.DefaultStaleThresholdSeconds * time.Second,
		now:            func() uint64 { return uint64(time.Now().Unix()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(os.Stdout, "[oracle] ", log.LstdFlags)
	}
	return s
}

// Subscribe registers an observer for PriceUpdated notifications.
func (s *Service) Subscribe(o Observer) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Update fetches the current quote and epoch for a symbol from the feed
// and appends the sample to the symbol's window, evicting the oldest
// sample when the window is full. Feed failures propagate to the caller
// unretried; retry cadence belongs to whoever schedules updates.
func (s *Service) Update(ctx context.Context, symbol string) error {
	if symbol == "" {
		return storage.ErrInvalidInput
	}

	// Feed I/O happens before the store mutation.
	start := time.Now()
	quote, err := s.adapter.GetCurrentPrice(ctx, symbol)
	s.observeFeed("get_current_price", start)
	if err != nil {
		s.countUpdate("feed_error")
		s.countFeedError()
		return fmt.Errorf("update %s: %w", symbol, err)
	}

	start = time.Now()
	epoch, err := s.adapter.GetCurrentEpoch(ctx)
	s.observeFeed("get_current_epoch", start)
	if err != nil {
		s.countUpdate("feed_error")
		s.countFeedError()
		return fmt.Errorf("update %s: %w", symbol, err)
	}

	sample := domain.PriceSample{
		Symbol:    symbol,
		Price:     quote.Price,
		Timestamp: quote.Timestamp,
		EpochID:   epoch,
	}

	// Length check only decides the eviction counter; the store enforces
	// the bound itself either way.
	evicting := false
	if s.metrics != nil {
		if window, err := s.store.GetHistory(ctx, symbol); err == nil {
			evicting = len(window) == domain.HistoryCapacity
		}
	}

	now := s.now()
	if err := s.store.Append(ctx, sample, now); err != nil {
		s.countUpdate("store_error")
		return fmt.Errorf("update %s: append: %w", symbol, err)
	}

	if s.registry != nil {
		s.registry.Track(symbol)
	}

	if s.archive != nil {
		if err := s.archive.ArchiveBulk(ctx, []domain.PriceSample{sample}); err != nil {
			// Archive is best-effort; the window update already happened.
			s.logger.Printf("archive write failed for %s: %v", symbol, err)
			if s.metrics != nil {
				s.metrics.ArchiveWriteErrors.Inc()
			}
		}
	}

	if s.metrics != nil {
		s.countUpdate("ok")
		s.metrics.PriceUpdates.WithLabelValues(symbol).Inc()
		s.metrics.SymbolStaleness.WithLabelValues(symbol).Set(0)
		if evicting {
			s.metrics.EvictionsTotal.Inc()
		}
	}

	s.notify(PriceUpdate{
		Symbol:    symbol,
		Price:     new(big.Int).Set(sample.Price),
		Timestamp: sample.Timestamp,
		EpochID:   sample.EpochID,
	})

	return nil
}

// GetHistory returns the retained sample window for a symbol, oldest to
// newest. Unknown symbols yield an empty window.
func (s *Service) GetHistory(ctx context.Context, symbol string) ([]domain.PriceSample, error) {
	return s.store.GetHistory(ctx, symbol)
}

// GetLatest returns the most recent sample for a symbol.
// Returns storage.ErrNotFound when the symbol has no recorded samples.
func (s *Service) GetLatest(ctx context.Context, symbol string) (domain.PriceSample, error) {
	return s.store.GetLatest(ctx, symbol)
}

// Get24hChange returns the percent change across the retained window in
// signed basis points. Returns analytics.ErrInsufficientHistory with fewer
// than two samples; a zero oldest price yields 0.
func (s *Service) Get24hChange(ctx context.Context, symbol string) (*big.Int, error) {
	window, err := s.store.GetHistory(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return analytics.PercentChange(window)
}

// NeedsUpdate reports whether the symbol is due for a refresh at now:
// true when now - lastUpdate >= threshold. A never-updated symbol has
// lastUpdate 0 and is always due.
func (s *Service) NeedsUpdate(ctx context.Context, symbol string, now uint64) (bool, error) {
	last, err := s.store.LastUpdate(ctx, symbol)
	if err != nil {
		return false, err
	}
	if now < last {
		return false, nil
	}
	return time.Duration(now-last)*time.Second >= s.staleThreshold, nil
}

// StaleThreshold returns the configured staleness threshold.
func (s *Service) StaleThreshold() time.Duration {
	return s.staleThreshold
}

// ListSymbols returns the symbols the upstream feed supports.
// Pure passthrough to the feed adapter.
func (s *Service) ListSymbols(ctx context.Context) ([]string, error) {
	return s.adapter.ListSymbols(ctx)
}

// CurrentQuote returns the feed's current quote for a symbol without
// touching the history window.
func (s *Service) CurrentQuote(ctx context.Context, symbol string) (feed.Quote, error) {
	return s.adapter.GetCurrentPrice(ctx, symbol)
}

// TrackedSymbols returns the symbols with at least one recorded update.
func (s *Service) TrackedSymbols() []string {
	if s.registry == nil {
		return nil
	}
	return s.registry.Tracked()
}

// SetFeedRegistry repoints the upstream feed registry reference.
// Owner-only; see registry.Registry.
func (s *Service) SetFeedRegistry(caller, ref string) error {
	if s.registry == nil {
		return registry.ErrUnauthorized
	}
	return s.registry.SetFeedRegistry(caller, ref)
}

// SetFeedManager repoints the upstream feed manager reference. Owner-only.
func (s *Service) SetFeedManager(caller, ref string) error {
	if s.registry == nil {
		return registry.ErrUnauthorized
	}
	return s.registry.SetFeedManager(caller, ref)
}

func (s *Service) notify(update PriceUpdate) {
	s.obsMu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.RUnlock()

	for _, o := range observers {
		o.PriceUpdated(update)
	}
}

func (s *Service) observeFeed(method string, start time.Time) {
	if s.metrics != nil {
		s.metrics.FeedRequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func (s *Service) countUpdate(outcome string) {
	if s.metrics != nil {
		s.metrics.UpdatesTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countFeedError() {
	if s.metrics != nil {
		s.metrics.FeedErrors.Inc()
	}
}
