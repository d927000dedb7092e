package oracle

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"token-price-oracle/internal/observability"
)

// Default refresher configuration.
const (
	DefaultRefreshInterval = 1 * time.Minute
	DefaultMaxConcurrent   = 4
)

// Refresher periodically scans the configured and tracked symbols and
// updates the ones whose history has gone stale. It is the scheduling
// caller layered on top of NeedsUpdate; the service itself never retries
// or schedules anything.
type Refresher struct {
	service       *Service
	symbols       []string
	interval      time.Duration
	maxConcurrent int
	metrics       *observability.Metrics
	logger        *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// RefresherOption configures Refresher.
type RefresherOption func(*Refresher)

// WithRefreshInterval sets the scan interval.
func WithRefreshInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.interval = d
	}
}

// WithMaxConcurrent bounds per-tick update concurrency.
func WithMaxConcurrent(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithRefresherMetrics sets the Prometheus metrics sink.
func WithRefresherMetrics(m *observability.Metrics) RefresherOption {
	return func(r *Refresher) {
		r.metrics = m
	}
}

// WithRefresherLogger sets the refresher logger.
func WithRefresherLogger(logger *log.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// NewRefresher creates a refresher over the given always-scanned symbols.
// Symbols tracked by the registry after startup are scanned as well.
func NewRefresher(service *Service, symbols []string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		service:       service,
		symbols:       append([]string(nil), symbols...),
		interval:      DefaultRefreshInterval,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.New(os.Stdout, "[refresher] ", log.LstdFlags)
	}
	return r
}

// Start launches the refresh loop. Idempotent while running.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// First pass immediately so a fresh process does not idle for a
		// full interval with an empty window.
		r.Tick(runCtx)

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.Tick(runCtx)
			}
		}
	}()

	r.logger.Printf("started, interval=%s symbols=%v", r.interval, r.symbols)
}

// Stop halts the refresh loop and waits for in-flight updates.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Printf("stopped")
}

// Tick runs one scan: every due symbol gets one Update attempt, with
// bounded concurrency. Exported so callers can force a scan.
func (r *Refresher) Tick(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.RefresherRuns.Inc()
		r.metrics.RefresherLastRun.SetToCurrentTime()
	}

	now := r.service.now()
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup

	for _, symbol := range r.scanSet() {
		due, err := r.service.NeedsUpdate(ctx, symbol, now)
		if err != nil {
			r.logger.Printf("staleness check failed for %s: %v", symbol, err)
			continue
		}
		if !due {
			if r.metrics != nil {
				r.metrics.SymbolsSkippedFresh.Inc()
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.service.Update(ctx, symbol); err != nil {
				r.logger.Printf("update failed for %s: %v", symbol, err)
				return
			}
			if r.metrics != nil {
				r.metrics.SymbolsRefreshed.Inc()
			}
		}(symbol)
	}

	wg.Wait()
}

// scanSet merges the configured symbols with the registry's tracked set,
// deduplicated, preserving configured order first.
func (r *Refresher) scanSet() []string {
	seen := make(map[string]struct{}, len(r.symbols))
	out := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	for _, sym := range r.service.TrackedSymbols() {
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
