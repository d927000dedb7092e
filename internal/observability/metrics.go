// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the oracle.
type Metrics struct {
	// Update metrics
	UpdatesTotal    *prometheus.CounterVec
	EvictionsTotal  prometheus.Counter
	PriceUpdates    *prometheus.CounterVec
	SymbolStaleness *prometheus.GaugeVec

	// Feed metrics
	FeedRequestLatency *prometheus.HistogramVec
	FeedErrors         prometheus.Counter

	// Archive metrics
	ArchiveWriteErrors prometheus.Counter

	// Refresher metrics
	RefresherRuns       prometheus.Counter
	RefresherLastRun    prometheus.Gauge
	SymbolsRefreshed    prometheus.Counter
	SymbolsSkippedFresh prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_price_oracle"
	}

	return &Metrics{
		UpdatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "updates_total",
			Help:      "Total number of symbol updates by outcome",
		}, []string{"outcome"}),
		EvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "evictions_total",
			Help:      "Total number of samples evicted from full windows",
		}),
		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_updates_total",
			Help:      "Total number of recorded price samples by symbol",
		}, []string{"symbol"}),
		SymbolStaleness: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "symbol_staleness_seconds",
			Help:      "Seconds since the last successful update per symbol",
		}, []string{"symbol"}),

		FeedRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "request_latency_seconds",
			Help:      "Feed adapter request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		FeedErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Total number of feed adapter failures",
		}),

		ArchiveWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "write_errors_total",
			Help:      "Total number of best-effort archive write failures",
		}),

		RefresherRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "runs_total",
			Help:      "Total number of refresher ticks",
		}),
		RefresherLastRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last refresher tick",
		}),
		SymbolsRefreshed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "symbols_refreshed_total",
			Help:      "Total number of symbols refreshed because they were stale",
		}),
		SymbolsSkippedFresh: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "symbols_skipped_fresh_total",
			Help:      "Total number of symbols skipped because they were fresh",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
