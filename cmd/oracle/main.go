// Package main runs the price oracle server:
// - Refresher (scheduled): re-fetches stale symbols from the upstream feed
// - HTTP API: read-only history/analytics endpoints plus owner-gated setters
// - Prometheus metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"token-price-oracle/internal/analytics"
	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/feed"
	"token-price-oracle/internal/feed/stub"
	"token-price-oracle/internal/observability"
	"token-price-oracle/internal/oracle"
	"token-price-oracle/internal/registry"
	"token-price-oracle/internal/storage"
	chstore "token-price-oracle/internal/storage/clickhouse"
	"token-price-oracle/internal/storage/memory"
	"token-price-oracle/internal/storage/migrations"
	pgstore "token-price-oracle/internal/storage/postgres"
)

// Server holds the wired oracle components.
type Server struct {
	service   *oracle.Service
	refresher *oracle.Refresher
	metrics   *observability.Metrics
	logger    *log.Logger
	started   time.Time
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	feedEndpoint := flag.String("feed-endpoint", os.Getenv("FEED_ENDPOINT"), "Price feed HTTP endpoint")
	feedWSEndpoint := flag.String("feed-ws-endpoint", os.Getenv("FEED_WS_ENDPOINT"), "Price feed WebSocket endpoint (used instead of HTTP when set)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (sample archive; optional)")
	owner := flag.String("owner", os.Getenv("ORACLE_OWNER"), "Owner identity (base58)")
	feedRegistryRef := flag.String("feed-registry", os.Getenv("FEED_REGISTRY"), "Feed registry reference (base58)")
	feedManagerRef := flag.String("feed-manager", os.Getenv("FEED_MANAGER"), "Feed manager reference (base58)")
	symbols := flag.String("symbols", os.Getenv("ORACLE_SYMBOLS"), "Comma-separated symbols to keep refreshed")
	refreshInterval := flag.Duration("refresh-interval", time.Minute, "Refresher scan interval")
	staleThreshold := flag.Duration("stale-threshold", domain.DefaultStaleThresholdSeconds*time.Second, "Staleness threshold")
	httpAddr := flag.String("http-addr", ":8080", "API HTTP address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	useStub := flag.Bool("use-stub", false, "Use a stub feed adapter instead of a real endpoint")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[oracle] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useStub && *feedEndpoint == "" && *feedWSEndpoint == "" {
		logger.Fatal("--feed-endpoint or --feed-ws-endpoint is required (use --use-stub for a stub feed)")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if *owner == "" || *feedRegistryRef == "" || *feedManagerRef == "" {
		logger.Fatal("--owner, --feed-registry and --feed-manager are required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	reg, err := registry.New(*owner, *feedRegistryRef, *feedManagerRef)
	if err != nil {
		logger.Fatalf("Invalid registry references: %v", err)
	}

	store, archive, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	adapter, closeAdapter := createAdapter(ctx, *useStub, *feedEndpoint, *feedWSEndpoint)
	defer closeAdapter()

	metrics := observability.NewMetrics("")

	opts := []oracle.ServiceOption{
		oracle.WithMetrics(metrics),
		oracle.WithLogger(logger),
		oracle.WithStaleThreshold(*staleThreshold),
	}
	if archive != nil {
		opts = append(opts, oracle.WithArchive(archive))
	}
	service := oracle.NewService(adapter, store, reg, opts...)

	refresher := oracle.NewRefresher(service, splitSymbols(*symbols),
		oracle.WithRefreshInterval(*refreshInterval),
		oracle.WithRefresherMetrics(metrics),
	)

	server := &Server{
		service:   service,
		refresher: refresher,
		metrics:   metrics,
		logger:    logger,
		started:   time.Now(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go server.startMetricsServer(*metricsAddr)
	go server.startAPIServer(*httpAddr)

	refresher.Start(ctx)

	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)
	cancel()
	refresher.Stop()
	logger.Println("Shutdown complete")
}

// splitSymbols parses the comma-separated symbol list.
func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// createStores creates the history store and the optional sample archive.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.HistoryStore, storage.SampleArchive, func(), error) {
	if useMemory {
		return memory.NewHistoryStore(), memory.NewSampleArchive(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	if clickhouseDSN == "" {
		return pgstore.NewHistoryStore(pool), nil, pool.Close, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return pgstore.NewHistoryStore(pool), chstore.NewSampleArchive(conn), cleanup, nil
}

// createAdapter picks the feed adapter implementation.
func createAdapter(ctx context.Context, useStub bool, httpEndpoint, wsEndpoint string) (feed.Adapter, func()) {
	if useStub {
		return stub.NewAdapter(), func() {}
	}
	if wsEndpoint != "" {
		client := feed.NewWSClient(ctx, wsEndpoint, nil)
		return client, client.Close
	}
	return feed.NewHTTPClient(httpEndpoint), func() {}
}

// startMetricsServer serves health and Prometheus metrics.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", s.metrics.Handler())

	s.logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

// startAPIServer serves the oracle's caller-facing JSON endpoints.
func (s *Server) startAPIServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/symbols", s.handleSymbols)
	mux.HandleFunc("/quote", s.handleQuote)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/change", s.handleChange)
	mux.HandleFunc("/stale", s.handleStale)
	mux.HandleFunc("/update", s.handleUpdate)
	mux.HandleFunc("/feed-registry", s.handleSetFeedRegistry)
	mux.HandleFunc("/feed-manager", s.handleSetFeedManager)

	s.logger.Printf("Starting API server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Printf("API server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status         string   `json:"status"`
	Uptime         string   `json:"uptime"`
	TrackedSymbols []string `json:"tracked_symbols"`
	StaleThreshold string   `json:"stale_threshold"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "running",
		Uptime:         time.Since(s.started).String(),
		TrackedSymbols: s.service.TrackedSymbols(),
		StaleThreshold: s.service.StaleThreshold().String(),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.service.ListSymbols(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	quote, err := s.service.CurrentQuote(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"price":     quote.Price.String(),
		"timestamp": quote.Timestamp,
	})
}

// sampleJSON is the wire shape of one recorded sample.
type sampleJSON struct {
	Price     string `json:"price"`
	Timestamp uint64 `json:"timestamp"`
	EpochID   uint64 `json:"epoch_id"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	history, err := s.service.GetHistory(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}

	samples := make([]sampleJSON, 0, len(history))
	for _, sample := range history {
		samples = append(samples, sampleJSON{
			Price:     sample.Price.String(),
			Timestamp: sample.Timestamp,
			EpochID:   sample.EpochID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "samples": samples})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	sample, err := s.service.GetLatest(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"sample": sampleJSON{
			Price:     sample.Price.String(),
			Timestamp: sample.Timestamp,
			EpochID:   sample.EpochID,
		},
	})
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	change, err := s.service.Get24hChange(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":           symbol,
		"change_basis_pts": change.String(),
	})
}

func (s *Server) handleStale(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	due, err := s.service.NeedsUpdate(r.Context(), symbol, uint64(time.Now().Unix()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "needs_update": due})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	if err := s.service.Update(r.Context(), symbol); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "updated": true})
}

// setterRequest carries an owner-gated reference update. The caller's
// identity travels explicitly in the request, never implied.
type setterRequest struct {
	Caller string `json:"caller"`
	Ref    string `json:"ref"`
}

func (s *Server) handleSetFeedRegistry(w http.ResponseWriter, r *http.Request) {
	s.handleSetter(w, r, s.service.SetFeedRegistry)
}

func (s *Server) handleSetFeedManager(w http.ResponseWriter, r *http.Request) {
	s.handleSetter(w, r, s.service.SetFeedManager)
}

func (s *Server) handleSetter(w http.ResponseWriter, r *http.Request, set func(caller, ref string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := set(req.Caller, req.Ref); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": true})
}

func symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return "", false
	}
	return symbol, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, analytics.ErrInsufficientHistory), errors.Is(err, analytics.ErrNoSamples):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, registry.ErrInvalidReference), errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, feed.ErrFeedUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
