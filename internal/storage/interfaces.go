package storage

import (
	"context"

	"token-price-oracle/internal/domain"
)

// HistoryStore provides access to the bounded per-symbol price history.
//
// Implementations must serialize appends to the same symbol (a reader never
// observes a partially evicted window) while allowing different symbols to
// proceed concurrently with no shared lock.
type HistoryStore interface {
	// Append adds a sample to its symbol's window, evicting the oldest
	// sample first when the window already holds domain.HistoryCapacity
	// entries. Read order of the survivors is preserved (oldest to newest).
	// Sets the symbol's last-update time to now. Returns ErrInvalidInput
	// on an empty symbol or nil price.
	Append(ctx context.Context, sample domain.PriceSample, now uint64) error

	// GetHistory retrieves the retained samples for a symbol, ordered
	// oldest to newest. Unknown symbols yield an empty slice, not an error.
	GetHistory(ctx context.Context, symbol string) ([]domain.PriceSample, error)

	// GetLatest retrieves the most recent sample for a symbol.
	// Returns ErrNotFound when the symbol has no recorded samples.
	GetLatest(ctx context.Context, symbol string) (domain.PriceSample, error)

	// LastUpdate returns the Unix time (seconds) of the symbol's last
	// append, or 0 when the symbol has never been updated.
	LastUpdate(ctx context.Context, symbol string) (uint64, error)
}

// SampleArchive is an append-only record of every observed sample, kept for
// traceability outside the bounded window. Archive writes are best-effort
// from the oracle's point of view: a failure never rolls back the window.
type SampleArchive interface {
	// ArchiveBulk appends samples to the archive.
	ArchiveBulk(ctx context.Context, samples []domain.PriceSample) error
}
