// Package feed defines the boundary to the upstream price feed and the
// clients that implement it. The oracle core treats the feed as an opaque
// supplier of (price, timestamp, epoch) triples.
package feed

import (
	"context"
	"errors"
	"math/big"
)

// ErrFeedUnavailable is returned when the upstream feed cannot supply a
// quote. The core propagates it without retrying; retry policy belongs to
// the caller, backoff inside a client is the client's own transport policy.
var ErrFeedUnavailable = errors.New("feed unavailable")

// Quote is one current price observation from the feed.
type Quote struct {
	Price     *big.Int // fixed-point, 18 decimals implied
	Timestamp uint64   // Unix timestamp (seconds)
}

// Adapter is the upstream price feed boundary.
type Adapter interface {
	// GetCurrentPrice retrieves the current quote for a symbol.
	// Returns an error wrapping ErrFeedUnavailable on upstream failure.
	GetCurrentPrice(ctx context.Context, symbol string) (Quote, error)

	// GetCurrentEpoch retrieves the feed's current epoch identifier.
	GetCurrentEpoch(ctx context.Context) (uint64, error)

	// ListSymbols retrieves the symbols the feed currently supports.
	ListSymbols(ctx context.Context) ([]string, error)
}
