package domain

import "math/big"

// History and analytics constants.
const (
	// HistoryCapacity is the maximum number of samples retained per symbol.
	HistoryCapacity = 24

	// BasisPointScale converts a price ratio into basis points (1 bp = 0.01%).
	BasisPointScale = 10000

	// DefaultStaleThresholdSeconds is the minimum age after which a symbol
	// is considered due for a refresh.
	DefaultStaleThresholdSeconds = 3600
)

// PriceSample represents one observed price quote for a symbol.
// Price is an unsigned fixed-point value with 18 implied decimals.
// Immutable once created; stores copy on write and on read.
type PriceSample struct {
	Symbol    string
	Price     *big.Int // fixed-point, 18 decimals implied
	Timestamp uint64   // Unix timestamp (seconds)
	EpochID   uint64   // opaque feed epoch, traceability only
}

// Clone returns a deep copy of the sample.
func (s PriceSample) Clone() PriceSample {
	out := s
	if s.Price != nil {
		out.Price = new(big.Int).Set(s.Price)
	}
	return out
}
