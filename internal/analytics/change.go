// Package analytics computes derived metrics from a symbol's retained
// sample window. All functions are pure: they never touch storage.
package analytics

import (
	"errors"
	"math/big"

	"token-price-oracle/internal/domain"
)

// Errors returned by analytics functions.
var (
	ErrNoSamples           = errors.New("no samples available")
	ErrInsufficientHistory = errors.New("insufficient history: need at least 2 samples")
)

var basisPointScale = big.NewInt(domain.BasisPointScale)

// Latest returns the newest sample of the window.
// Returns ErrNoSamples when the window is empty.
func Latest(samples []domain.PriceSample) (domain.PriceSample, error) {
	if len(samples) == 0 {
		return domain.PriceSample{}, ErrNoSamples
	}
	return samples[len(samples)-1].Clone(), nil
}

// PercentChange returns the price change across the retained window in
// signed basis points: (newest.Price * 10000) / oldest.Price - 10000.
//
// Division truncates, so results are biased toward zero by up to one basis
// point. That bias is part of the contract and must not be rounded away.
// A zero oldest price yields 0 rather than a division error.
// Returns ErrInsufficientHistory when the window holds fewer than 2 samples.
func PercentChange(samples []domain.PriceSample) (*big.Int, error) {
	if len(samples) < 2 {
		return nil, ErrInsufficientHistory
	}

	oldest := samples[0].Price
	newest := samples[len(samples)-1].Price
	if oldest == nil || newest == nil {
		return nil, ErrNoSamples
	}
	if oldest.Sign() == 0 {
		return big.NewInt(0), nil
	}

	ratio := new(big.Int).Mul(newest, basisPointScale)
	ratio.Quo(ratio, oldest)
	return ratio.Sub(ratio, basisPointScale), nil
}
