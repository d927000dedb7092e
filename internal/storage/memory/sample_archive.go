package memory

import (
	"context"
	"sync"

	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/storage"
)

// SampleArchive is an in-memory implementation of storage.SampleArchive.
type SampleArchive struct {
	mu      sync.Mutex
	samples []domain.PriceSample
}

// NewSampleArchive creates a new in-memory sample archive.
func NewSampleArchive() *SampleArchive {
	return &SampleArchive{}
}

// ArchiveBulk appends samples to the archive.
func (a *SampleArchive) ArchiveBulk(_ context.Context, samples []domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		if s.Symbol == "" || s.Price == nil {
			return storage.ErrInvalidInput
		}
		a.samples = append(a.samples, s.Clone())
	}
	return nil
}

// All returns a copy of every archived sample, in arrival order.
func (a *SampleArchive) All() []domain.PriceSample {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.PriceSample, 0, len(a.samples))
	for _, s := range a.samples {
		out = append(out, s.Clone())
	}
	return out
}

var _ storage.SampleArchive = (*SampleArchive)(nil)
