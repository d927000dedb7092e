package memory

import (
	"context"
	"sync"

	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/storage"
)

// symbolWindow holds one symbol's bounded sample window.
// A fixed ring buffer keeps Append O(1); reads always present
// samples oldest to newest, matching insertion order.
type symbolWindow struct {
	mu         sync.RWMutex
	samples    [domain.HistoryCapacity]domain.PriceSample
	head       int // index of the oldest sample
	count      int
	lastUpdate uint64
}

// HistoryStore is an in-memory implementation of storage.HistoryStore.
// The outer mutex guards only the symbol map; each window carries its own
// lock, so appends to different symbols never contend.
type HistoryStore struct {
	mu      sync.RWMutex
	windows map[string]*symbolWindow
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		windows: make(map[string]*symbolWindow),
	}
}

// window returns the symbol's window, creating it lazily when create is set.
func (s *HistoryStore) window(symbol string, create bool) *symbolWindow {
	s.mu.RLock()
	w := s.windows[symbol]
	s.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.windows[symbol]; w == nil {
		w = &symbolWindow{}
		s.windows[symbol] = w
	}
	return w
}

// Append adds a sample to its symbol's window, evicting the oldest sample
// when the window is full. Sets the symbol's last-update time to now.
func (s *HistoryStore) Append(_ context.Context, sample domain.PriceSample, now uint64) error {
	if sample.Symbol == "" || sample.Price == nil {
		return storage.ErrInvalidInput
	}

	w := s.window(sample.Symbol, true)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == domain.HistoryCapacity {
		// Window full: the slot holding the oldest sample becomes the
		// newest, and the head advances past the evicted entry.
		w.samples[w.head] = sample.Clone()
		w.head = (w.head + 1) % domain.HistoryCapacity
	} else {
		w.samples[(w.head+w.count)%domain.HistoryCapacity] = sample.Clone()
		w.count++
	}
	w.lastUpdate = now

	return nil
}

// GetHistory retrieves the retained samples for a symbol, oldest to newest.
// Unknown symbols yield an empty slice.
func (s *HistoryStore) GetHistory(_ context.Context, symbol string) ([]domain.PriceSample, error) {
	w := s.window(symbol, false)
	if w == nil {
		return nil, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]domain.PriceSample, 0, w.count)
	for i := 0; i < w.count; i++ {
		result = append(result, w.samples[(w.head+i)%domain.HistoryCapacity].Clone())
	}
	return result, nil
}

// GetLatest retrieves the most recent sample for a symbol.
// Returns ErrNotFound when the symbol has no recorded samples.
func (s *HistoryStore) GetLatest(_ context.Context, symbol string) (domain.PriceSample, error) {
	w := s.window(symbol, false)
	if w == nil {
		return domain.PriceSample{}, storage.ErrNotFound
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		return domain.PriceSample{}, storage.ErrNotFound
	}
	return w.samples[(w.head+w.count-1)%domain.HistoryCapacity].Clone(), nil
}

// LastUpdate returns the Unix time of the symbol's last append, 0 if never.
func (s *HistoryStore) LastUpdate(_ context.Context, symbol string) (uint64, error) {
	w := s.window(symbol, false)
	if w == nil {
		return 0, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastUpdate, nil
}

var _ storage.HistoryStore = (*HistoryStore)(nil)
