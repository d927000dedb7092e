package postgres

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/storage"
)

func newSample(symbol string, price int64, ts uint64) domain.PriceSample {
	return domain.PriceSample{
		Symbol:    symbol,
		Price:     big.NewInt(price),
		Timestamp: ts,
		EpochID:   ts,
	}
}

func TestHistoryStore_AppendAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, newSample("NEO", 100, 1000), 1000))
	require.NoError(t, store.Append(ctx, newSample("NEO", 110, 2000), 2000))

	history, err := store.GetHistory(ctx, "NEO")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(100), history[0].Price.Int64())
	assert.Equal(t, int64(110), history[1].Price.Int64())
	assert.Equal(t, uint64(2000), history[1].Timestamp)
}

func TestHistoryStore_LargePriceRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)
	ctx := context.Background()

	// 18-decimal fixed point exceeds int64 and bigint; stored as text.
	price, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	sample := domain.PriceSample{Symbol: "BTC", Price: price, Timestamp: 1, EpochID: 1}
	require.NoError(t, store.Append(ctx, sample, 1))

	latest, err := store.GetLatest(ctx, "BTC")
	require.NoError(t, err)
	assert.Zero(t, latest.Price.Cmp(price))
}

func TestHistoryStore_EvictionPreservesOrder(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		require.NoError(t, store.Append(ctx, newSample("GAS", int64(i), uint64(i)), uint64(i)))
	}

	history, err := store.GetHistory(ctx, "GAS")
	require.NoError(t, err)
	require.Len(t, history, domain.HistoryCapacity)
	for i, s := range history {
		assert.Equal(t, int64(i+2), s.Price.Int64(), "history[%d]", i)
	}
}

func TestHistoryStore_GetHistoryUnknownSymbol(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)

	history, err := store.GetHistory(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistoryStore_GetLatestNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)

	_, err := store.GetLatest(context.Background(), "NEO")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHistoryStore_LastUpdate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)
	ctx := context.Background()

	last, err := store.LastUpdate(ctx, "NEO")
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, store.Append(ctx, newSample("NEO", 100, 5000), 5000))

	last, err = store.LastUpdate(ctx, "NEO")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), last)
}

func TestHistoryStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)
	ctx := context.Background()

	err := store.Append(ctx, domain.PriceSample{Symbol: "", Price: big.NewInt(1)}, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Append(ctx, domain.PriceSample{Symbol: "NEO"}, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestHistoryStore_ConcurrentAppends(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append(ctx, newSample("NEO", int64(i), uint64(i)), uint64(i)))
		}(i)
	}
	wg.Wait()

	history, err := store.GetHistory(ctx, "NEO")
	require.NoError(t, err)
	assert.Len(t, history, domain.HistoryCapacity)
}
