package postgres

import (
	"context"
	"fmt"
	"math/big"

	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/storage"
)

// HistoryStore implements storage.HistoryStore using PostgreSQL. The
// 24-slot bound survives restarts: append and trim happen in one
// transaction, and the symbol_state row lock serializes appends per
// symbol without blocking other symbols.
type HistoryStore struct {
	pool *Pool
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Append adds a sample to its symbol's window, evicting the oldest rows
// beyond the capacity, and records the last-update time.
func (s *HistoryStore) Append(ctx context.Context, sample domain.PriceSample, now uint64) error {
	if sample.Symbol == "" || sample.Price == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The upsert takes the symbol's row lock for the rest of the
	// transaction, serializing concurrent appends to the same symbol.
	_, err = tx.Exec(ctx, `
		INSERT INTO symbol_state (symbol, last_update)
		VALUES ($1, $2)
		ON CONFLICT (symbol) DO UPDATE SET last_update = EXCLUDED.last_update
	`, sample.Symbol, int64(now))
	if err != nil {
		return fmt.Errorf("upsert symbol state: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO price_samples (symbol, price, observed_at, epoch_id)
		VALUES ($1, $2, $3, $4)
	`, sample.Symbol, sample.Price.String(), int64(sample.Timestamp), int64(sample.EpochID))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	// Trim to the newest HistoryCapacity rows, oldest first out.
	_, err = tx.Exec(ctx, `
		DELETE FROM price_samples
		WHERE symbol = $1 AND seq < (
			SELECT COALESCE(MIN(seq), 0) FROM (
				SELECT seq FROM price_samples
				WHERE symbol = $1
				ORDER BY seq DESC
				LIMIT $2
			) keep
		)
	`, sample.Symbol, domain.HistoryCapacity)
	if err != nil {
		return fmt.Errorf("trim window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetHistory retrieves the retained samples for a symbol in insertion
// order, oldest first. Unknown symbols yield an empty slice.
func (s *HistoryStore) GetHistory(ctx context.Context, symbol string) ([]domain.PriceSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT price, observed_at, epoch_id
		FROM price_samples
		WHERE symbol = $1
		ORDER BY seq ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var result []domain.PriceSample
	for rows.Next() {
		sample, err := scanSample(rows, symbol)
		if err != nil {
			return nil, err
		}
		result = append(result, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return result, nil
}

// GetLatest retrieves the most recent sample for a symbol.
// Returns ErrNotFound when the symbol has no recorded samples.
func (s *HistoryStore) GetLatest(ctx context.Context, symbol string) (domain.PriceSample, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT price, observed_at, epoch_id
		FROM price_samples
		WHERE symbol = $1
		ORDER BY seq DESC
		LIMIT 1
	`, symbol)

	sample, err := scanSample(row, symbol)
	if err != nil {
		if isNotFoundError(err) {
			return domain.PriceSample{}, storage.ErrNotFound
		}
		return domain.PriceSample{}, fmt.Errorf("query latest: %w", err)
	}
	return sample, nil
}

// LastUpdate returns the Unix time of the symbol's last append, 0 if never.
func (s *HistoryStore) LastUpdate(ctx context.Context, symbol string) (uint64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_update FROM symbol_state WHERE symbol = $1
	`, symbol).Scan(&last)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("query last update: %w", err)
	}
	return uint64(last), nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner, symbol string) (domain.PriceSample, error) {
	var (
		priceText  string
		observedAt int64
		epochID    int64
	)
	if err := row.Scan(&priceText, &observedAt, &epochID); err != nil {
		return domain.PriceSample{}, err
	}

	price, ok := new(big.Int).SetString(priceText, 10)
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("malformed stored price %q for %s", priceText, symbol)
	}
	return domain.PriceSample{
		Symbol:    symbol,
		Price:     price,
		Timestamp: uint64(observedAt),
		EpochID:   uint64(epochID),
	}, nil
}
