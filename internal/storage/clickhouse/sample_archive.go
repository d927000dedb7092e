package clickhouse

import (
	"context"
	"fmt"

	"token-price-oracle/internal/domain"
	"token-price-oracle/internal/storage"
)

// SampleArchive implements storage.SampleArchive using ClickHouse.
// The archive is append-only; samples evicted from the bounded window
// stay queryable here. Prices are stored as decimal strings so the full
// u256 range survives the round trip.
type SampleArchive struct {
	conn *Conn
}

// NewSampleArchive creates a new SampleArchive.
func NewSampleArchive(conn *Conn) *SampleArchive {
	return &SampleArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.SampleArchive = (*SampleArchive)(nil)

// ArchiveBulk appends samples to the archive.
func (a *SampleArchive) ArchiveBulk(ctx context.Context, samples []domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	for _, s := range samples {
		if s.Symbol == "" || s.Price == nil {
			return storage.ErrInvalidInput
		}
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO price_sample_archive (
			symbol, price, observed_at, epoch_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range samples {
		if err := batch.Append(s.Symbol, s.Price.String(), s.Timestamp, s.EpochID); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountBySymbol returns the number of archived samples for a symbol.
func (a *SampleArchive) CountBySymbol(ctx context.Context, symbol string) (uint64, error) {
	var count uint64
	err := a.conn.QueryRow(ctx, `
		SELECT count() FROM price_sample_archive WHERE symbol = ?
	`, symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count archived samples: %w", err)
	}
	return count, nil
}
