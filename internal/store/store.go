// Package store provides durable persistence and range queries for daily
// price bars, backed by an embedded SQLite database, plus Parquet export for
// analytical consumers.
package store

import (
	"context"
	"time"

	"marketdata/internal/domain"
)

// BarStore persists and retrieves daily bars keyed by
// (symbol, date, frequency, provider).
type BarStore interface {
	// ReadRange returns bars matching the key whose date lies in
	// [start, end], ascending by date.
	ReadRange(ctx context.Context, symbol string, freq domain.Frequency, provider domain.Provider, start, end time.Time) ([]domain.Bar, error)

	// CoveredDates returns the sorted set of dates already stored for the
	// key within [start, end]. Used for gap detection before fetching.
	CoveredDates(ctx context.Context, symbol string, freq domain.Frequency, provider domain.Provider, start, end time.Time) ([]time.Time, error)

	// WriteRange inserts-or-replaces the given bars in a single atomic
	// transaction, stamping FetchedAt. A failed transaction leaves the
	// store unchanged.
	WriteRange(ctx context.Context, bars []domain.Bar) error

	// Clear deletes rows matching the optional filters. An empty symbol or
	// provider matches everything. Returns the number of rows deleted.
	Clear(ctx context.Context, symbol string, provider domain.Provider) (int64, error)

	// Stats reports cache totals.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the underlying database.
	Close() error
}

// Stats summarises the contents of the store.
type Stats struct {
	TotalRows     int64
	UniqueSymbols int64
	OldestDate    time.Time // zero when the store is empty
	NewestDate    time.Time
	FileSizeBytes int64
}
