package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"marketdata/internal/domain"
)

// BarRecord is the Parquet schema for exported daily bars. Optional columns
// mirror the nullable price fields of the store.
type BarRecord struct {
	Symbol    string   `parquet:"symbol"`
	Date      string   `parquet:"date"` // YYYY-MM-DD
	Provider  string   `parquet:"provider"`
	Open      *float64 `parquet:"open,optional"`
	High      *float64 `parquet:"high,optional"`
	Low       *float64 `parquet:"low,optional"`
	Close     *float64 `parquet:"close,optional"`
	Volume    *float64 `parquet:"volume,optional"`
	AdjOpen   *float64 `parquet:"adj_open,optional"`
	AdjHigh   *float64 `parquet:"adj_high,optional"`
	AdjLow    *float64 `parquet:"adj_low,optional"`
	AdjClose  *float64 `parquet:"adj_close,optional"`
	AdjVolume *float64 `parquet:"adj_volume,optional"`
	FetchedAt int64    `parquet:"fetched_at,timestamp(millisecond)"`
}

// ParquetExporter writes cached bars to Parquet files for analytical
// consumers. Layout: <dataDir>/daily/<SYMBOL>/<YYYY>.parquet, one file per
// symbol and year, merged on re-export.
type ParquetExporter struct {
	DataDir string
}

// NewParquetExporter creates a ParquetExporter rooted at dataDir.
func NewParquetExporter(dataDir string) *ParquetExporter {
	return &ParquetExporter{DataDir: dataDir}
}

// Export reads bars for the key from the store and writes them to Parquet,
// grouped by year. Returns the number of bars exported.
func (e *ParquetExporter) Export(ctx context.Context, s BarStore, symbol string, freq domain.Frequency, provider domain.Provider, start, end time.Time) (int, error) {
	bars, err := s.ReadRange(ctx, symbol, freq, provider, start, end)
	if err != nil {
		return 0, fmt.Errorf("reading bars for export: %w", err)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	byYear := make(map[int][]BarRecord)
	for _, b := range bars {
		byYear[b.Date.Year()] = append(byYear[b.Date.Year()], BarRecord{
			Symbol:    b.Symbol,
			Date:      b.Date.Format(dateLayout),
			Provider:  string(b.Provider),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			AdjOpen:   b.AdjOpen,
			AdjHigh:   b.AdjHigh,
			AdjLow:    b.AdjLow,
			AdjClose:  b.AdjClose,
			AdjVolume: b.AdjVolume,
			FetchedAt: b.FetchedAt.UnixMilli(),
		})
	}

	for year, records := range byYear {
		path := e.barPath(symbol, year)

		// Merge with any prior export for the same symbol/year.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing parquet for %s/%d: %w", symbol, year, err)
		}
	}
	return len(bars), nil
}

// barPath returns the export path for a symbol and year.
func (e *ParquetExporter) barPath(symbol string, year int) string {
	return filepath.Join(e.DataDir, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by (symbol, date, provider), preferring
// incoming records, and returns rows sorted by date.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol   string
		date     string
		provider string
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Date, r.Provider}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Date, r.Provider}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Date != merged[j].Date {
			return merged[i].Date < merged[j].Date
		}
		return merged[i].Provider < merged[j].Provider
	})
	return merged
}
