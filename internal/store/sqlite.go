package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketdata/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ BarStore = (*SQLiteStore)(nil)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS prices (
	symbol     TEXT NOT NULL,
	date       TEXT NOT NULL,
	frequency  TEXT NOT NULL,
	provider   TEXT NOT NULL,
	open       REAL,
	high       REAL,
	low        REAL,
	close      REAL,
	volume     REAL,
	adj_open   REAL,
	adj_high   REAL,
	adj_low    REAL,
	adj_close  REAL,
	adj_volume REAL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (symbol, date, frequency, provider)
);

CREATE INDEX IF NOT EXISTS idx_symbol_date ON prices (symbol, date);
`

// SQLiteStore implements BarStore backed by a single-file SQLite database.
// Writes within one process are serialized on a single connection; atomicity
// is per WriteRange transaction. Cross-process writers are unsupported.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the bar database at dbPath, creating parent
// directories and the schema as needed. An existing file that fails the
// integrity check yields a StoreCorruptionError.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", dbPath, err)
	}
	// One connection serializes in-process writers and sidesteps
	// SQLITE_BUSY between our own transactions.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring store: %w", err)
		}
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		db.Close()
		if err == nil {
			err = errors.New(check)
		}
		return nil, &domain.StoreCorruptionError{
			Path: dbPath,
			Hint: "delete the file to rebuild the cache",
			Err:  err,
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReadRange returns bars for the key within [start, end], ascending by date.
func (s *SQLiteStore) ReadRange(ctx context.Context, symbol string, freq domain.Frequency, provider domain.Provider, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, frequency, provider,
		       open, high, low, close, volume,
		       adj_open, adj_high, adj_low, adj_close, adj_volume,
		       fetched_at
		FROM prices
		WHERE symbol = ? AND frequency = ? AND provider = ?
		  AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, string(freq), string(provider),
		start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, s.wrapReadErr(err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, s.wrapReadErr(err)
		}
		bars = append(bars, b)
	}
	return bars, s.wrapReadErr(rows.Err())
}

// CoveredDates returns the sorted dates stored for the key within [start, end].
func (s *SQLiteStore) CoveredDates(ctx context.Context, symbol string, freq domain.Frequency, provider domain.Provider, start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date FROM prices
		WHERE symbol = ? AND frequency = ? AND provider = ?
		  AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, string(freq), string(provider),
		start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, s.wrapReadErr(err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			return nil, s.wrapReadErr(err)
		}
		d, err := time.ParseInLocation(dateLayout, ds, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", ds, err)
		}
		dates = append(dates, d)
	}
	return dates, s.wrapReadErr(rows.Err())
}

// WriteRange inserts-or-replaces all bars in one transaction, stamping
// fetched_at with the current instant. A transient lock conflict is retried
// once; any failure rolls back the whole batch.
func (s *SQLiteStore) WriteRange(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	err := s.writeRangeOnce(ctx, bars)
	if err != nil && isBusy(err) {
		err = s.writeRangeOnce(ctx, bars)
	}
	return err
}

func (s *SQLiteStore) writeRangeOnce(ctx context.Context, bars []domain.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning write transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO prices (
			symbol, date, frequency, provider,
			open, high, low, close, volume,
			adj_open, adj_high, adj_low, adj_close, adj_volume,
			fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			b.Symbol, b.Date.Format(dateLayout), string(b.Frequency), string(b.Provider),
			nullable(b.Open), nullable(b.High), nullable(b.Low), nullable(b.Close), nullable(b.Volume),
			nullable(b.AdjOpen), nullable(b.AdjHigh), nullable(b.AdjLow), nullable(b.AdjClose), nullable(b.AdjVolume),
			fetchedAt)
		if err != nil {
			return fmt.Errorf("inserting bar %s/%s: %w", b.Symbol, b.Date.Format(dateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write: %w", err)
	}
	return nil
}

// Clear deletes rows matching the optional symbol and provider filters and
// returns the number of rows removed.
func (s *SQLiteStore) Clear(ctx context.Context, symbol string, provider domain.Provider) (int64, error) {
	query := "DELETE FROM prices"
	var conds []string
	var args []any
	if symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, symbol)
	}
	if provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, string(provider))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clearing store: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports totals over the whole store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT symbol), MIN(date), MAX(date)
		FROM prices`).Scan(&st.TotalRows, &st.UniqueSymbols, &oldest, &newest)
	if err != nil {
		return Stats{}, s.wrapReadErr(err)
	}
	if oldest.Valid {
		st.OldestDate, _ = time.ParseInLocation(dateLayout, oldest.String, time.UTC)
	}
	if newest.Valid {
		st.NewestDate, _ = time.ParseInLocation(dateLayout, newest.String, time.UTC)
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.FileSizeBytes = fi.Size()
	}
	return st, nil
}

// wrapReadErr maps low-level corruption reports onto the typed store error.
func (s *SQLiteStore) wrapReadErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "malformed") || strings.Contains(err.Error(), "not a database") {
		return &domain.StoreCorruptionError{
			Path: s.path,
			Hint: "delete the file to rebuild the cache",
			Err:  err,
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBar(row rowScanner) (domain.Bar, error) {
	var b domain.Bar
	var dateStr, freq, prov, fetched string
	var open, high, low, clos, vol, aOpen, aHigh, aLow, aClose, aVol sql.NullFloat64

	err := row.Scan(&b.Symbol, &dateStr, &freq, &prov,
		&open, &high, &low, &clos, &vol,
		&aOpen, &aHigh, &aLow, &aClose, &aVol,
		&fetched)
	if err != nil {
		return domain.Bar{}, err
	}

	b.Date, err = time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing stored date %q: %w", dateStr, err)
	}
	b.Frequency = domain.Frequency(freq)
	b.Provider = domain.Provider(prov)
	b.FetchedAt, err = time.Parse(time.RFC3339Nano, fetched)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing fetched_at %q: %w", fetched, err)
	}

	b.Open = floatPtr(open)
	b.High = floatPtr(high)
	b.Low = floatPtr(low)
	b.Close = floatPtr(clos)
	b.Volume = floatPtr(vol)
	b.AdjOpen = floatPtr(aOpen)
	b.AdjHigh = floatPtr(aHigh)
	b.AdjLow = floatPtr(aLow)
	b.AdjClose = floatPtr(aClose)
	b.AdjVolume = floatPtr(aVol)
	return b, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
