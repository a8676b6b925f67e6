package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
	"marketdata/internal/provider"
	"marketdata/internal/ratelimit"
	"marketdata/internal/store"
)

type fetchCall struct {
	start, end time.Time
}

// fakeAdapter counts upstream calls and serves synthetic weekday bars.
type fakeAdapter struct {
	name     domain.Provider
	probeErr error
	fetchErr error
	calls    []fetchCall
}

func (f *fakeAdapter) Name() domain.Provider { return f.name }
func (f *fakeAdapter) Probe() error          { return f.probeErr }

func (f *fakeAdapter) Fetch(ctx context.Context, symbol string, freq domain.Frequency, start, end time.Time) ([]domain.Bar, error) {
	f.calls = append(f.calls, fetchCall{start, end})
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return weekdayBars(f.name, symbol, start, end), nil
}

// weekdayBars emits one bar per weekday in [start, end], like a provider
// that only knows trading days.
func weekdayBars(p domain.Provider, symbol string, start, end time.Time) []domain.Bar {
	var bars []domain.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Date:      d,
			Frequency: domain.FrequencyDaily,
			Provider:  p,
			Close:     domain.Float(100 + float64(d.Day())),
			AdjClose:  domain.Float(99 + float64(d.Day())),
		})
	}
	return bars
}

func newTestEngine(t *testing.T, adapters map[domain.Provider]provider.Adapter) (*Engine, store.BarStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, adapters, map[domain.Provider]*ratelimit.Pacer{}, nil), s
}

func seedBars(t *testing.T, s store.BarStore, p domain.Provider, symbol string, dates ...time.Time) {
	t.Helper()
	var bars []domain.Bar
	for _, d := range dates {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Date:      d,
			Frequency: domain.FrequencyDaily,
			Provider:  p,
			Close:     domain.Float(100 + float64(d.Day())),
		})
	}
	require.NoError(t, s.WriteRange(context.Background(), bars))
	// Seeded rows must predate the request's start instant.
	time.Sleep(10 * time.Millisecond)
}

func TestColdFetch(t *testing.T) {
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, s := newTestEngine(t, map[domain.Provider]provider.Adapter{domain.ProviderTiingo: tiingo})

	res, err := e.GetPrices(context.Background(), Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderTiingo,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.FromCache)
	assert.Equal(t, 4, res.FromAPI)
	assert.Equal(t, domain.ProviderTiingo, res.Provider)
	require.Len(t, res.Bars, 4)
	for i := 1; i < len(res.Bars); i++ {
		assert.True(t, res.Bars[i-1].Date.Before(res.Bars[i].Date), "bars must ascend")
	}

	stored, err := s.ReadRange(context.Background(), "SPY", domain.FrequencyDaily, domain.ProviderTiingo,
		domain.Date(2024, time.January, 2), domain.Date(2024, time.January, 5))
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestFullCacheHit(t *testing.T) {
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, _ := newTestEngine(t, map[domain.Provider]provider.Adapter{domain.ProviderTiingo: tiingo})

	req := Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderTiingo,
	}
	first, err := e.GetPrices(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 4, first.FromAPI)

	time.Sleep(10 * time.Millisecond)
	callsBefore := len(tiingo.calls)

	second, err := e.GetPrices(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 0, second.FromAPI)
	assert.Equal(t, 4, second.FromCache)
	assert.Len(t, tiingo.calls, callsBefore, "cache hit must not reach upstream")
	require.Len(t, second.Bars, 4)
	for i, b := range second.Bars {
		assert.Equal(t, *first.Bars[i].Close, *b.Close)
	}
}

func TestGapFill(t *testing.T) {
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, s := newTestEngine(t, map[domain.Provider]provider.Adapter{domain.ProviderTiingo: tiingo})

	seedBars(t, s, domain.ProviderTiingo, "SPY",
		domain.Date(2024, time.January, 2), domain.Date(2024, time.January, 5))

	res, err := e.GetPrices(context.Background(), Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderTiingo,
	})
	require.NoError(t, err)

	require.Len(t, tiingo.calls, 1, "exactly one sub-interval fetch")
	assert.Equal(t, domain.Date(2024, time.January, 3), tiingo.calls[0].start)
	assert.Equal(t, domain.Date(2024, time.January, 4), tiingo.calls[0].end)

	assert.Equal(t, 2, res.FromAPI)
	assert.Equal(t, 2, res.FromCache)
	assert.Len(t, res.Bars, 4)
}

func TestAutoFallsBackOnStaleSession(t *testing.T) {
	barchart := &fakeAdapter{
		name: domain.ProviderBarchart,
		fetchErr: &domain.CredentialStaleError{ProviderFailureError: domain.ProviderFailureError{
			Provider:   domain.ProviderBarchart,
			StatusCode: 401,
			Msg:        "session credentials rejected",
		}},
	}
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, s := newTestEngine(t, map[domain.Provider]provider.Adapter{
		domain.ProviderBarchart: barchart,
		domain.ProviderTiingo:   tiingo,
	})

	res, err := e.GetPrices(context.Background(), Request{
		Symbol:   "AAPL",
		Start:    domain.Date(2024, time.June, 3),
		End:      domain.Date(2024, time.June, 7),
		Provider: domain.ProviderAuto,
	})
	require.NoError(t, err)

	assert.Len(t, barchart.calls, 1, "cookie provider attempted first")
	assert.Len(t, tiingo.calls, 1, "fallback serves the same sub-interval")
	assert.Equal(t, domain.ProviderTiingo, res.Provider)
	assert.Equal(t, 5, res.FromAPI)

	stored, err := s.ReadRange(context.Background(), "AAPL", domain.FrequencyDaily, domain.ProviderTiingo,
		domain.Date(2024, time.June, 3), domain.Date(2024, time.June, 7))
	require.NoError(t, err)
	assert.Len(t, stored, 5, "provenance records the fallback provider")
}

func TestExplicitProviderDoesNotFallBack(t *testing.T) {
	barchart := &fakeAdapter{
		name: domain.ProviderBarchart,
		fetchErr: &domain.CredentialStaleError{ProviderFailureError: domain.ProviderFailureError{
			Provider: domain.ProviderBarchart, StatusCode: 401, Msg: "session credentials rejected",
		}},
	}
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, _ := newTestEngine(t, map[domain.Provider]provider.Adapter{
		domain.ProviderBarchart: barchart,
		domain.ProviderTiingo:   tiingo,
	})

	_, err := e.GetPrices(context.Background(), Request{
		Symbol:   "AAPL",
		Start:    domain.Date(2024, time.June, 3),
		End:      domain.Date(2024, time.June, 7),
		Provider: domain.ProviderBarchart,
	})

	var stale *domain.CredentialStaleError
	require.True(t, errors.As(err, &stale), "got %T: %v", err, err)
	assert.Empty(t, tiingo.calls)
}

func TestRefreshOverwrites(t *testing.T) {
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, st := newTestEngine(t, map[domain.Provider]provider.Adapter{domain.ProviderTiingo: tiingo})

	seedBars(t, st, domain.ProviderTiingo, "AAPL",
		domain.Date(2024, time.June, 3), domain.Date(2024, time.June, 4), domain.Date(2024, time.June, 5),
		domain.Date(2024, time.June, 6), domain.Date(2024, time.June, 7))

	before := time.Now().UTC()
	res, err := e.GetPrices(context.Background(), Request{
		Symbol:   "AAPL",
		Start:    domain.Date(2024, time.June, 3),
		End:      domain.Date(2024, time.June, 7),
		Provider: domain.ProviderTiingo,
		Refresh:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.FromCache)
	assert.Equal(t, 5, res.FromAPI)
	require.Len(t, tiingo.calls, 1, "refresh fetches the whole range")
	for _, b := range res.Bars {
		assert.False(t, b.FetchedAt.Before(before), "refresh must restamp fetched_at")
	}
}

func TestInvalidInputNamesEveryProblem(t *testing.T) {
	// A nil store proves validation happens before any store activity.
	e := New(nil, nil, nil, nil)

	_, err := e.GetPrices(context.Background(), Request{
		Symbol: "aapl$",
		Start:  domain.Date(2024, time.January, 10),
		End:    domain.Date(2024, time.January, 1),
	})

	var invalid *domain.InvalidInputError
	require.True(t, errors.As(err, &invalid), "got %T: %v", err, err)
	assert.Contains(t, err.Error(), "AAPL$")
	assert.Contains(t, err.Error(), "2024-01-10")
	require.GreaterOrEqual(t, len(invalid.Reasons), 2)
}

func TestRejectsFutureAndPrehistoricRanges(t *testing.T) {
	e := New(nil, nil, nil, nil)
	e.now = func() time.Time { return domain.Date(2024, time.June, 10) }

	_, err := e.GetPrices(context.Background(), Request{
		Symbol: "SPY",
		Start:  domain.Date(2024, time.June, 11),
		End:    domain.Date(2024, time.June, 12),
	})
	var invalid *domain.InvalidInputError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, err.Error(), "today")

	_, err = e.GetPrices(context.Background(), Request{
		Symbol: "SPY",
		Start:  domain.Date(1969, time.December, 31),
		End:    domain.Date(2024, time.January, 2),
	})
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, err.Error(), "1970-01-01")
}

func TestCancellationStopsBetweenSubIntervals(t *testing.T) {
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, _ := newTestEngine(t, map[domain.Provider]provider.Adapter{domain.ProviderTiingo: tiingo})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.GetPrices(ctx, Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderTiingo,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tiingo.calls)
}

func TestAutoPrefersCookieProviderWhenProbeSucceeds(t *testing.T) {
	barchart := &fakeAdapter{name: domain.ProviderBarchart}
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, _ := newTestEngine(t, map[domain.Provider]provider.Adapter{
		domain.ProviderBarchart: barchart,
		domain.ProviderTiingo:   tiingo,
	})

	res, err := e.GetPrices(context.Background(), Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderAuto,
	})
	require.NoError(t, err)
	assert.Len(t, barchart.calls, 1)
	assert.Empty(t, tiingo.calls)
	assert.Equal(t, domain.ProviderBarchart, res.Provider)
}

func TestAutoSkipsUnconfiguredCookieProvider(t *testing.T) {
	barchart := &fakeAdapter{
		name:     domain.ProviderBarchart,
		probeErr: &domain.CredentialMissingError{Provider: domain.ProviderBarchart, Field: "cookie_string"},
	}
	tiingo := &fakeAdapter{name: domain.ProviderTiingo}
	e, _ := newTestEngine(t, map[domain.Provider]provider.Adapter{
		domain.ProviderBarchart: barchart,
		domain.ProviderTiingo:   tiingo,
	})

	res, err := e.GetPrices(context.Background(), Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderAuto,
	})
	require.NoError(t, err)
	assert.Empty(t, barchart.calls)
	assert.Len(t, tiingo.calls, 1)
	assert.Equal(t, domain.ProviderTiingo, res.Provider)
}

func TestFetchFailureLeavesStoreUntouched(t *testing.T) {
	tiingo := &fakeAdapter{
		name: domain.ProviderTiingo,
		fetchErr: &domain.ProviderFailureError{
			Provider: domain.ProviderTiingo, StatusCode: 500, Msg: "upstream error",
		},
	}
	e, st := newTestEngine(t, map[domain.Provider]provider.Adapter{domain.ProviderTiingo: tiingo})

	_, err := e.GetPrices(context.Background(), Request{
		Symbol:   "SPY",
		Start:    domain.Date(2024, time.January, 2),
		End:      domain.Date(2024, time.January, 5),
		Provider: domain.ProviderTiingo,
	})
	require.Error(t, err)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRows)
}
