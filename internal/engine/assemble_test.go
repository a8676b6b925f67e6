package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
)

func mergeBar(p domain.Provider, date time.Time, close float64, fetchedAt time.Time) domain.Bar {
	return domain.Bar{
		Symbol:    "SPY",
		Date:      date,
		Frequency: domain.FrequencyDaily,
		Provider:  p,
		Close:     domain.Float(close),
		FetchedAt: fetchedAt,
	}
}

func TestMergeAscendingNoDuplicates(t *testing.T) {
	t0 := time.Now()
	jan2 := domain.Date(2024, time.January, 2)
	jan3 := domain.Date(2024, time.January, 3)
	jan4 := domain.Date(2024, time.January, 4)

	out := Merge(
		[]domain.Bar{mergeBar(domain.ProviderTiingo, jan3, 101, t0), mergeBar(domain.ProviderTiingo, jan2, 100, t0)},
		[]domain.Bar{mergeBar(domain.ProviderTiingo, jan4, 102, t0)},
	)
	require.Len(t, out, 3)
	assert.Equal(t, jan2, out[0].Date)
	assert.Equal(t, jan3, out[1].Date)
	assert.Equal(t, jan4, out[2].Date)
}

func TestMergeCrossProviderPrefersBarchart(t *testing.T) {
	t0 := time.Now()
	jan2 := domain.Date(2024, time.January, 2)

	out := Merge(
		[]domain.Bar{mergeBar(domain.ProviderTiingo, jan2, 100, t0.Add(time.Hour))},
		[]domain.Bar{mergeBar(domain.ProviderBarchart, jan2, 200, t0)},
	)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ProviderBarchart, out[0].Provider)
	assert.Equal(t, 200.0, *out[0].Close)

	// Order of batches must not matter.
	out = Merge(
		[]domain.Bar{mergeBar(domain.ProviderBarchart, jan2, 200, t0)},
		[]domain.Bar{mergeBar(domain.ProviderTiingo, jan2, 100, t0.Add(time.Hour))},
	)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ProviderBarchart, out[0].Provider)
}

func TestMergeSameProviderLaterFetchWins(t *testing.T) {
	t0 := time.Now()
	jan2 := domain.Date(2024, time.January, 2)

	out := Merge(
		[]domain.Bar{mergeBar(domain.ProviderTiingo, jan2, 100, t0)},
		[]domain.Bar{mergeBar(domain.ProviderTiingo, jan2, 105, t0.Add(time.Minute))},
	)
	require.Len(t, out, 1)
	assert.Equal(t, 105.0, *out[0].Close)
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge())
	assert.Empty(t, Merge(nil, []domain.Bar{}))
}
