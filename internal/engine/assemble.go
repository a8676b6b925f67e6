package engine

import (
	"sort"
	"time"

	"marketdata/internal/domain"
)

// Merge combines per-provider batches into one ascending series with at
// most one bar per date. When two providers cover the same date the
// Barchart bar wins; within a provider the later fetch wins.
func Merge(batches ...[]domain.Bar) []domain.Bar {
	byDate := make(map[time.Time]domain.Bar)
	for _, batch := range batches {
		for _, b := range batch {
			prev, ok := byDate[b.Date]
			if !ok || prefer(b, prev) {
				byDate[b.Date] = b
			}
		}
	}

	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// prefer reports whether candidate should replace incumbent for a date.
func prefer(candidate, incumbent domain.Bar) bool {
	if candidate.Provider != incumbent.Provider {
		return candidate.Provider == domain.ProviderBarchart
	}
	return candidate.FetchedAt.After(incumbent.FetchedAt)
}
