// Package interval implements pure date-interval algebra used for cache gap
// detection. All intervals are closed and operate on calendar dates at
// midnight UTC; trading-day awareness is deliberately absent (a calendar date
// with no bar is a legitimately-empty day, not a gap to re-fetch forever —
// the store records what the provider returned and the algebra only compares
// against those records).
package interval

import "time"

const day = 24 * time.Hour

// Range is a closed calendar-date interval [Start, End].
type Range struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar dates in the closed range.
func (r Range) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start)/day) + 1
}

// Contains reports whether date d lies within the closed range.
func (r Range) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Missing partitions the requested range r against the covered dates and
// returns the maximal closed sub-ranges of r not covered, sorted ascending
// and non-overlapping. covered must be sorted ascending; dates outside r are
// ignored. An empty covered set yields [r]; full coverage yields nil.
func Missing(r Range, covered []time.Time) []Range {
	if r.End.Before(r.Start) {
		return nil
	}

	have := make(map[time.Time]struct{}, len(covered))
	for _, d := range covered {
		if r.Contains(d) {
			have[truncate(d)] = struct{}{}
		}
	}

	var gaps []Range
	var open bool
	var gapStart time.Time

	for d := truncate(r.Start); !d.After(r.End); d = d.Add(day) {
		if _, ok := have[d]; ok {
			if open {
				gaps = append(gaps, Range{Start: gapStart, End: d.Add(-day)})
				open = false
			}
			continue
		}
		if !open {
			gapStart = d
			open = true
		}
	}
	if open {
		gaps = append(gaps, Range{Start: gapStart, End: truncate(r.End)})
	}
	return gaps
}

func truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
