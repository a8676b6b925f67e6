package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(day int) time.Time {
	return time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
}

func TestMissingEmptyCoverage(t *testing.T) {
	r := Range{Start: d(1), End: d(10)}
	gaps := Missing(r, nil)
	require.Len(t, gaps, 1)
	assert.Equal(t, r, gaps[0])
}

func TestMissingFullCoverage(t *testing.T) {
	r := Range{Start: d(1), End: d(5)}
	covered := []time.Time{d(1), d(2), d(3), d(4), d(5)}
	assert.Empty(t, Missing(r, covered))
}

func TestMissingMiddleGap(t *testing.T) {
	// Cached Jan 2 and Jan 5; request [Jan 2, Jan 5] — the classic gap fill.
	r := Range{Start: d(2), End: d(5)}
	gaps := Missing(r, []time.Time{d(2), d(5)})
	require.Len(t, gaps, 1)
	assert.Equal(t, Range{Start: d(3), End: d(4)}, gaps[0])
}

func TestMissingSingleDayGap(t *testing.T) {
	r := Range{Start: d(1), End: d(3)}
	gaps := Missing(r, []time.Time{d(1), d(3)})
	require.Len(t, gaps, 1)
	assert.Equal(t, Range{Start: d(2), End: d(2)}, gaps[0])
}

func TestMissingLeadingAndTrailingGaps(t *testing.T) {
	r := Range{Start: d(1), End: d(10)}
	gaps := Missing(r, []time.Time{d(4), d(5), d(6)})
	require.Len(t, gaps, 2)
	assert.Equal(t, Range{Start: d(1), End: d(3)}, gaps[0])
	assert.Equal(t, Range{Start: d(7), End: d(10)}, gaps[1])
}

func TestMissingMultipleGapsAreSortedAndMaximal(t *testing.T) {
	r := Range{Start: d(1), End: d(12)}
	covered := []time.Time{d(2), d(3), d(7), d(10)}
	gaps := Missing(r, covered)
	require.Len(t, gaps, 4)
	assert.Equal(t, Range{Start: d(1), End: d(1)}, gaps[0])
	assert.Equal(t, Range{Start: d(4), End: d(6)}, gaps[1])
	assert.Equal(t, Range{Start: d(8), End: d(9)}, gaps[2])
	assert.Equal(t, Range{Start: d(11), End: d(12)}, gaps[3])

	// Union of gaps plus covered must be exactly r, with no overlap.
	total := 0
	for _, g := range gaps {
		total += g.Days()
	}
	assert.Equal(t, r.Days(), total+len(covered))
}

func TestMissingIgnoresDatesOutsideRange(t *testing.T) {
	r := Range{Start: d(5), End: d(7)}
	covered := []time.Time{d(1), d(6), d(20)}
	gaps := Missing(r, covered)
	require.Len(t, gaps, 2)
	assert.Equal(t, Range{Start: d(5), End: d(5)}, gaps[0])
	assert.Equal(t, Range{Start: d(7), End: d(7)}, gaps[1])
}

func TestMissingSingleDayRange(t *testing.T) {
	r := Range{Start: d(3), End: d(3)}
	assert.Len(t, Missing(r, nil), 1)
	assert.Empty(t, Missing(r, []time.Time{d(3)}))
}

func TestMissingReversedRange(t *testing.T) {
	r := Range{Start: d(5), End: d(1)}
	assert.Nil(t, Missing(r, nil))
	assert.Equal(t, 0, r.Days())
}

func TestMissingNormalizesTimestamps(t *testing.T) {
	// Covered dates carrying a time-of-day component still count.
	r := Range{Start: d(1), End: d(2)}
	noon := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	gaps := Missing(r, []time.Time{noon})
	require.Len(t, gaps, 1)
	assert.Equal(t, Range{Start: d(2), End: d(2)}, gaps[0])
}

func TestDaysAndContains(t *testing.T) {
	r := Range{Start: d(1), End: d(31)}
	assert.Equal(t, 31, r.Days())
	assert.True(t, r.Contains(d(15)))
	assert.False(t, r.Contains(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)))
}
