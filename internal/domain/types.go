// Package domain defines the core data types shared across the market-data
// library: bars, frequencies, providers, and the result bundle returned to
// callers.
package domain

import "time"

// Frequency is the bar aggregation period.
type Frequency string

const (
	// FrequencyDaily is the only supported frequency.
	FrequencyDaily Frequency = "daily"
)

// IsValid reports whether f is a supported frequency.
func (f Frequency) IsValid() bool {
	return f == FrequencyDaily
}

// Provider identifies a market-data source, or AUTO selection.
type Provider string

const (
	ProviderBarchart Provider = "barchart"
	ProviderTiingo   Provider = "tiingo"
	ProviderAuto     Provider = "auto"
)

// IsValid reports whether p is a recognised provider selection.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderBarchart, ProviderTiingo, ProviderAuto:
		return true
	}
	return false
}

// IsConcrete reports whether p names an actual upstream (not AUTO).
func (p Provider) IsConcrete() bool {
	return p == ProviderBarchart || p == ProviderTiingo
}

// Bar is a single trading-day price record for one symbol from one provider.
// The four-tuple (Symbol, Date, Frequency, Provider) is the identity; at most
// one bar exists per key. Price and volume fields are nil when the provider
// did not supply them.
type Bar struct {
	Symbol    string
	Date      time.Time // calendar date, midnight UTC
	Frequency Frequency
	Provider  Provider

	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume *float64

	AdjOpen   *float64
	AdjHigh   *float64
	AdjLow    *float64
	AdjClose  *float64
	AdjVolume *float64

	// FetchedAt is set by the store on write.
	FetchedAt time.Time
}

// Result is the bundle returned to callers of GetPrices.
// Invariant: FromCache + FromAPI == len(Bars).
type Result struct {
	Bars      []Bar
	Symbol    string
	Provider  Provider
	FromCache int
	FromAPI   int
	Start     time.Time
	End       time.Time
}

// Date constructs a calendar date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar date at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Float returns a pointer to v. Convenience for building bars.
func Float(v float64) *float64 {
	return &v
}
