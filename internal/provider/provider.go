// Package provider implements the upstream market-data adapters. Every
// adapter maps its provider's responses into the ten canonical bar columns
// and reports failures through the typed errors in internal/domain.
package provider

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"marketdata/internal/domain"
)

// symbolRe is the accepted ticker shape, uppercase required.
var symbolRe = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

// Adapter is the contract every upstream provider implements.
type Adapter interface {
	// Name identifies the provider.
	Name() domain.Provider

	// Probe checks that the credentials this adapter needs are present in
	// the bundle. It makes no network calls; staleness is detected on the
	// first real fetch.
	Probe() error

	// Fetch retrieves daily bars for symbol within the closed range
	// [start, end]. All ten canonical fields are populated where the
	// provider supplies them; the rest stay nil. The returned bars are
	// ascending by date.
	Fetch(ctx context.Context, symbol string, freq domain.Frequency, start, end time.Time) ([]domain.Bar, error)
}

// ValidateSymbol checks the ticker against the accepted pattern.
func ValidateSymbol(symbol string) error {
	if !symbolRe.MatchString(symbol) {
		return &domain.InvalidInputError{
			Reasons: []string{fmt.Sprintf("symbol %q must match %s", symbol, symbolRe.String())},
		}
	}
	return nil
}

const dateLayout = "2006-01-02"
