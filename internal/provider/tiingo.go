package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"marketdata/internal/credentials"
	"marketdata/internal/domain"
	"marketdata/internal/util"
)

const tiingoBaseURL = "https://api.tiingo.com/tiingo/daily"

// Compile-time interface check.
var _ Adapter = (*Tiingo)(nil)

// Tiingo fetches daily bars from the Tiingo REST API. One call per
// sub-interval returns the adjusted and unadjusted series together.
type Tiingo struct {
	bundle  *credentials.Bundle
	http    *httpClient
	baseURL string
	log     *slog.Logger
}

// NewTiingo creates the Tiingo adapter over the credential bundle.
func NewTiingo(bundle *credentials.Bundle, opts HTTPOptions, redactor *util.Redactor, log *slog.Logger) *Tiingo {
	if log == nil {
		log = slog.Default()
	}
	return &Tiingo{
		bundle:  bundle,
		http:    newHTTPClient(domain.ProviderTiingo, opts.Timeout, opts.Attempts, opts.BackoffBase, opts.BackoffCap, false, redactor, log),
		baseURL: tiingoBaseURL,
		log:     log.With("provider", "tiingo"),
	}
}

// Name identifies the provider.
func (t *Tiingo) Name() domain.Provider { return domain.ProviderTiingo }

// Probe checks that an API token is configured.
func (t *Tiingo) Probe() error {
	if t.bundle.Credentials.TiingoAPIKey == "" {
		return &domain.CredentialMissingError{
			Provider: domain.ProviderTiingo,
			Field:    "tiingo_api_key",
			Path:     t.bundle.CredentialsPath(),
		}
	}
	return nil
}

// tiingoBar is the wire shape of one element of the prices response.
type tiingoBar struct {
	Date      string   `json:"date"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
	AdjOpen   *float64 `json:"adjOpen"`
	AdjHigh   *float64 `json:"adjHigh"`
	AdjLow    *float64 `json:"adjLow"`
	AdjClose  *float64 `json:"adjClose"`
	AdjVolume *float64 `json:"adjVolume"`
}

// Fetch retrieves daily bars for one sub-interval.
func (t *Tiingo) Fetch(ctx context.Context, symbol string, freq domain.Frequency, start, end time.Time) ([]domain.Bar, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if err := t.Probe(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("startDate", start.Format(dateLayout))
	q.Set("endDate", end.Format(dateLayout))
	q.Set("resampleFreq", string(freq))
	q.Set("format", "json")

	header := http.Header{}
	header.Set("Authorization", "Token "+t.bundle.Credentials.TiingoAPIKey)
	header.Set("Content-Type", "application/json")

	endpoint := fmt.Sprintf("%s/%s/prices?%s", t.baseURL, url.PathEscape(symbol), q.Encode())
	body, err := t.http.get(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	var raw []tiingoBar
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &domain.ParseFailureError{
			Provider: domain.ProviderTiingo,
			Diag:     fmt.Sprintf("decoding prices response: %v", err),
		}
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, r := range raw {
		date, err := parseTiingoDate(r.Date)
		if err != nil {
			return nil, &domain.ParseFailureError{
				Provider: domain.ProviderTiingo,
				Diag:     fmt.Sprintf("bad date %q", r.Date),
			}
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Date:      date,
			Frequency: freq,
			Provider:  domain.ProviderTiingo,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			AdjOpen:   r.AdjOpen,
			AdjHigh:   r.AdjHigh,
			AdjLow:    r.AdjLow,
			AdjClose:  r.AdjClose,
			AdjVolume: r.AdjVolume,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// parseTiingoDate accepts the API's RFC-3339 timestamps as well as plain
// dates, normalizing to midnight UTC.
func parseTiingoDate(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return domain.DateOf(ts), nil
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
