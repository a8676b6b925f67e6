package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketdata/internal/credentials"
	"marketdata/internal/domain"
	"marketdata/internal/ratelimit"
	"marketdata/internal/util"
)

const barchartBaseURL = "https://www.barchart.com/proxies/timeseries/queryeod.ashx"

// Compile-time interface check.
var _ Adapter = (*Barchart)(nil)

// HTTPOptions carries the shared HTTP knobs from configuration.
type HTTPOptions struct {
	Timeout     time.Duration
	Attempts    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Barchart fetches daily bars from Barchart's timeseries endpoint using a
// captured browser session. Producing the ten canonical columns takes two
// upstream calls per sub-interval: one unadjusted, one split/dividend
// adjusted. The pair is paced as a single symbol call (zero delay between
// the legs) and fails as a unit.
type Barchart struct {
	bundle  *credentials.Bundle
	pacer   *ratelimit.Pacer
	http    *httpClient
	baseURL string
	log     *slog.Logger
}

// NewBarchart creates the Barchart adapter over the credential bundle.
func NewBarchart(bundle *credentials.Bundle, pacer *ratelimit.Pacer, opts HTTPOptions, redactor *util.Redactor, log *slog.Logger) *Barchart {
	if log == nil {
		log = slog.Default()
	}
	return &Barchart{
		bundle:  bundle,
		pacer:   pacer,
		http:    newHTTPClient(domain.ProviderBarchart, opts.Timeout, opts.Attempts, opts.BackoffBase, opts.BackoffCap, true, redactor, log),
		baseURL: barchartBaseURL,
		log:     log.With("provider", "barchart"),
	}
}

// Name identifies the provider.
func (b *Barchart) Name() domain.Provider { return domain.ProviderBarchart }

// Probe checks that a captured cookie session exists. An old capture is a
// warning, not a failure; expiry shows up as credential-stale on fetch.
func (b *Barchart) Probe() error {
	if b.bundle.Cookies == nil || b.bundle.Cookies.CookieString == "" {
		return &domain.CredentialMissingError{
			Provider: domain.ProviderBarchart,
			Field:    "cookie_string",
			Path:     b.bundle.CookiesPath(),
		}
	}
	if !b.bundle.Cookies.Fresh(time.Now()) {
		b.log.Warn("cookie session older than 24h, may be rejected upstream",
			"age", b.bundle.Cookies.Age(time.Now()).Round(time.Minute))
	}
	return nil
}

// Fetch retrieves the unadjusted and adjusted series for one sub-interval
// and joins them on date. If either leg fails the pair fails; no partial
// result is returned.
func (b *Barchart) Fetch(ctx context.Context, symbol string, freq domain.Frequency, start, end time.Time) ([]domain.Bar, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if err := b.Probe(); err != nil {
		return nil, err
	}

	unadjusted, err := b.query(ctx, symbol, start, end, false)
	if err != nil {
		return nil, err
	}

	// Second leg of the pair: no pacing delay, no symbol counted.
	if err := b.pacer.NoteSameSymbolCall(ctx); err != nil {
		return nil, err
	}

	adjusted, err := b.query(ctx, symbol, start, end, true)
	if err != nil {
		return nil, err
	}

	return joinSeries(symbol, freq, unadjusted, adjusted), nil
}

// series is one leg of the pair: per-date OHLCV values.
type series map[time.Time][5]*float64

func (b *Barchart) query(ctx context.Context, symbol string, start, end time.Time, adjusted bool) (series, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("data", "daily")
	q.Set("order", "asc")
	q.Set("volume", "total")
	q.Set("startdate", start.Format(dateLayout))
	q.Set("enddate", end.Format(dateLayout))
	if adjusted {
		q.Set("dividends", "true")
		q.Set("backadjust", "true")
	} else {
		q.Set("dividends", "false")
		q.Set("backadjust", "false")
	}

	header := http.Header{}
	header.Set("Cookie", b.bundle.Cookies.CookieString)
	header.Set("X-XSRF-TOKEN", b.bundle.Cookies.XSRFToken)
	if ua := b.bundle.Cookies.UserAgent; ua != "" {
		header.Set("User-Agent", ua)
	}

	body, err := b.http.get(ctx, b.baseURL+"?"+q.Encode(), header)
	if err != nil {
		return nil, err
	}
	return parseBarchartCSV(body)
}

// parseBarchartCSV decodes the endpoint's CSV rows:
// symbol,date,open,high,low,close,volume. An empty body means no trading
// days in the window.
func parseBarchartCSV(body []byte) (series, error) {
	out := make(series)
	if len(strings.TrimSpace(string(body))) == 0 {
		return out, nil
	}

	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, &domain.ParseFailureError{
			Provider: domain.ProviderBarchart,
			Diag:     fmt.Sprintf("malformed CSV: %v", err),
		}
	}

	for _, rec := range records {
		if len(rec) < 7 {
			return nil, &domain.ParseFailureError{
				Provider: domain.ProviderBarchart,
				Diag:     fmt.Sprintf("row has %d fields, want at least 7", len(rec)),
			}
		}
		date, err := time.ParseInLocation(dateLayout, rec[1], time.UTC)
		if err != nil {
			return nil, &domain.ParseFailureError{
				Provider: domain.ProviderBarchart,
				Diag:     fmt.Sprintf("bad date %q", rec[1]),
			}
		}

		var vals [5]*float64
		for i := 0; i < 5; i++ {
			vals[i] = parseFloatField(rec[2+i])
		}
		out[date] = vals
	}
	return out, nil
}

func parseFloatField(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// joinSeries merges the unadjusted and adjusted legs on date into canonical
// bars, ascending by date. A date present in only one leg still produces a
// bar; the other leg's fields stay nil.
func joinSeries(symbol string, freq domain.Frequency, unadjusted, adjusted series) []domain.Bar {
	dates := make(map[time.Time]struct{}, len(unadjusted))
	for d := range unadjusted {
		dates[d] = struct{}{}
	}
	for d := range adjusted {
		dates[d] = struct{}{}
	}

	bars := make([]domain.Bar, 0, len(dates))
	for d := range dates {
		bar := domain.Bar{
			Symbol:    symbol,
			Date:      d,
			Frequency: freq,
			Provider:  domain.ProviderBarchart,
		}
		if v, ok := unadjusted[d]; ok {
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume = v[0], v[1], v[2], v[3], v[4]
		}
		if v, ok := adjusted[d]; ok {
			bar.AdjOpen, bar.AdjHigh, bar.AdjLow, bar.AdjClose, bar.AdjVolume = v[0], v[1], v[2], v[3], v[4]
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}
