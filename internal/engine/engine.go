// Package engine composes the bar store, interval algebra, rate limiters,
// and provider adapters into the cache-first retrieval flow behind
// GetPrices.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketdata/internal/domain"
	"marketdata/internal/interval"
	"marketdata/internal/provider"
	"marketdata/internal/ratelimit"
	"marketdata/internal/store"
)

// earliestDate is the lower bound for any requested interval.
var earliestDate = domain.Date(1970, time.January, 1)

// Request is one price retrieval.
type Request struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Frequency domain.Frequency
	Provider  domain.Provider // selection; AUTO falls back on stale cookies
	Refresh   bool            // bypass the cache and re-fetch the full range
}

// Engine drives requests end to end. One engine serves many requests; the
// pacers it holds carry the process-lifetime rate-limit state.
type Engine struct {
	store    store.BarStore
	adapters map[domain.Provider]provider.Adapter
	pacers   map[domain.Provider]*ratelimit.Pacer
	log      *slog.Logger
	now      func() time.Time
}

// New creates an Engine over the given store, adapters, and pacers. The
// adapter and pacer maps are keyed by concrete provider.
func New(s store.BarStore, adapters map[domain.Provider]provider.Adapter, pacers map[domain.Provider]*ratelimit.Pacer, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    s,
		adapters: adapters,
		pacers:   pacers,
		log:      log,
		now:      time.Now,
	}
}

// GetPrices validates the request, fills cache gaps from the selected
// provider, and returns the assembled result with provenance counts.
func (e *Engine) GetPrices(ctx context.Context, req Request) (*domain.Result, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Frequency == "" {
		req.Frequency = domain.FrequencyDaily
	}
	if req.Provider == "" {
		req.Provider = domain.ProviderAuto
	}
	if !req.Start.IsZero() {
		req.Start = domain.DateOf(req.Start)
	}
	if !req.End.IsZero() {
		req.End = domain.DateOf(req.End)
	}

	if err := e.validate(req); err != nil {
		return nil, err
	}

	requestStart := e.now().UTC()
	chosen := e.selectProvider(req.Provider)
	log := e.log.With("symbol", req.Symbol, "provider", string(chosen))

	reqRange := interval.Range{Start: req.Start, End: req.End}
	gaps, err := e.missingRanges(ctx, req, chosen, reqRange)
	if err != nil {
		return nil, err
	}

	fetchedBy, usedProviders, err := e.fill(ctx, req, chosen, gaps, log)
	if err != nil {
		return nil, err
	}

	// Assemble the final view from the store so provenance timestamps are
	// authoritative.
	var batches [][]domain.Bar
	for _, p := range usedProviders {
		bars, err := e.store.ReadRange(ctx, req.Symbol, req.Frequency, p, req.Start, req.End)
		if err != nil {
			return nil, err
		}
		batches = append(batches, bars)
	}
	bars := Merge(batches...)

	res := &domain.Result{
		Bars:     bars,
		Symbol:   req.Symbol,
		Provider: resultProvider(chosen, fetchedBy),
		Start:    req.Start,
		End:      req.End,
	}
	for _, b := range bars {
		if b.FetchedAt.Before(requestStart) {
			res.FromCache++
		} else {
			res.FromAPI++
		}
	}

	log.Debug("request complete",
		"bars", len(bars),
		"fromCache", res.FromCache,
		"fromAPI", res.FromAPI,
	)
	return res, nil
}

// validate collects every input problem into one invalid-input error. It
// runs before any store or network activity.
func (e *Engine) validate(req Request) error {
	var reasons []string

	if req.Symbol == "" {
		reasons = append(reasons, "symbol must not be empty")
	} else if err := provider.ValidateSymbol(req.Symbol); err != nil {
		var invalid *domain.InvalidInputError
		if errors.As(err, &invalid) {
			reasons = append(reasons, invalid.Reasons...)
		} else {
			reasons = append(reasons, err.Error())
		}
	}

	if req.Start.IsZero() || req.End.IsZero() {
		reasons = append(reasons, "start and end dates are required")
	} else {
		if req.End.Before(req.Start) {
			reasons = append(reasons, fmt.Sprintf("start %s is after end %s",
				req.Start.Format("2006-01-02"), req.End.Format("2006-01-02")))
		}
		today := domain.DateOf(e.now())
		if req.Start.After(today) || req.End.After(today) {
			reasons = append(reasons, "date range must not extend past today")
		}
		if req.Start.Before(earliestDate) {
			reasons = append(reasons, "date range must not precede 1970-01-01")
		}
	}

	if !req.Frequency.IsValid() {
		reasons = append(reasons, fmt.Sprintf("unsupported frequency %q (only %q)", req.Frequency, domain.FrequencyDaily))
	}
	if !req.Provider.IsValid() {
		reasons = append(reasons, fmt.Sprintf("unknown provider %q", req.Provider))
	}

	if len(reasons) > 0 {
		return &domain.InvalidInputError{Reasons: reasons}
	}
	return nil
}

// selectProvider resolves AUTO: prefer the cookie provider when its session
// looks usable, otherwise the token provider.
func (e *Engine) selectProvider(selection domain.Provider) domain.Provider {
	if selection != domain.ProviderAuto {
		return selection
	}
	if adapter, ok := e.adapters[domain.ProviderBarchart]; ok && adapter.Probe() == nil {
		return domain.ProviderBarchart
	}
	return domain.ProviderTiingo
}

// missingRanges computes the sub-intervals to fetch: the whole range when
// refreshing, otherwise the gaps against cached coverage.
func (e *Engine) missingRanges(ctx context.Context, req Request, p domain.Provider, reqRange interval.Range) ([]interval.Range, error) {
	if req.Refresh {
		return []interval.Range{reqRange}, nil
	}
	covered, err := e.store.CoveredDates(ctx, req.Symbol, req.Frequency, p, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return interval.Missing(reqRange, covered), nil
}

// fill fetches and writes every missing sub-interval in ascending order,
// falling back to Tiingo mid-request when AUTO selection hits stale session
// credentials. It returns per-provider fetched-bar counts and the providers
// that may hold bars for this request.
func (e *Engine) fill(ctx context.Context, req Request, chosen domain.Provider, gaps []interval.Range, log *slog.Logger) (map[domain.Provider]int, []domain.Provider, error) {
	fetchedBy := make(map[domain.Provider]int)
	usedProviders := []domain.Provider{chosen}

	current := chosen
	firstCall := true

	for i := 0; i < len(gaps); i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		gap := gaps[i]

		if err := e.pace(ctx, current, firstCall); err != nil {
			return nil, nil, err
		}
		firstCall = false

		adapter, ok := e.adapters[current]
		if !ok {
			return nil, nil, fmt.Errorf("no adapter registered for provider %q", current)
		}

		bars, err := adapter.Fetch(ctx, req.Symbol, req.Frequency, gap.Start, gap.End)
		if err != nil {
			var stale *domain.CredentialStaleError
			if errors.As(err, &stale) && req.Provider == domain.ProviderAuto && current == domain.ProviderBarchart {
				log.Warn("session credentials rejected, falling back",
					"from", string(domain.ProviderBarchart),
					"to", string(domain.ProviderTiingo),
				)
				current = domain.ProviderTiingo
				usedProviders = append(usedProviders, current)
				firstCall = true
				i-- // retry this sub-interval with the fallback provider
				continue
			}
			return nil, nil, err
		}

		if len(bars) > 0 {
			if err := e.store.WriteRange(ctx, bars); err != nil {
				return nil, nil, err
			}
			fetchedBy[current] += len(bars)
		}
		log.Debug("sub-interval fetched",
			"start", gap.Start.Format("2006-01-02"),
			"end", gap.End.Format("2006-01-02"),
			"bars", len(bars),
		)
	}
	return fetchedBy, usedProviders, nil
}

// pace applies the provider's rate limit: full inter-symbol pacing before
// the first upstream call of this request, follow-up pacing for later
// sub-intervals of the same symbol.
func (e *Engine) pace(ctx context.Context, p domain.Provider, firstCall bool) error {
	pacer, ok := e.pacers[p]
	if !ok {
		return nil
	}
	if firstCall {
		return pacer.NoteNewSymbolCall(ctx)
	}
	return pacer.NoteSameSymbolCall(ctx)
}

// resultProvider picks the single provider tag for the result: the majority
// provider among bars fetched this request, ties toward Tiingo; when
// nothing was fetched, the provider that served the cache.
func resultProvider(chosen domain.Provider, fetchedBy map[domain.Provider]int) domain.Provider {
	total := 0
	for _, n := range fetchedBy {
		total += n
	}
	if total == 0 {
		return chosen
	}
	if fetchedBy[domain.ProviderBarchart] > fetchedBy[domain.ProviderTiingo] {
		return domain.ProviderBarchart
	}
	return domain.ProviderTiingo
}
