// Package marketdata is the public entry point for cache-first retrieval of
// historical daily price bars. A Client owns the SQLite bar store and the
// per-provider rate-limit state; credentials are re-read from disk on every
// request so an externally refreshed cookie capture takes effect without a
// restart.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"marketdata/internal/config"
	"marketdata/internal/credentials"
	"marketdata/internal/domain"
	"marketdata/internal/engine"
	"marketdata/internal/provider"
	"marketdata/internal/ratelimit"
	"marketdata/internal/store"
	"marketdata/internal/util"
)

// Re-exported domain types. The concrete bar and result shapes live in
// internal/domain; these aliases are the supported public names.
type (
	Bar       = domain.Bar
	Result    = domain.Result
	Provider  = domain.Provider
	Frequency = domain.Frequency
	Stats     = store.Stats

	InvalidInputError      = domain.InvalidInputError
	CredentialMissingError = domain.CredentialMissingError
	CredentialStaleError   = domain.CredentialStaleError
	ProviderFailureError   = domain.ProviderFailureError
	ParseFailureError      = domain.ParseFailureError
	StoreCorruptionError   = domain.StoreCorruptionError
)

const (
	ProviderBarchart = domain.ProviderBarchart
	ProviderTiingo   = domain.ProviderTiingo
	ProviderAuto     = domain.ProviderAuto

	FrequencyDaily = domain.FrequencyDaily
)

// PriceRequest describes one retrieval. Zero values mean: Frequency daily,
// Provider AUTO, Refresh off.
type PriceRequest struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Frequency Frequency
	Provider  Provider
	Refresh   bool
}

// Options configures a Client.
type Options struct {
	// ConfigPath points at a YAML config file. Empty means
	// <config_dir>/config.yaml with defaults and environment overrides.
	ConfigPath string

	// Logger receives the library's structured events. Secret values are
	// scrubbed before they reach it. Nil uses slog.Default.
	Logger *slog.Logger
}

// Client is the library facade. It is safe for concurrent use; rate-limit
// pacing is shared across all requests made through one Client.
type Client struct {
	cfg    *config.Config
	store  store.BarStore
	pacers map[Provider]*ratelimit.Pacer
	log    *slog.Logger
}

// NewClient loads configuration, opens the bar store, and initialises the
// per-provider pacers.
func NewClient(opts Options) (*Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:   cfg,
		store: s,
		pacers: map[Provider]*ratelimit.Pacer{
			ProviderBarchart: ratelimit.NewBarchartPacer(
				cfg.BarchartSymbolDelay.Std(), cfg.BarchartLongPauseEvery, cfg.BarchartLongPause.Std(), log),
			ProviderTiingo: ratelimit.NewTiingoPacer(
				cfg.TiingoMinSpacing.Std(), cfg.TiingoRPMWarnThreshold, log),
		},
		log: log,
	}, nil
}

// GetPrices retrieves daily bars for the closed date range, serving from the
// cache and fetching only the missing sub-intervals.
func (c *Client) GetPrices(ctx context.Context, req PriceRequest) (*Result, error) {
	eng, err := c.engine()
	if err != nil {
		return nil, err
	}
	return eng.GetPrices(ctx, engine.Request{
		Symbol:    req.Symbol,
		Start:     req.Start,
		End:       req.End,
		Frequency: req.Frequency,
		Provider:  req.Provider,
		Refresh:   req.Refresh,
	})
}

// ProviderStatus probes each concrete provider's credentials without any
// network activity. A nil value means the provider looks usable.
func (c *Client) ProviderStatus() (map[Provider]error, error) {
	adapters, _, err := c.adapters()
	if err != nil {
		return nil, err
	}
	status := make(map[Provider]error, len(adapters))
	for p, a := range adapters {
		status[p] = a.Probe()
	}
	return status, nil
}

// Stats reports cache totals.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	return c.store.Stats(ctx)
}

// Clear deletes cached rows matching the optional symbol and provider
// filters, returning the number of rows removed.
func (c *Client) Clear(ctx context.Context, symbol string, p Provider) (int64, error) {
	return c.store.Clear(ctx, symbol, p)
}

// Export writes cached bars to per-year Parquet files under dataDir,
// merging with any rows already exported. It returns the number of bars
// written.
func (c *Client) Export(ctx context.Context, dataDir, symbol string, p Provider, start, end time.Time) (int, error) {
	exp := store.NewParquetExporter(dataDir)
	return exp.Export(ctx, c.store, symbol, FrequencyDaily, p, start, end)
}

// Close releases the bar store.
func (c *Client) Close() error {
	return c.store.Close()
}

// engine snapshots the credential files and assembles a retrieval engine
// over the shared store and pacers.
func (c *Client) engine() (*engine.Engine, error) {
	adapters, redactor, err := c.adapters()
	if err != nil {
		return nil, err
	}
	log := slog.New(util.NewRedactingHandler(c.log.Handler(), redactor))
	return engine.New(c.store, adapters, c.pacers, log), nil
}

func (c *Client) adapters() (map[Provider]provider.Adapter, *util.Redactor, error) {
	bundle, err := credentials.Load(c.cfg.ConfigDir)
	if err != nil {
		return nil, nil, err
	}
	redactor := util.NewRedactor(bundle.Secrets()...)
	log := slog.New(util.NewRedactingHandler(c.log.Handler(), redactor))

	opts := provider.HTTPOptions{
		Timeout:     c.cfg.HTTPTimeout.Std(),
		Attempts:    c.cfg.RetryAttempts,
		BackoffBase: c.cfg.RetryBackoffBase.Std(),
		BackoffCap:  c.cfg.RetryBackoffCap.Std(),
	}
	adapters := map[Provider]provider.Adapter{
		ProviderBarchart: provider.NewBarchart(bundle, c.pacers[ProviderBarchart], opts, redactor, log),
		ProviderTiingo:   provider.NewTiingo(bundle, opts, redactor, log),
	}
	return adapters, redactor, nil
}
