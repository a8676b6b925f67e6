// Package ratelimit implements per-provider request pacing. One Pacer exists
// per provider per process; its counters live for the process lifetime and
// are never persisted.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketdata/internal/domain"
)

// Pacer enforces inter-request delays for one provider. The lock guards only
// counter arithmetic; sleeping happens outside it.
type Pacer struct {
	provider domain.Provider

	symbolGap     time.Duration // delay between distinct-symbol calls
	longEvery     int           // extra pause after every N distinct-symbol calls (0 = never)
	longPause     time.Duration
	paceEveryCall bool // token providers space every call, not just new symbols
	quotaWarnAt   int  // soft warning threshold on total calls (0 = never)

	mu          sync.Mutex
	symbolCalls int
	totalCalls  int
	nextAllowed time.Time

	log   *slog.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewBarchartPacer creates the cookie-provider pacer: zero delay inside an
// adjusted/unadjusted pair, symbolGap between distinct symbols, and an extra
// longPause before the call following every longEvery distinct-symbol calls.
func NewBarchartPacer(symbolGap time.Duration, longEvery int, longPause time.Duration, log *slog.Logger) *Pacer {
	return newPacer(domain.ProviderBarchart, symbolGap, longEvery, longPause, false, 0, log)
}

// NewTiingoPacer creates the token-provider pacer: minSpacing between every
// call, with a soft warning once quotaWarnAt calls have been issued this
// process.
func NewTiingoPacer(minSpacing time.Duration, quotaWarnAt int, log *slog.Logger) *Pacer {
	return newPacer(domain.ProviderTiingo, minSpacing, 0, 0, true, quotaWarnAt, log)
}

func newPacer(provider domain.Provider, symbolGap time.Duration, longEvery int, longPause time.Duration, paceEveryCall bool, quotaWarnAt int, log *slog.Logger) *Pacer {
	if log == nil {
		log = slog.Default()
	}
	return &Pacer{
		provider:      provider,
		symbolGap:     symbolGap,
		longEvery:     longEvery,
		longPause:     longPause,
		paceEveryCall: paceEveryCall,
		quotaWarnAt:   quotaWarnAt,
		log:           log.With("provider", string(provider)),
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

// NoteSameSymbolCall paces a follow-up call for the symbol just requested
// (e.g. the adjusted leg of a Barchart pair). It never increments the
// distinct-symbol counter; providers that space every call still wait.
func (p *Pacer) NoteSameSymbolCall(ctx context.Context) error {
	p.mu.Lock()
	p.totalCalls++
	var wait time.Duration
	if p.paceEveryCall {
		wait = p.reserveLocked(false)
	}
	warn := p.quotaWarnAt > 0 && p.totalCalls == p.quotaWarnAt
	p.mu.Unlock()

	if warn {
		p.warnQuota()
	}
	return p.sleep(ctx, wait)
}

// NoteNewSymbolCall paces a call for a symbol not yet requested: it waits
// out the inter-symbol delay (plus any pending long pause), then increments
// the distinct-symbol counter, scheduling the periodic long pause when the
// counter wraps.
func (p *Pacer) NoteNewSymbolCall(ctx context.Context) error {
	p.mu.Lock()
	p.totalCalls++
	p.symbolCalls++
	wait := p.reserveLocked(p.longEvery > 0 && p.symbolCalls%p.longEvery == 0)
	warn := p.quotaWarnAt > 0 && p.totalCalls == p.quotaWarnAt
	longPauseDue := wait >= p.longPause && p.longPause > 0
	p.mu.Unlock()

	if warn {
		p.warnQuota()
	}
	if longPauseDue {
		p.log.Info("rate limit long pause", "wait", wait.Round(time.Second))
	}
	return p.sleep(ctx, wait)
}

// reserveLocked computes how long the caller must wait and books the slot
// for the call after it. Must be called with p.mu held.
func (p *Pacer) reserveLocked(addLongPause bool) time.Duration {
	now := p.now()
	wait := p.nextAllowed.Sub(now)
	if wait < 0 {
		wait = 0
	}

	next := now.Add(wait).Add(p.symbolGap)
	if addLongPause {
		next = next.Add(p.longPause)
	}
	p.nextAllowed = next
	return wait
}

func (p *Pacer) warnQuota() {
	p.log.Warn("approaching provider call quota",
		"calls", p.quotaWarnAt,
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
