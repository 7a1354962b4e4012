// Package momentum answers one question per tracked token: has buying
// interest died out? It keeps a rolling window of observed curve trades and
// derives an exit recommendation from buy/sell pressure and time since the
// last buy.
package momentum

import (
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// minRatioSamples is the minimum number of in-window events required before
// the buy/sell ratio alone may recommend an exit. A ratio computed from
// fewer samples never triggers.
const minRatioSamples = 6

// Config holds the tracker thresholds. All fields are required; this layer
// applies no implicit defaults.
type Config struct {
	// Window is the trailing interval over which events are counted.
	Window time.Duration
	// LullThreshold is how long without a buy counts as a lull.
	LullThreshold time.Duration
	// BuySellRatioFloor is the ratio below which sell pressure recommends an
	// exit (given enough samples).
	BuySellRatioFloor float64
}

// State is the derived momentum snapshot for a token. It is recomputed on
// demand and never persisted.
type State struct {
	RecentBuys       int
	RecentSells      int
	BuySellRatio     float64
	TimeSinceLastBuy time.Duration
	HasLull          bool
	ShouldExit       bool
}

type event struct {
	side     domain.TradeSide
	lamports uint64
	at       time.Time
}

// Tracker ingests buy/sell events for a single token and maintains the
// rolling window. One Tracker instance serves one position cycle; Reset
// reassigns it to the next.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	events  []event
	lastBuy time.Time

	now func() time.Time
}

// New creates a Tracker. The last-buy baseline starts at construction time
// so a token with no buys yet is not immediately considered lulled relative
// to the epoch.
func New(cfg Config) *Tracker {
	t := &Tracker{
		cfg: cfg,
		now: time.Now,
	}
	t.lastBuy = t.now()
	return t
}

// RecordBuy appends a buy event and advances the last-buy baseline.
func (t *Tracker) RecordBuy(lamports uint64, sig string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.events = append(t.events, event{side: domain.TradeSideBuy, lamports: lamports, at: now})
	t.lastBuy = now
	t.prune(now)
}

// RecordSell appends a sell event.
func (t *Tracker) RecordSell(lamports uint64, sig string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.events = append(t.events, event{side: domain.TradeSideSell, lamports: lamports, at: now})
	t.prune(now)
}

// State computes the current momentum snapshot from events inside
// [now-window, now].
//
// When no sells are in the window the ratio is defined as 1.0: no observed
// sell pressure is treated as maximally bullish. That is a deliberate
// default, not a division-by-zero escape.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.prune(now)

	var buys, sells int
	for _, ev := range t.events {
		switch ev.side {
		case domain.TradeSideBuy:
			buys++
		case domain.TradeSideSell:
			sells++
		}
	}

	ratio := 1.0
	if sells > 0 {
		ratio = float64(buys) / float64(buys+sells)
	}

	sinceLastBuy := now.Sub(t.lastBuy)
	hasLull := sinceLastBuy > t.cfg.LullThreshold

	total := buys + sells
	ratioExit := ratio < t.cfg.BuySellRatioFloor && total >= minRatioSamples

	return State{
		RecentBuys:       buys,
		RecentSells:      sells,
		BuySellRatio:     ratio,
		TimeSinceLastBuy: sinceLastBuy,
		HasLull:          hasLull,
		ShouldExit:       hasLull || ratioExit,
	}
}

// Reset clears all events and rebaselines the last-buy time to now. Used
// when the tracker is reassigned to a new position cycle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = t.events[:0]
	t.lastBuy = t.now()
}

// prune drops events older than the window. The caller must hold t.mu.
func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = t.events[i:]
	}
}
