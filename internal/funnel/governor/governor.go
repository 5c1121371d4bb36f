// Package governor enforces per-lead write pacing. The broadcaster and
// poller can both observe the same external change and try to re-apply it
// locally; without pacing, a re-application that triggers another
// broadcast can ping-pong between two processes indefinitely. The
// governor breaks the cycle by making re-application a no-op once a lead
// is saturated.
package governor

import (
	"sync"
	"time"
)

const (
	// DefaultMinInterval is the minimum spacing between writes per lead.
	DefaultMinInterval = time.Second
	// DefaultMaxPerWindow caps writes per lead inside the trailing window.
	DefaultMaxPerWindow = 10
	// DefaultIdleTTL is how long an inactive entry survives before the
	// opportunistic sweep drops it.
	DefaultIdleTTL = 5 * time.Second

	// window is the trailing period the per-lead cap applies to.
	window = time.Second
)

type entry struct {
	// stamps holds recent write times, oldest first.
	stamps []time.Time
}

// Governor is a per-process, per-lead write-rate limiter. State lives in
// memory only; after a restart the governor starts cold.
type Governor struct {
	mu           sync.Mutex
	entries      map[string]*entry
	minInterval  time.Duration
	maxPerWindow int
	idleTTL      time.Duration
	lastSweep    time.Time

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Governor.
type Option func(*Governor)

// WithMinInterval overrides the minimum spacing between writes per lead.
func WithMinInterval(d time.Duration) Option {
	return func(g *Governor) { g.minInterval = d }
}

// WithMaxPerWindow overrides the per-lead cap inside the trailing window.
func WithMaxPerWindow(n int) Option {
	return func(g *Governor) { g.maxPerWindow = n }
}

// WithIdleTTL overrides how long inactive entries are retained.
func WithIdleTTL(d time.Duration) Option {
	return func(g *Governor) { g.idleTTL = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

func New(opts ...Option) *Governor {
	g := &Governor{
		entries:      make(map[string]*entry),
		minInterval:  DefaultMinInterval,
		maxPerWindow: DefaultMaxPerWindow,
		idleTTL:      DefaultIdleTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastSweep = g.now()
	return g
}

// CanProceed reports whether a write for the lead is currently allowed.
// It does not record anything; callers that go on to write must call
// Record afterwards.
func (g *Governor) CanProceed(leadID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)

	e, ok := g.entries[leadID]
	if !ok {
		return true
	}

	e.stamps = trim(e.stamps, now.Add(-window))
	if len(e.stamps) == 0 {
		return true
	}

	if now.Sub(e.stamps[len(e.stamps)-1]) < g.minInterval {
		return false
	}
	return len(e.stamps) < g.maxPerWindow
}

// Record notes that a write for the lead happened now.
func (g *Governor) Record(leadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e, ok := g.entries[leadID]
	if !ok {
		e = &entry{}
		g.entries[leadID] = e
	}
	e.stamps = append(trim(e.stamps, now.Add(-window)), now)
}

// Sweep drops entries with no activity inside the idle TTL. It also runs
// opportunistically from CanProceed, so calling it explicitly is only
// needed by long-lived loops that want bounded memory without traffic.
func (g *Governor) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forceSweepLocked(g.now())
}

// sweepLocked runs the idle sweep at most once per idle TTL.
func (g *Governor) sweepLocked(now time.Time) {
	if now.Sub(g.lastSweep) < g.idleTTL {
		return
	}
	g.forceSweepLocked(now)
}

func (g *Governor) forceSweepLocked(now time.Time) {
	g.lastSweep = now
	cutoff := now.Add(-g.idleTTL)
	for leadID, e := range g.entries {
		if len(e.stamps) == 0 || e.stamps[len(e.stamps)-1].Before(cutoff) {
			delete(g.entries, leadID)
		}
	}
}

// trim drops stamps older than cutoff, preserving order.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	return stamps[idx:]
}
