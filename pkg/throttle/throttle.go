// Package throttle bounds how often a session may be analyzed. The guard
// is both an in-flight lock (at most one analysis per session) and a
// minimum-interval limiter; rejected admissions are silent backpressure,
// not errors.
package throttle

import (
	"sync"
	"time"
)

// DefaultMinInterval is the minimum gap between admitted analyses for a
// single session.
const DefaultMinInterval = 2 * time.Second

// Guard enforces at-most-one in-flight analysis per session plus a
// minimum inter-analysis interval. The admit decision is an atomic
// test-and-set: two concurrent arrivals for one session can never both
// be admitted.
type Guard struct {
	mu          sync.Mutex
	minInterval time.Duration
	inflight    map[string]struct{}
	lastStart   map[string]time.Time
}

// NewGuard returns a Guard. A non-positive interval falls back to
// DefaultMinInterval.
func NewGuard(minInterval time.Duration) *Guard {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Guard{
		minInterval: minInterval,
		inflight:    make(map[string]struct{}),
		lastStart:   make(map[string]time.Time),
	}
}

// TryAdmit reports whether an analysis may start for the session now.
// On admission the in-flight marker is set and must be cleared with
// Release when the analysis finishes, however it finishes.
func (g *Guard) TryAdmit(sessionID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[sessionID]; busy {
		return false
	}
	if last, ok := g.lastStart[sessionID]; ok && now.Sub(last) < g.minInterval {
		return false
	}
	g.inflight[sessionID] = struct{}{}
	g.lastStart[sessionID] = now
	return true
}

// Release clears the in-flight marker. It is unconditional so that
// classifier errors or panics recovered upstream can never wedge a
// session; callers defer it right after a successful TryAdmit.
func (g *Guard) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, sessionID)
}

// Forget drops all throttle state for a session, used when the session
// ends.
func (g *Guard) Forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, sessionID)
	delete(g.lastStart, sessionID)
}

// InFlight reports whether an analysis is currently admitted for the
// session.
func (g *Guard) InFlight(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inflight[sessionID]
	return busy
}
