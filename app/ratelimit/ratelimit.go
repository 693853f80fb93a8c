package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-source sliding-window admission guard for the public
// webhook endpoint. It bounds request volume only; duplicate processing is
// handled by the idempotency guard downstream. A rejected request must be
// answered with a retryable status so the gateway's retry loop eventually
// succeeds.
type Limiter struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	markers   map[string][]time.Time
	lastSweep time.Time
	nowFunc   func() time.Time
}

// New returns a limiter allowing up to limit requests per source within the
// trailing window. A non-positive limit disables limiting.
func New(window time.Duration, limit int) *Limiter {
	return &Limiter{
		window:  window,
		limit:   limit,
		markers: make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

func (l *Limiter) Allow(source string) bool {
	if l.limit <= 0 {
		return true
	}

	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now, cutoff)

	kept := pruneExpired(l.markers[source], cutoff)
	if len(kept) >= l.limit {
		l.markers[source] = kept
		return false
	}

	l.markers[source] = append(kept, now)
	return true
}

// RetryAfter is the hint returned alongside a rejection; by then the oldest
// marker has aged out and the source may be admitted again.
func (l *Limiter) RetryAfter() time.Duration {
	return l.window
}

// sweep drops sources whose markers have all aged out, at most once per
// window, so entries for sources that stop sending do not accumulate.
func (l *Limiter) sweep(now, cutoff time.Time) {
	if l.lastSweep.After(cutoff) {
		return
	}
	for source, markers := range l.markers {
		kept := pruneExpired(markers, cutoff)
		if len(kept) == 0 {
			delete(l.markers, source)
			continue
		}
		l.markers[source] = kept
	}
	l.lastSweep = now
}

func pruneExpired(markers []time.Time, cutoff time.Time) []time.Time {
	kept := markers[:0]
	for _, ts := range markers {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
