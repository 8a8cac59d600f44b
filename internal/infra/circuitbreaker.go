package infra

import (
	"sync"
	"time"
)

// TieredLimiter composes the hourly-overall cap with the T2-specific window
// and burst caps, then layers a circuit breaker on top: once the T2 burst
// limiter refuses, the breaker opens for that source for OpenDuration and
// every subsequent T2 request is refused outright (T1 traffic is unaffected).
type TieredLimiter struct {
	overall  *PerKeyLimiter // keyed by source, 60/hour
	t2Window *PerKeyLimiter // keyed by "source:T2", 10/10min
	t2Burst  *PerKeyLimiter // keyed by "source:T2", 5/60s

	mu        sync.Mutex
	openUntil map[string]time.Time

	// OpenDuration is how long the breaker stays open once tripped.
	OpenDuration time.Duration
}

// NewTieredLimiter builds the limiter with the spec's default caps: 60/hour
// overall, 10/10min T2, 5/60s T2 burst, 5-minute breaker open window.
func NewTieredLimiter() *TieredLimiter {
	return &TieredLimiter{
		overall:      NewPerKeyLimiter(func(string) RateLimiter { return NewSlidingWindowLimiter(60, time.Hour) }),
		t2Window:     NewPerKeyLimiter(func(string) RateLimiter { return NewSlidingWindowLimiter(10, 10*time.Minute) }),
		t2Burst:      NewPerKeyLimiter(func(string) RateLimiter { return NewSlidingWindowLimiter(5, time.Minute) }),
		openUntil:    make(map[string]time.Time),
		OpenDuration: 5 * time.Minute,
	}
}

// Decision is the admission outcome returned by Admit.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Admit checks admission for a (source, tier) pair: T1 traffic is only
// checked against the hourly overall cap; T2 traffic is also checked
// against the window and burst caps, and trips the circuit breaker on
// burst refusal.
func (t *TieredLimiter) Admit(source string, t2 bool) Decision {
	if t.breakerOpen(source) {
		return Decision{Allowed: false, RetryAfter: t.remainingOpen(source)}
	}

	if !t.overall.Allow(source) {
		return Decision{Allowed: false, RetryAfter: time.Hour}
	}

	if !t2 {
		return Decision{Allowed: true}
	}

	key := source + ":T2"
	if !t.t2Burst.Allow(key) {
		t.tripBreaker(source)
		return Decision{Allowed: false, RetryAfter: t.OpenDuration}
	}
	if !t.t2Window.Allow(key) {
		return Decision{Allowed: false, RetryAfter: 10 * time.Minute}
	}
	return Decision{Allowed: true}
}

func (t *TieredLimiter) tripBreaker(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openUntil[source] = time.Now().Add(t.OpenDuration)
}

func (t *TieredLimiter) breakerOpen(source string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.openUntil[source]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(t.openUntil, source)
		return false
	}
	return true
}

func (t *TieredLimiter) remainingOpen(source string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.openUntil[source]
	if !ok {
		return 0
	}
	remaining := time.Until(until)
	if remaining < 0 {
		return 0
	}
	return remaining
}
