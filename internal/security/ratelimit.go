package security

import (
	"sync"
	"time"
)

// LoginLimiter applies a token-bucket rate limit per username, bounding
// online guessing against both the password and the behaviour scorer.
type LoginLimiter struct {
	mu      sync.Mutex
	rate    float64 // tokens per second
	burst   int
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLoginLimiter creates a limiter. ratePerMin is the sustained attempt
// rate per username, burst the maximum burst size.
func NewLoginLimiter(ratePerMin float64, burst int) *LoginLimiter {
	return &LoginLimiter{
		rate:    ratePerMin / 60,
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether an attempt for the given username may proceed.
func (l *LoginLimiter) Allow(username string) bool {
	return l.allowAt(username, time.Now())
}

// allowAt is the clock-injectable core of Allow.
func (l *LoginLimiter) allowAt(username string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[username]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastRefill: now}
		l.buckets[username] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Prune drops buckets idle for longer than maxIdle. Call periodically to
// keep the map bounded.
func (l *LoginLimiter) Prune(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for name, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, name)
		}
	}
}
