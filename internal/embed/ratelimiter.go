package embed

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// rateLimiter is a token bucket with burst equal to the bucket's
// capacity and a steady refill derived from requestsPerMinute (spec
// §4.3 rule 3: one bucket per provider instance).
type rateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// newRateLimiter builds a limiter for the given requests-per-minute
// budget. A non-positive rpm disables limiting (the bucket never
// depletes).
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		return &rateLimiter{capacity: -1}
	}
	capacity := float64(requestsPerMinute)
	return &rateLimiter{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: capacity / 60.0,
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) refillLocked(now time.Time) {
	if rl.capacity < 0 {
		return
	}
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

// Allow reports whether a token is available, consuming it if so.
// Unlimited buckets (capacity < 0) always allow.
func (rl *rateLimiter) Allow() bool {
	if rl.capacity < 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(time.Now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled, polling at
// a fixed interval small enough to keep wait times responsive without
// busy-spinning.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	if rl.capacity < 0 {
		return nil
	}
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return cerrors.CancelledError("rate limit wait cancelled")
		case <-time.After(25 * time.Millisecond):
		}
	}
}
