package supervision

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles calls into the broker terminal to whatever rate it
// documents. It wraps x/time/rate's token bucket behind the same blocking
// Acquire() shape as a hand-rolled limiter, so callers don't need to know
// which implementation backs it.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter that allows burst calls immediately and
// refills at one token per refillRate thereafter.
func NewRateLimiter(burst int, refillRate time.Duration) *RateLimiter {
	var r rate.Limit
	if refillRate <= 0 {
		r = rate.Inf
	} else {
		r = rate.Every(refillRate)
	}
	return &RateLimiter{limiter: rate.NewLimiter(r, burst)}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// TryAcquire reports whether a token was available without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	return rl.limiter.Allow()
}
