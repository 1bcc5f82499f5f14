package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-execution/pkg/errors"
)

// pollInterval is how often a blocked Acquire rechecks for capacity.
const pollInterval = 10 * time.Millisecond

// RateLimiter implements a token-bucket limiter with an additional
// short-window burst cap, matching brokerage-imposed limits: a steady-state
// request rate plus a maximum number of requests inside a small window.
type RateLimiter struct {
	mu sync.Mutex

	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	lastTime time.Time

	burstLimit  int
	burstWindow time.Duration
	// recent holds the timestamps of requests admitted inside the burst window.
	recent []time.Time

	acquireTimeout time.Duration
}

// NewRateLimiter creates a RateLimiter with the given steady rate (requests
// per second), burst cap over the burst window, and acquire timeout.
func NewRateLimiter(ratePerSecond float64, burstLimit int, burstWindow, acquireTimeout time.Duration) *RateLimiter {
	return &RateLimiter{
		mu:             sync.Mutex{},
		rate:           ratePerSecond,
		capacity:       float64(burstLimit),
		tokens:         float64(burstLimit),
		lastTime:       time.Now(),
		burstLimit:     burstLimit,
		burstWindow:    burstWindow,
		recent:         nil,
		acquireTimeout: acquireTimeout,
	}
}

// Acquire blocks until a token is available, the context is cancelled, or the
// configured timeout elapses. Exceeding the timeout surfaces
// ErrCodeRateLimitTimeout rather than blocking indefinitely.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(rl.acquireTimeout)

	for {
		if rl.tryAcquire() {
			return nil
		}

		if time.Now().After(deadline) {
			return errors.Newf(errors.ErrCodeRateLimitTimeout,
				"rate limit token not acquired within %s", rl.acquireTimeout)
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeRateLimitTimeout, "context cancelled while waiting for rate limit token", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire takes one token if both the steady bucket and the burst window
// allow it.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Refill the steady bucket.
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}

	rl.lastTime = now

	// Evict admissions that left the burst window.
	cutoff := now.Add(-rl.burstWindow)

	kept := rl.recent[:0]
	for _, t := range rl.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	rl.recent = kept

	if rl.tokens < 1 || len(rl.recent) >= rl.burstLimit {
		return false
	}

	rl.tokens--
	rl.recent = append(rl.recent, now)

	return true
}
