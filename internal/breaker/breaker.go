// Package breaker implements the circuit breaker guarding the trading loop.
//
// The breaker wraps whole control-loop iterations rather than individual
// gateway calls, so a cluster of related failures (for example a gateway
// outage) pauses the loop instead of retrying each call independently.
package breaker

import (
	"sync"
	"time"

	"github.com/rxtech-lab/argo-execution/internal/logger"
	"go.uber.org/zap"
)

// State is the circuit state enum.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// TransitionCallback is invoked after every state transition.
type TransitionCallback func(from, to State)

// Breaker is a consecutive-failure circuit breaker.
//
// CLOSED counts consecutive failures and opens at the threshold. OPEN fails
// fast until the reset timeout elapses, then admits exactly one trial call in
// HALF_OPEN. A successful trial closes the circuit and zeroes the counter; a
// failed trial reopens it and restarts the timer.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	failureThreshold int
	resetTimeout     time.Duration
	onTransition     TransitionCallback
	log              *logger.Logger
}

// NewBreaker creates a Breaker with the given threshold and reset timeout.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, log *logger.Logger) *Breaker {
	return &Breaker{
		mu:               sync.Mutex{},
		state:            StateClosed,
		failures:         0,
		lastFailure:      time.Time{},
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onTransition:     nil,
		log:              log,
	}
}

// SetTransitionCallback registers a callback invoked on every transition.
func (b *Breaker) SetTransitionCallback(cb TransitionCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.onTransition = cb
}

// CanProceed reports whether the next loop iteration may attempt trades.
//
// In the OPEN state, once the reset timeout has elapsed the circuit moves to
// HALF_OPEN and this call admits the single trial iteration; further calls
// return false until RecordSuccess or RecordFailure resolves the trial.
func (b *Breaker) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.transition(StateHalfOpen)

			return true
		}

		return false
	case StateHalfOpen:
		// The single trial has already been admitted.
		return false
	default:
		return false
	}
}

// RecordSuccess resets the breaker after a successful iteration.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure counts one iteration failure. The caller must invoke it on
// retry exhaustion, not on each individual attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		// Failed trial call reopens the circuit and restarts the timer.
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
		}
	case StateOpen:
	}
}

// ForceClose is the operator override: it closes the circuit and zeroes the
// failure counter regardless of current state.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// ConsecutiveFailures returns the current failure counter.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failures
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to

	if b.log != nil {
		b.log.Info("Circuit breaker state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int("consecutive_failures", b.failures),
		)
	}

	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
