package resilience

import (
	"sync"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"

	"go.uber.org/zap"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed means traffic flows normally.
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen means all traffic is rejected until the reset timeout expires.
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen means a single probe request is allowed through.
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker guards calls against a persistently failing upstream.
// Consecutive failures open the circuit; once the reset timeout expires the
// next caller is let through as a probe. A probe success closes the circuit,
// a probe failure reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold    int
	resetTimeout time.Duration

	state        BreakerState
	failureCount int
	lastFailure  time.Time

	now func() time.Time
}

// BreakerStatus is a point-in-time snapshot of a breaker for diagnostics.
type BreakerStatus struct {
	// State is the current breaker state.
	State BreakerState `json:"state"`
	// FailureCount is the current consecutive failure count.
	FailureCount int `json:"failure_count"`
	// Threshold is the failure count that opens the circuit.
	Threshold int `json:"threshold"`
	// SecondsUntilProbe is the remaining open time, zero unless open.
	SecondsUntilProbe float64 `json:"seconds_until_probe"`
}

// NewCircuitBreaker creates a closed breaker with the given threshold and
// reset timeout. Non-positive arguments fall back to 5 failures and 5 minutes.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 5 * time.Minute
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          time.Now,
	}
}

// AllowRequest reports whether a call may proceed. When the circuit is open
// and the reset timeout has expired, the breaker moves to half-open and the
// call is allowed as a probe.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = BreakerHalfOpen
			logger.Get().Info("Circuit breaker half-open, allowing probe")
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerClosed {
		logger.Get().Info("Circuit breaker closed",
			zap.String("previous_state", string(cb.state)),
		)
	}
	cb.state = BreakerClosed
	cb.failureCount = 0
}

// RecordFailure increments the failure count and opens the circuit once the
// threshold is reached. A failure while half-open reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == BreakerHalfOpen || cb.failureCount >= cb.threshold {
		if cb.state != BreakerOpen {
			logger.Get().Warn("Circuit breaker opened",
				zap.Int("failure_count", cb.failureCount),
				zap.Duration("reset_timeout", cb.resetTimeout),
			)
		}
		cb.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns a snapshot for the admin surface.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		State:        cb.state,
		FailureCount: cb.failureCount,
		Threshold:    cb.threshold,
	}
	if cb.state == BreakerOpen {
		remaining := cb.resetTimeout - cb.now().Sub(cb.lastFailure)
		if remaining > 0 {
			status.SecondsUntilProbe = remaining.Seconds()
		}
	}
	return status
}
