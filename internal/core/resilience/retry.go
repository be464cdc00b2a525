package resilience

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"

	"go.uber.org/zap"
)

// Recoverer restores a working portal session between retry attempts.
// Implementations are expected to perform a hard reset followed by a fresh
// authentication.
type Recoverer interface {
	// Recover rebuilds the session. It is called at most once per failed
	// attempt and is serialized across concurrent retry sessions.
	Recover(ctx context.Context) error
}

// ErrorSink receives the final error message for the entity an operation was
// working on. Sinks are persisted by the caller after the operation returns.
type ErrorSink interface {
	// RecordError stores a permanent error message on the entity.
	RecordError(msg string)
}

// NotifyFunc is invoked when an operation fails permanently.
type NotifyFunc func(op string, err error)

// RetryConfig tunes a RetrySession.
type RetryConfig struct {
	// MaxAttempts is the total number of invocations per operation.
	MaxAttempts int
	// BaseWait is the wait before the first retry.
	BaseWait time.Duration
	// Multiplier scales the wait for each further retry.
	Multiplier float64
}

// RetrySession executes operations against the seller portal with retries,
// session recovery and circuit breaker protection. A single instance is
// shared by all services that talk to the portal during a cycle.
type RetrySession struct {
	breaker   *CircuitBreaker
	recoverer Recoverer
	cfg       RetryConfig
	notify    NotifyFunc

	// recoveryMu serializes session recovery so concurrent retries do not
	// tear down the session underneath each other.
	recoveryMu sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrySession creates a RetrySession. The notify hook may be nil.
func NewRetrySession(breaker *CircuitBreaker, recoverer Recoverer, cfg RetryConfig, notify NotifyFunc) *RetrySession {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseWait <= 0 {
		cfg.BaseWait = time.Minute
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	return &RetrySession{
		breaker:   breaker,
		recoverer: recoverer,
		cfg:       cfg,
		notify:    notify,
		sleep:     sleepContext,
	}
}

// Execute runs fn with retry and recovery semantics.
//
// Non-recoverable errors abort after a single invocation. Recoverable errors
// trigger a breaker failure record, a serialized session recovery and an
// exponential backoff before the next attempt. When attempts are exhausted
// the error is recorded on the sink and the notify hook fires.
func (r *RetrySession) Execute(ctx context.Context, op string, sink ErrorSink, fn func(ctx context.Context) error) error {
	if !r.breaker.AllowRequest() {
		recordSink(sink, fmt.Sprintf("%s: %v", op, ErrCircuitOpen))
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}

	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := r.backoff(attempt)
			logger.Get().Info("Retrying operation",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if err := r.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		err := fn(ctx)
		if err == nil {
			r.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if !IsRecoverable(err) {
			logger.Get().Error("Operation failed with non-recoverable error",
				zap.String("op", op),
				zap.Error(err),
			)
			recordSink(sink, err.Error())
			return fmt.Errorf("%s: %w", op, err)
		}

		r.breaker.RecordFailure()
		logger.Get().Warn("Operation failed, session recovery scheduled",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < r.cfg.MaxAttempts {
			if recErr := r.recoverSession(ctx); recErr != nil {
				msg := fmt.Sprintf("%s: session recovery failed: %v", op, recErr)
				recordSink(sink, msg)
				return fmt.Errorf("%s: session recovery failed: %w", op, recErr)
			}
		}
	}

	msg := fmt.Sprintf("%s: retries exhausted after %d attempts: %v", op, r.cfg.MaxAttempts, lastErr)
	recordSink(sink, msg)
	if r.notify != nil {
		r.notify(op, lastErr)
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, r.cfg.MaxAttempts, lastErr)
}

// Breaker exposes the underlying circuit breaker for the admin surface.
func (r *RetrySession) Breaker() *CircuitBreaker {
	return r.breaker
}

// backoff computes the wait before the given attempt (attempt >= 2).
func (r *RetrySession) backoff(attempt int) time.Duration {
	factor := math.Pow(r.cfg.Multiplier, float64(attempt-2))
	return time.Duration(float64(r.cfg.BaseWait) * factor)
}

// recoverSession runs the recoverer under the recovery mutex.
func (r *RetrySession) recoverSession(ctx context.Context) error {
	if r.recoverer == nil {
		return nil
	}
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	return r.recoverer.Recover(ctx)
}

// recordSink writes to the sink if one was provided.
func recordSink(sink ErrorSink, msg string) {
	if sink != nil {
		sink.RecordError(msg)
	}
}

// sleepContext sleeps for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
