package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecoverer counts recovery calls and can be made to fail.
type fakeRecoverer struct {
	calls int
	err   error
}

// Recover implements Recoverer.
func (f *fakeRecoverer) Recover(ctx context.Context) error {
	f.calls++
	return f.err
}

// fakeSink captures recorded error messages.
type fakeSink struct {
	messages []string
}

// RecordError implements ErrorSink.
func (f *fakeSink) RecordError(msg string) {
	f.messages = append(f.messages, msg)
}

// newTestSession builds a RetrySession with instant sleeps and captures waits.
func newTestSession(recoverer Recoverer, cfg RetryConfig, notify NotifyFunc) (*RetrySession, *[]time.Duration) {
	rs := NewRetrySession(NewCircuitBreaker(5, time.Minute), recoverer, cfg, notify)
	waits := &[]time.Duration{}
	rs.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return rs, waits
}

// TestRetrySession_SuccessFirstAttempt verifies a passing operation runs once.
func TestRetrySession_SuccessFirstAttempt(t *testing.T) {
	recoverer := &fakeRecoverer{}
	rs, waits := newTestSession(recoverer, RetryConfig{MaxAttempts: 3, BaseWait: time.Second, Multiplier: 2}, nil)

	invocations := 0
	err := rs.Execute(context.Background(), "fetch_returns", nil, func(ctx context.Context) error {
		invocations++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, invocations)
	assert.Equal(t, 0, recoverer.calls)
	assert.Empty(t, *waits)
}

// TestRetrySession_RecoverableRetriesThenSucceeds verifies that a transient
// failure is retried after recovery and backoff.
func TestRetrySession_RecoverableRetriesThenSucceeds(t *testing.T) {
	recoverer := &fakeRecoverer{}
	rs, waits := newTestSession(recoverer, RetryConfig{MaxAttempts: 3, BaseWait: time.Second, Multiplier: 2}, nil)

	invocations := 0
	err := rs.Execute(context.Background(), "fetch_returns", nil, func(ctx context.Context) error {
		invocations++
		if invocations < 3 {
			return ErrSessionExpired
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, invocations)
	assert.Equal(t, 2, recoverer.calls)
	require.Len(t, *waits, 2)
	assert.Equal(t, time.Second, (*waits)[0])
	assert.Equal(t, 2*time.Second, (*waits)[1])
	assert.Equal(t, BreakerClosed, rs.Breaker().State())
}

// TestRetrySession_BackoffIncreases verifies that waits grow by the multiplier.
func TestRetrySession_BackoffIncreases(t *testing.T) {
	recoverer := &fakeRecoverer{}
	rs, waits := newTestSession(recoverer, RetryConfig{MaxAttempts: 4, BaseWait: 10 * time.Second, Multiplier: 2}, nil)

	err := rs.Execute(context.Background(), "fetch_returns", nil, func(ctx context.Context) error {
		return &TransportError{StatusCode: 503, Op: "fetch_returns"}
	})

	require.Error(t, err)
	require.Len(t, *waits, 3)
	for i := 1; i < len(*waits); i++ {
		assert.Greater(t, (*waits)[i], (*waits)[i-1])
	}
}

// TestRetrySession_NonRecoverableAborts verifies a permanent error is not
// retried and no recovery is attempted.
func TestRetrySession_NonRecoverableAborts(t *testing.T) {
	recoverer := &fakeRecoverer{}
	rs, _ := newTestSession(recoverer, RetryConfig{MaxAttempts: 3, BaseWait: time.Second, Multiplier: 2}, nil)

	sink := &fakeSink{}
	invocations := 0
	dataErr := &DataError{Op: "parse_returns", Msg: "missing order id"}
	err := rs.Execute(context.Background(), "fetch_returns", sink, func(ctx context.Context) error {
		invocations++
		return dataErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, invocations)
	assert.Equal(t, 0, recoverer.calls)
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "missing order id")
}

// TestRetrySession_ExhaustionRecordsAndNotifies verifies that exhausting all
// attempts records the error on the sink and fires the notify hook.
func TestRetrySession_ExhaustionRecordsAndNotifies(t *testing.T) {
	recoverer := &fakeRecoverer{}
	var notifiedOp string
	var notifiedErr error
	notify := func(op string, err error) {
		notifiedOp = op
		notifiedErr = err
	}
	rs, _ := newTestSession(recoverer, RetryConfig{MaxAttempts: 3, BaseWait: time.Second, Multiplier: 2}, notify)

	sink := &fakeSink{}
	upstream := &TransportError{StatusCode: 500, Op: "fetch_returns"}
	invocations := 0
	err := rs.Execute(context.Background(), "fetch_returns", sink, func(ctx context.Context) error {
		invocations++
		return upstream
	})

	require.Error(t, err)
	assert.Equal(t, 3, invocations)
	assert.Equal(t, 2, recoverer.calls)
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "retries exhausted")
	assert.Equal(t, "fetch_returns", notifiedOp)
	assert.Equal(t, upstream, notifiedErr)
}

// TestRetrySession_CircuitOpenRejectsWithoutInvoking verifies that an open
// circuit fails fast.
func TestRetrySession_CircuitOpenRejectsWithoutInvoking(t *testing.T) {
	recoverer := &fakeRecoverer{}
	rs := NewRetrySession(NewCircuitBreaker(1, time.Hour), recoverer, RetryConfig{MaxAttempts: 3, BaseWait: time.Second, Multiplier: 2}, nil)
	rs.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	rs.Breaker().RecordFailure()

	sink := &fakeSink{}
	invocations := 0
	err := rs.Execute(context.Background(), "fetch_returns", sink, func(ctx context.Context) error {
		invocations++
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, invocations)
	require.Len(t, sink.messages, 1)
}

// TestRetrySession_RecoveryFailureAborts verifies that a failing session
// recovery stops the retry loop.
func TestRetrySession_RecoveryFailureAborts(t *testing.T) {
	recoverer := &fakeRecoverer{err: errors.New("browser crashed")}
	rs, _ := newTestSession(recoverer, RetryConfig{MaxAttempts: 3, BaseWait: time.Second, Multiplier: 2}, nil)

	sink := &fakeSink{}
	invocations := 0
	err := rs.Execute(context.Background(), "fetch_returns", sink, func(ctx context.Context) error {
		invocations++
		return ErrSessionExpired
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session recovery failed")
	assert.Equal(t, 1, invocations)
	assert.Equal(t, 1, recoverer.calls)
}

// TestIsRecoverable classifies the error taxonomy.
func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrSessionExpired))
	assert.True(t, IsRecoverable(&TransportError{StatusCode: 429}))
	assert.True(t, IsRecoverable(&TransportError{StatusCode: 503}))
	assert.False(t, IsRecoverable(&TransportError{StatusCode: 404}))
	assert.False(t, IsRecoverable(&DataError{Op: "parse", Msg: "bad json"}))
	assert.False(t, IsRecoverable(&FatalError{Err: errors.New("boom")}))
	assert.False(t, IsRecoverable(nil))
	assert.False(t, IsRecoverable(errors.New("unknown")))
}
