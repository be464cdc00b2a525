package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestCircuitBreaker_OpensAtThreshold verifies the circuit opens after the
// configured number of consecutive failures.
func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.AllowRequest())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.AllowRequest())
}

// TestCircuitBreaker_SuccessResetsCount verifies a success clears the
// consecutive failure count.
func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, BreakerClosed, cb.State())
}

// TestCircuitBreaker_HalfOpenAfterResetTimeout verifies that the breaker
// allows a probe once the reset timeout has elapsed.
func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 5*time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	now = now.Add(5*time.Minute + time.Second)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, BreakerHalfOpen, cb.State())
}

// TestCircuitBreaker_ProbeSuccessCloses verifies a half-open probe success
// closes the circuit.
func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	assert.True(t, cb.AllowRequest())

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.AllowRequest())
}

// TestCircuitBreaker_ProbeFailureReopens verifies a half-open probe failure
// reopens the circuit immediately.
func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(5, time.Minute)
	cb.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	now = now.Add(2 * time.Minute)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.AllowRequest())
}

// TestCircuitBreaker_Status verifies the diagnostic snapshot.
func TestCircuitBreaker_Status(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()

	status := cb.Status()
	assert.Equal(t, BreakerOpen, status.State)
	assert.Equal(t, 2, status.FailureCount)
	assert.Equal(t, 2, status.Threshold)
	assert.InDelta(t, 60.0, status.SecondsUntilProbe, 1.0)
}
