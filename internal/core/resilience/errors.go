package resilience

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrSessionExpired signals that the portal session is no longer valid
	// and a guarded operation may succeed after a session reset.
	ErrSessionExpired = errors.New("portal session expired")

	// ErrCircuitOpen is returned when the circuit breaker rejects an
	// operation without invoking it.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrSessionUnavailable signals that a session could not be established
	// within the configured budget.
	ErrSessionUnavailable = errors.New("session unavailable")
)

// recoverableStatusCodes are HTTP statuses worth retrying after a session reset.
var recoverableStatusCodes = map[int]bool{
	401: true,
	403: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// TransportError wraps an HTTP response level failure from an upstream service.
type TransportError struct {
	// StatusCode is the HTTP status returned by the upstream.
	StatusCode int
	// Op names the operation that failed.
	Op string
	// Body carries a truncated response body for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: upstream returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: upstream returned %d", e.Op, e.StatusCode)
}

// Recoverable reports whether the status code is worth a retry.
func (e *TransportError) Recoverable() bool {
	return recoverableStatusCodes[e.StatusCode]
}

// DataError marks a malformed or unexpected payload. Retrying will not help.
type DataError struct {
	// Op names the operation that produced the payload.
	Op string
	// Msg describes what was wrong with the data.
	Msg string
}

// Error implements the error interface.
func (e *DataError) Error() string {
	return fmt.Sprintf("%s: bad data: %s", e.Op, e.Msg)
}

// FatalError aborts the whole processing cycle, not just the current entity.
type FatalError struct {
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsRecoverable classifies an error as transient. Recoverable errors are
// session expiry, retryable HTTP statuses and network level failures.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrSessionExpired) {
		return true
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Recoverable()
	}

	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return false
	}

	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
