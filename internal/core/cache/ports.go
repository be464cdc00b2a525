package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist. Callers use it to
// tell an empty cache apart from a broken one.
var ErrMiss = errors.New("cache miss")

// Cache is the port for the worker's key/value store. It holds small state
// that must survive restarts, such as the portal session cookie bundle.
type Cache interface {
	// Get retrieves the value stored under key, ErrMiss if there is none.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
