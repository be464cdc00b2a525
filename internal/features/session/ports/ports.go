package ports

import (
	"context"
	"errors"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"
)

// ErrNoStoredSession is returned by the credential store when nothing usable
// is cached.
var ErrNoStoredSession = errors.New("no stored session")

// Authenticator performs a full interactive portal login and verifies
// session liveness.
type Authenticator interface {
	// Login authenticates against the portal and returns a fresh handle.
	Login(ctx context.Context) (*domain.Handle, error)

	// Probe reports whether the handle's session is still authenticated.
	Probe(ctx context.Context, handle *domain.Handle) (bool, error)
}

// CredentialStore caches session handles across worker restarts.
type CredentialStore interface {
	// Load restores the cached handle, ErrNoStoredSession if none exists.
	Load(ctx context.Context) (*domain.Handle, error)

	// Store caches a handle.
	Store(ctx context.Context, handle *domain.Handle) error

	// Clear drops the cached handle.
	Clear(ctx context.Context) error
}
