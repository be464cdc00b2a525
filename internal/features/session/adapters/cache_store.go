package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/cache"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/ports"
)

const (
	sessionCacheKey = "portal:session"
	sessionTTL      = 12 * time.Hour
)

// CacheCredentialStore persists the session cookie bundle in the cache so a
// worker restart does not force a fresh browser login.
type CacheCredentialStore struct {
	cache cache.Cache
}

// NewCacheCredentialStore creates a credential store on top of the cache.
func NewCacheCredentialStore(c cache.Cache) *CacheCredentialStore {
	return &CacheCredentialStore{cache: c}
}

// storedSession is the cache representation of a session handle.
type storedSession struct {
	Cookies       []storedCookie `json:"cookies"`
	EstablishedAt time.Time      `json:"established_at"`
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// Load restores the cached handle. A cache miss maps to ErrNoStoredSession;
// any other cache failure is surfaced as-is.
func (s *CacheCredentialStore) Load(ctx context.Context) (*domain.Handle, error) {
	data, err := s.cache.Get(ctx, sessionCacheKey)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ports.ErrNoStoredSession
		}
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode stored session: %w", err)
	}
	if len(stored.Cookies) == 0 {
		return nil, ports.ErrNoStoredSession
	}

	handle := &domain.Handle{EstablishedAt: stored.EstablishedAt}
	for _, c := range stored.Cookies {
		handle.Cookies = append(handle.Cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return handle, nil
}

// Store caches a handle.
func (s *CacheCredentialStore) Store(ctx context.Context, handle *domain.Handle) error {
	stored := storedSession{EstablishedAt: handle.EstablishedAt}
	for _, c := range handle.Cookies {
		stored.Cookies = append(stored.Cookies, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.cache.Set(ctx, sessionCacheKey, data, sessionTTL)
}

// Clear drops the cached handle.
func (s *CacheCredentialStore) Clear(ctx context.Context) error {
	return s.cache.Delete(ctx, sessionCacheKey)
}
