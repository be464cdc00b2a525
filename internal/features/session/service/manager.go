package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/ports"

	"go.uber.org/zap"
)

// ManagerConfig tunes the session manager.
type ManagerConfig struct {
	// Budget is the total time allowed for establishing a session,
	// including all login retries.
	Budget time.Duration
	// MaxAttempts caps the number of logins per session establishment.
	MaxAttempts int
	// BaseBackoff is the wait after the first failed login.
	BaseBackoff time.Duration
	// BackoffMultiplier scales the wait for each further failure.
	BackoffMultiplier float64
	// MaxBackoff caps the wait between logins.
	MaxBackoff time.Duration
}

// Manager owns the portal session lifecycle. All session transitions are
// serialized; concurrent callers share the same established handle.
type Manager struct {
	auth  ports.Authenticator
	store ports.CredentialStore
	cfg   ManagerConfig

	mu            sync.Mutex
	state         domain.State
	handle        *domain.Handle
	loginAttempts int

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewManager creates a session manager.
func NewManager(auth ports.Authenticator, store ports.CredentialStore, cfg ManagerConfig) *Manager {
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1.5
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Manager{
		auth:   auth,
		store:  store,
		cfg:    cfg,
		state:  domain.StateUninitialized,
		now:    time.Now,
		sleep:  sleepContext,
		logger: logger.Get(),
	}
}

// InitSession establishes a session for a processing cycle. A cached handle
// from the credential store is preferred, but only after a liveness probe
// confirms the portal still accepts it.
func (m *Manager) InitSession(ctx context.Context) (*domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.StateValid && m.handle != nil {
		return m.handle, nil
	}

	if cached := m.restoreCached(ctx); cached != nil {
		return cached, nil
	}

	return m.authenticate(ctx)
}

// restoreCached loads the stored handle and probes it. A dead session is
// dropped from the store. Callers hold m.mu.
func (m *Manager) restoreCached(ctx context.Context) *domain.Handle {
	if m.store == nil {
		return nil
	}

	cached, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ports.ErrNoStoredSession) {
			m.logger.Warn("Failed to load cached session", zap.Error(err))
		}
		return nil
	}
	if len(cached.Cookies) == 0 {
		return nil
	}

	alive, err := m.auth.Probe(ctx, cached)
	if err != nil {
		m.logger.Warn("Cached session probe failed", zap.Error(err))
		return nil
	}
	if !alive {
		m.logger.Info("Cached portal session is dead, dropping it")
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear credential store", zap.Error(err))
		}
		return nil
	}

	cached.FromCache = true
	m.handle = cached
	m.state = domain.StateValid
	m.logger.Info("Restored portal session from credential store")
	return cached
}

// Refresh drops the current session and performs a fresh login. It is the
// recovery path after the portal reported an expired session.
func (m *Manager) Refresh(ctx context.Context) (*domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset(ctx)
	return m.authenticate(ctx)
}

// Invalidate marks the current session as unusable without logging in again.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(ctx)
}

// Current returns the established handle, ErrSessionUnavailable if none.
func (m *Manager) Current() (*domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateValid || m.handle == nil {
		return nil, resilience.ErrSessionUnavailable
	}
	return m.handle, nil
}

// Status reports the session state for the admin surface.
func (m *Manager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := domain.Status{
		State:         m.state,
		LoginAttempts: m.loginAttempts,
	}
	if m.handle != nil {
		status.EstablishedAt = m.handle.EstablishedAt
		status.AgeSeconds = int64(m.now().Sub(m.handle.EstablishedAt).Seconds())
	}
	return status
}

// reset clears the handle and the credential store. Callers hold m.mu.
func (m *Manager) reset(ctx context.Context) {
	m.handle = nil
	m.state = domain.StateUninitialized
	if m.store != nil {
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear credential store", zap.Error(err))
		}
	}
}

// authenticate performs logins with backoff until one succeeds, the attempt
// cap is reached or the budget is exhausted. Callers hold m.mu.
func (m *Manager) authenticate(ctx context.Context) (*domain.Handle, error) {
	m.state = domain.StateAuthenticating
	deadline := m.now().Add(m.cfg.Budget)

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := m.backoff(attempt)
			if m.now().Add(wait).After(deadline) {
				break
			}
			m.logger.Info("Retrying portal login",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if err := m.sleep(ctx, wait); err != nil {
				m.state = domain.StateInvalid
				return nil, fmt.Errorf("portal login: %w", err)
			}
		}

		m.loginAttempts++
		handle, err := m.auth.Login(ctx)
		if err == nil {
			err = m.verifyLogin(ctx, handle)
		}
		if err == nil {
			m.handle = handle
			m.state = domain.StateValid
			if m.store != nil {
				if storeErr := m.store.Store(ctx, handle); storeErr != nil {
					m.logger.Warn("Failed to cache session", zap.Error(storeErr))
				}
			}
			m.logger.Info("Portal login succeeded", zap.Int("attempt", attempt))
			return handle, nil
		}

		lastErr = err
		m.logger.Warn("Portal login failed", zap.Int("attempt", attempt), zap.Error(err))

		if m.now().After(deadline) {
			break
		}
	}

	m.state = domain.StateInvalid
	return nil, fmt.Errorf("portal login gave up: %w: %w", resilience.ErrSessionUnavailable, lastErr)
}

// verifyLogin probes the freshly established session. An inconclusive probe
// is tolerated; a portal that denies the session fails the attempt.
func (m *Manager) verifyLogin(ctx context.Context, handle *domain.Handle) error {
	alive, err := m.auth.Probe(ctx, handle)
	if err != nil {
		m.logger.Warn("Post-login probe failed", zap.Error(err))
		return nil
	}
	if !alive {
		return errors.New("login finished but the portal rejects the session")
	}
	return nil
}

// backoff computes the wait before the given attempt (attempt >= 2).
func (m *Manager) backoff(attempt int) time.Duration {
	wait := m.cfg.BaseBackoff
	for i := 2; i < attempt; i++ {
		wait = time.Duration(float64(wait) * m.cfg.BackoffMultiplier)
	}
	if wait > m.cfg.MaxBackoff {
		wait = m.cfg.MaxBackoff
	}
	return wait
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
