package ports

import (
	"context"
	"net/http"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/domain"
	sessiondomain "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"
)

// SessionInitializer owns the portal session lifecycle for a cycle.
type SessionInitializer interface {
	// InitSession establishes a session, preferring a cached one.
	InitSession(ctx context.Context) (*sessiondomain.Handle, error)

	// Refresh drops the session and performs a fresh login.
	Refresh(ctx context.Context) (*sessiondomain.Handle, error)
}

// CookieSink receives the session cookies of an established session.
type CookieSink interface {
	// SetCookies replaces the client's cookie state.
	SetCookies(cookies []*http.Cookie) error
}

// ReportRepository persists cycle reports.
type ReportRepository interface {
	// Save stores a report.
	Save(ctx context.Context, report *domain.CycleReport) error

	// Last loads the most recent report, nil when none exists.
	Last(ctx context.Context) (*domain.CycleReport, error)
}

// Observer is notified about cycle progress. Implementations must not block;
// panics in observers are swallowed.
type Observer interface {
	// CycleStarted fires when a cycle begins.
	CycleStarted(startedAt int64)

	// StepFinished fires after every step with its result.
	StepFinished(result domain.StepResult)

	// CycleFinished fires with the final report.
	CycleFinished(report *domain.CycleReport)
}
