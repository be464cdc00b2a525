package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/ports"

	"go.uber.org/zap"
)

// ErrCycleRunning is returned when a cycle is requested while one is active.
var ErrCycleRunning = errors.New("a processing cycle is already running")

// Step is one unit of work inside a processing cycle. The returned details
// value is serialized into the cycle report.
type Step struct {
	// Name identifies the step in logs and reports.
	Name string
	// Run executes the step.
	Run func(ctx context.Context) (any, error)
}

// Runner executes processing cycles. A cycle establishes a portal session,
// runs all configured steps in order and persists a report. Step failures are
// isolated; only a failed session init aborts the cycle.
type Runner struct {
	sessions ports.SessionInitializer
	cookies  ports.CookieSink
	steps    []Step
	reports  ports.ReportRepository
	observer ports.Observer

	mu      sync.Mutex
	running bool
	last    *domain.CycleReport

	now    func() time.Time
	logger *zap.Logger
}

// NewRunner creates a Runner. The observer and report repository may be nil.
func NewRunner(sessions ports.SessionInitializer, cookies ports.CookieSink, steps []Step, reports ports.ReportRepository, observer ports.Observer) *Runner {
	return &Runner{
		sessions: sessions,
		cookies:  cookies,
		steps:    steps,
		reports:  reports,
		observer: observer,
		now:      time.Now,
		logger:   logger.Get(),
	}
}

// Running reports whether a cycle is currently executing.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastReport returns the report of the most recent cycle, nil before the first.
func (r *Runner) LastReport() *domain.CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunCycle executes one full processing cycle. Only one cycle runs at a time.
func (r *Runner) RunCycle(ctx context.Context) (*domain.CycleReport, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrCycleRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	report := &domain.CycleReport{
		Status:    domain.CycleSuccess,
		StartedAt: r.now().UTC(),
	}
	r.notifyCycleStart(report)
	r.logger.Info("Processing cycle started")

	var results []domain.StepResult

	if err := r.initSession(ctx); err != nil {
		r.logger.Error("Session init failed, aborting cycle", zap.Error(err))
		report.Status = domain.CycleSessionError
		report.Error = err.Error()
		results = append(results, domain.StepResult{Name: "init_session", Error: err.Error()})
		report.StepsRun = 1
		report.StepsFailed = 1
		return r.finish(ctx, report, results), err
	}
	results = append(results, domain.StepResult{Name: "init_session"})
	report.StepsRun = 1

	for i, step := range r.steps {
		result := r.runStep(ctx, step)
		result.Index = i + 1
		results = append(results, result)
		report.StepsRun++
		if result.Error != "" {
			report.StepsFailed++
		}
		r.notifyStep(result)

		if ctx.Err() != nil {
			report.Status = domain.CycleError
			report.Error = ctx.Err().Error()
			return r.finish(ctx, report, results), ctx.Err()
		}
	}

	if report.StepsFailed > 0 {
		report.Status = domain.CycleCompletedWithErrors
	}
	return r.finish(ctx, report, results), nil
}

// initSession establishes the session and binds its cookies to the portal
// client.
func (r *Runner) initSession(ctx context.Context) error {
	handle, err := r.sessions.InitSession(ctx)
	if err != nil {
		return err
	}
	if err := r.cookies.SetCookies(handle.Cookies); err != nil {
		return fmt.Errorf("failed to bind session cookies: %w", err)
	}
	return nil
}

// runStep executes one step with panic isolation.
func (r *Runner) runStep(ctx context.Context, step Step) (result domain.StepResult) {
	result.Name = step.Name
	start := r.now()

	defer func() {
		result.DurationMS = r.now().Sub(start).Milliseconds()
		if rec := recover(); rec != nil {
			result.Error = fmt.Sprintf("panic: %v", rec)
			r.logger.Error("Step panicked",
				zap.String("step", step.Name),
				zap.Any("panic", rec),
			)
		}
	}()

	r.logger.Info("Running step", zap.String("step", step.Name))
	details, err := step.Run(ctx)
	result.Details = details
	if err != nil {
		result.Error = err.Error()
		r.logger.Error("Step failed", zap.String("step", step.Name), zap.Error(err))
	}
	return result
}

// finish closes out the report, persists it and notifies the observer.
func (r *Runner) finish(ctx context.Context, report *domain.CycleReport, results []domain.StepResult) *domain.CycleReport {
	finished := r.now().UTC()
	report.FinishedAt = &finished

	if data, err := json.Marshal(results); err == nil {
		report.Steps = data
	}

	if r.reports != nil {
		if err := r.reports.Save(ctx, report); err != nil {
			r.logger.Error("Failed to persist cycle report", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	r.logger.Info("Processing cycle finished",
		zap.String("status", string(report.Status)),
		zap.Int("steps_run", report.StepsRun),
		zap.Int("steps_failed", report.StepsFailed),
		zap.Duration("duration", report.Duration()),
	)
	r.notifyCycleEnd(report)
	return report
}

// notifyCycleStart fires the observer, swallowing panics.
func (r *Runner) notifyCycleStart(report *domain.CycleReport) {
	if r.observer == nil {
		return
	}
	defer func() { recover() }()
	r.observer.CycleStarted(report.StartedAt.Unix())
}

// notifyStep fires the observer, swallowing panics.
func (r *Runner) notifyStep(result domain.StepResult) {
	if r.observer == nil {
		return
	}
	defer func() { recover() }()
	r.observer.StepFinished(result)
}

// notifyCycleEnd fires the observer, swallowing panics.
func (r *Runner) notifyCycleEnd(report *domain.CycleReport) {
	if r.observer == nil {
		return
	}
	defer func() { recover() }()
	r.observer.CycleFinished(report)
}

// SessionRecoverer rebuilds the portal session after an expiry. It satisfies
// the retry layer's Recoverer contract.
type SessionRecoverer struct {
	sessions ports.SessionInitializer
	cookies  ports.CookieSink
}

// NewSessionRecoverer creates a SessionRecoverer.
func NewSessionRecoverer(sessions ports.SessionInitializer, cookies ports.CookieSink) *SessionRecoverer {
	return &SessionRecoverer{sessions: sessions, cookies: cookies}
}

// Recover performs a fresh login and rebinds the cookies.
func (s *SessionRecoverer) Recover(ctx context.Context) error {
	handle, err := s.sessions.Refresh(ctx)
	if err != nil {
		return err
	}
	return s.cookies.SetCookies(handle.Cookies)
}
