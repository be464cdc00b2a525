package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/ports"
	sessiondomain "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSessions struct {
	handle      *sessiondomain.Handle
	initErr     error
	refreshErr  error
	initCalls   int
	refreshCall int
}

func (f *fakeSessions) InitSession(ctx context.Context) (*sessiondomain.Handle, error) {
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f.handle, nil
}

func (f *fakeSessions) Refresh(ctx context.Context) (*sessiondomain.Handle, error) {
	f.refreshCall++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.handle, nil
}

type fakeCookieSink struct {
	cookies []*http.Cookie
	calls   int
}

func (f *fakeCookieSink) SetCookies(cookies []*http.Cookie) error {
	f.calls++
	f.cookies = cookies
	return nil
}

type fakeReportRepo struct {
	saved   []*domain.CycleReport
	saveErr error
}

func (f *fakeReportRepo) Save(ctx context.Context, report *domain.CycleReport) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, report)
	return nil
}

func (f *fakeReportRepo) Last(ctx context.Context) (*domain.CycleReport, error) {
	if len(f.saved) == 0 {
		return nil, nil
	}
	return f.saved[len(f.saved)-1], nil
}

type fakeObserver struct {
	started  []int64
	steps    []domain.StepResult
	finished []*domain.CycleReport
	panics   bool
}

func (f *fakeObserver) CycleStarted(startedAt int64) {
	f.started = append(f.started, startedAt)
	if f.panics {
		panic("observer exploded")
	}
}

func (f *fakeObserver) StepFinished(result domain.StepResult) {
	f.steps = append(f.steps, result)
	if f.panics {
		panic("observer exploded")
	}
}

func (f *fakeObserver) CycleFinished(report *domain.CycleReport) {
	f.finished = append(f.finished, report)
	if f.panics {
		panic("observer exploded")
	}
}

func sessionHandle() *sessiondomain.Handle {
	return &sessiondomain.Handle{
		Cookies:       []*http.Cookie{{Name: "session-id", Value: "abc"}},
		EstablishedAt: time.Now(),
	}
}

func newTestRunner(sessions *fakeSessions, sink *fakeCookieSink, steps []Step, reports *fakeReportRepo, observer *fakeObserver) *Runner {
	var reportRepo ports.ReportRepository
	if reports != nil {
		reportRepo = reports
	}
	var obs ports.Observer
	if observer != nil {
		obs = observer
	}
	runner := NewRunner(sessions, sink, steps, reportRepo, obs)
	runner.logger = zap.NewNop()
	return runner
}

func TestRunner_SuccessfulCycle(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}
	sink := &fakeCookieSink{}
	reports := &fakeReportRepo{}
	observer := &fakeObserver{}

	var order []string
	steps := []Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) {
			order = append(order, "ingest_returns")
			return map[string]int{"fetched": 3}, nil
		}},
		{Name: "sweep_tracking", Run: func(ctx context.Context) (any, error) {
			order = append(order, "sweep_tracking")
			return nil, nil
		}},
	}

	runner := newTestRunner(sessions, sink, steps, reports, observer)
	report, err := runner.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.CycleSuccess, report.Status)
	assert.Equal(t, 3, report.StepsRun)
	assert.Equal(t, 0, report.StepsFailed)
	assert.Equal(t, []string{"ingest_returns", "sweep_tracking"}, order)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, "abc", sink.cookies[0].Value)
	require.NotNil(t, report.FinishedAt)
	require.Len(t, reports.saved, 1)

	var results []domain.StepResult
	require.NoError(t, json.Unmarshal(report.Steps, &results))
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, "init_session", results[0].Name)
	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, "ingest_returns", results[1].Name)
	assert.Equal(t, 2, results[2].Index)
	assert.Equal(t, "sweep_tracking", results[2].Name)
}

func TestRunner_StepFailureContinuesCycle(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}
	reports := &fakeReportRepo{}

	secondRan := false
	steps := []Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) {
			return nil, errors.New("portal unreachable")
		}},
		{Name: "statistics", Run: func(ctx context.Context) (any, error) {
			secondRan = true
			return nil, nil
		}},
	}

	runner := newTestRunner(sessions, &fakeCookieSink{}, steps, reports, nil)
	report, err := runner.RunCycle(context.Background())

	require.NoError(t, err)
	assert.True(t, secondRan)
	assert.Equal(t, domain.CycleCompletedWithErrors, report.Status)
	assert.Equal(t, 1, report.StepsFailed)
}

func TestRunner_SessionFailureAbortsCycle(t *testing.T) {
	sessions := &fakeSessions{initErr: errors.New("login failed")}
	reports := &fakeReportRepo{}

	stepRan := false
	steps := []Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) {
			stepRan = true
			return nil, nil
		}},
	}

	runner := newTestRunner(sessions, &fakeCookieSink{}, steps, reports, nil)
	report, err := runner.RunCycle(context.Background())

	require.Error(t, err)
	assert.False(t, stepRan)
	assert.Equal(t, domain.CycleSessionError, report.Status)
	assert.Equal(t, "login failed", report.Error)
	require.Len(t, reports.saved, 1)
}

func TestRunner_StepPanicIsIsolated(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}

	steps := []Step{
		{Name: "generate_labels", Run: func(ctx context.Context) (any, error) {
			panic("nil pointer somewhere deep")
		}},
		{Name: "statistics", Run: func(ctx context.Context) (any, error) {
			return nil, nil
		}},
	}

	runner := newTestRunner(sessions, &fakeCookieSink{}, steps, nil, nil)
	report, err := runner.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.CycleCompletedWithErrors, report.Status)
	assert.Equal(t, 1, report.StepsFailed)
	assert.Equal(t, 3, report.StepsRun)
}

func TestRunner_RejectsConcurrentCycles(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}

	release := make(chan struct{})
	started := make(chan struct{})
	steps := []Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}},
	}

	runner := newTestRunner(sessions, &fakeCookieSink{}, steps, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.RunCycle(context.Background())
	}()

	<-started
	assert.True(t, runner.Running())
	_, err := runner.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(release)
	<-done
	assert.False(t, runner.Running())
}

func TestRunner_ObserverNotified(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}
	observer := &fakeObserver{}

	steps := []Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) { return nil, nil }},
	}

	runner := newTestRunner(sessions, &fakeCookieSink{}, steps, nil, observer)
	_, err := runner.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Len(t, observer.started, 1)
	require.Len(t, observer.steps, 1)
	assert.Equal(t, "ingest_returns", observer.steps[0].Name)
	assert.Equal(t, 1, observer.steps[0].Index)
	require.Len(t, observer.finished, 1)
	assert.Equal(t, domain.CycleSuccess, observer.finished[0].Status)
}

func TestRunner_ObserverPanicIsSwallowed(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}
	observer := &fakeObserver{panics: true}

	steps := []Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) { return nil, nil }},
	}

	runner := newTestRunner(sessions, &fakeCookieSink{}, steps, nil, observer)
	report, err := runner.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.CycleSuccess, report.Status)
}

func TestRunner_LastReport(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}
	runner := newTestRunner(sessions, &fakeCookieSink{}, nil, nil, nil)

	assert.Nil(t, runner.LastReport())

	report, err := runner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Same(t, report, runner.LastReport())
}

func TestSessionRecoverer(t *testing.T) {
	sessions := &fakeSessions{handle: sessionHandle()}
	sink := &fakeCookieSink{}

	recoverer := NewSessionRecoverer(sessions, sink)
	require.NoError(t, recoverer.Recover(context.Background()))
	assert.Equal(t, 1, sessions.refreshCall)
	assert.Equal(t, 1, sink.calls)

	sessions.refreshErr = errors.New("portal down")
	assert.Error(t, recoverer.Recover(context.Background()))
}
