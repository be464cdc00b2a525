package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/config"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	flowdomain "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/domain"
	flowservice "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/service"
	returnsservice "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/service"
	sessiondomain "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"

	"github.com/gofiber/contrib/fiberzap/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// CycleRunner triggers and inspects processing cycles.
type CycleRunner interface {
	// RunCycle executes one processing cycle.
	RunCycle(ctx context.Context) (*flowdomain.CycleReport, error)
	// Running reports whether a cycle is currently executing.
	Running() bool
	// LastReport returns the most recent cycle report, nil before the first.
	LastReport() *flowdomain.CycleReport
}

// SessionReporter exposes the portal session state.
type SessionReporter interface {
	// Status returns the current session status.
	Status() sessiondomain.Status
}

// BreakerReporter exposes the circuit breaker state.
type BreakerReporter interface {
	// Status returns the current breaker status.
	Status() resilience.BreakerStatus
}

// PipelineReporter exposes case pipeline statistics.
type PipelineReporter interface {
	// Snapshot counts all cases grouped by internal status.
	Snapshot(ctx context.Context) (*returnsservice.StatusSnapshot, error)
}

// Deps bundles the components the admin endpoints expose.
type Deps struct {
	// Runner triggers processing cycles.
	Runner CycleRunner
	// Sessions reports the portal session state.
	Sessions SessionReporter
	// Breaker reports the circuit breaker state.
	Breaker BreakerReporter
	// Pipeline reports case pipeline statistics.
	Pipeline PipelineReporter
}

// Server holds the Fiber application and configuration.
type Server struct {
	// App is the main Fiber application instance.
	App *fiber.App
	// cfg holds the application configuration.
	cfg *config.AppConfig
	// deps holds the components exposed through the admin endpoints.
	deps Deps
}

// New creates a new Server instance with configured middleware and routes.
func New(cfg *config.AppConfig, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "github.com/ElectronicxApp/ex-amazon-return-worker",
	})

	app.Use(requestid.New(requestid.Config{
		Header: "X-Ray-ID",
	}))

	app.Use(fiberzap.New(fiberzap.Config{
		Logger: logger.Get(),
	}))

	s := &Server{
		App:  app,
		cfg:  cfg,
		deps: deps,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.App.Get("/healthz", s.handleHealth)
	s.App.Post("/cycles", s.handleTriggerCycle)
	s.App.Get("/cycles/last", s.handleLastCycle)
	s.App.Get("/status", s.handleStatus)
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleTriggerCycle starts a processing cycle in the background. A cycle
// already in flight yields 409.
func (s *Server) handleTriggerCycle(c *fiber.Ctx) error {
	if s.deps.Runner.Running() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": flowservice.ErrCycleRunning.Error(),
		})
	}

	go func() {
		if _, err := s.deps.Runner.RunCycle(context.Background()); err != nil {
			if errors.Is(err, flowservice.ErrCycleRunning) {
				return
			}
			logger.Get().Error("Triggered cycle failed", zap.Error(err))
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
}

// handleLastCycle returns the report of the most recent cycle.
func (s *Server) handleLastCycle(c *fiber.Ctx) error {
	report := s.deps.Runner.LastReport()
	if report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no cycle has run yet",
		})
	}
	return c.JSON(report)
}

// handleStatus returns a combined view of session, breaker and pipeline state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	snapshot, err := s.deps.Pipeline.Snapshot(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"cycle_running": s.deps.Runner.Running(),
		"session":       s.deps.Sessions.Status(),
		"breaker":       s.deps.Breaker.Status(),
		"pipeline":      snapshot,
	})
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.ServerPort)
	logger.Get().Info("Starting admin server", zap.String("address", addr))
	return s.App.Listen(addr)
}
