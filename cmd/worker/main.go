package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/cache"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/config"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/scheduler"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/server"
	flowadapter "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/adapters"
	flowservice "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/service"
	returnsadapter "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/adapters"
	returnsservice "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/service"
	sessionadapter "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/adapters"
	sessionservice "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/service"
	trackingadapter "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/adapters"
	trackingports "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/ports"
	trackingservice "github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/service"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const portalTimeout = 60 * time.Second

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Return worker starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Databases
	workerDB, err := openDatabase(cfg.Database.DSN)
	if err != nil {
		l.Fatal("Failed to connect worker database", zap.Error(err))
	}
	erpDB, err := openDatabase(cfg.ERP.DSN)
	if err != nil {
		l.Fatal("Failed to connect ERP database", zap.Error(err))
	}

	if err := returnsadapter.Migrate(workerDB); err != nil {
		l.Fatal("Failed to migrate return tables", zap.Error(err))
	}
	if err := flowadapter.Migrate(workerDB); err != nil {
		l.Fatal("Failed to migrate cycle report table", zap.Error(err))
	}

	// Redis backed session store
	redisCache, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		l.Fatal("Failed to connect Redis", zap.Error(err))
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		l.Fatal("Redis health check failed", zap.Error(err))
	}
	l.Info("Redis connection verified")

	// Session management
	sessions := sessionservice.NewManager(
		sessionadapter.NewRodAuthenticator(cfg.Portal),
		sessionadapter.NewCacheCredentialStore(redisCache),
		sessionservice.ManagerConfig{
			Budget: time.Duration(cfg.Retry.SessionBudgetSeconds) * time.Second,
		},
	)

	// Portal client and retry layer
	portal := returnsadapter.NewPortalClient(cfg.Portal.BaseURL, cfg.Portal.MarketplaceID, portalTimeout)
	breaker := resilience.NewCircuitBreaker(
		cfg.Retry.BreakerThreshold,
		time.Duration(cfg.Retry.BreakerResetSeconds)*time.Second,
	)
	retry := resilience.NewRetrySession(
		breaker,
		flowservice.NewSessionRecoverer(sessions, portal),
		resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseWait:    time.Duration(cfg.Retry.WaitSeconds) * time.Second,
			Multiplier:  cfg.Retry.BackoffMultiplier,
		},
		func(op string, err error) {
			l.Error("Operation gave up after retries", zap.String("operation", op), zap.Error(err))
		},
	)

	// Storage and repositories
	labelStore, err := returnsadapter.NewS3LabelStore(ctx, cfg.Storage)
	if err != nil {
		l.Fatal("Failed to init label store", zap.Error(err))
	}
	caseRepo := returnsadapter.NewCaseRepository(workerDB)
	enrichmentRepo := returnsadapter.NewEnrichmentRepository(workerDB)
	trackingRepo := trackingadapter.NewTrackingRepository(workerDB)
	if err := trackingRepo.Migrate(); err != nil {
		l.Fatal("Failed to migrate tracking tables", zap.Error(err))
	}
	reportRepo := flowadapter.NewReportRepository(workerDB)

	// Services
	maxAge := time.Duration(cfg.Worker.DaysBack) * 24 * time.Hour
	ingest := returnsservice.NewIngestService(portal, caseRepo, retry, cfg.Worker.DaysBack)
	enrich := returnsservice.NewEnrichService(returnsadapter.NewERPGateway(erpDB), caseRepo, enrichmentRepo)
	addresses := returnsservice.NewAddressService(portal, caseRepo, retry)
	filter := returnsservice.NewFilterService(caseRepo, enrichmentRepo, maxAge)
	labels := returnsservice.NewLabelService(returnsadapter.NewDHLLabelTransport(cfg.Carrier), labelStore, caseRepo)
	upload := returnsservice.NewUploadService(portal, labelStore, returnsadapter.NewPassthroughConverter(), caseRepo, retry, "DHL")
	stats := returnsservice.NewStatsService(caseRepo)
	sweep := trackingservice.NewSweepService(trackingRepo, []trackingports.CarrierAdapter{
		trackingadapter.NewDHLAdapter(cfg.Carrier),
		trackingadapter.NewDPDAdapter(),
	})

	runner := flowservice.NewRunner(sessions, portal, []flowservice.Step{
		{Name: "ingest_returns", Run: func(ctx context.Context) (any, error) { return ingest.Run(ctx) }},
		{Name: "fetch_addresses", Run: func(ctx context.Context) (any, error) { return addresses.Run(ctx) }},
		{Name: "resolve_rma", Run: func(ctx context.Context) (any, error) { return enrich.Run(ctx) }},
		{Name: "close_duplicates", Run: func(ctx context.Context) (any, error) { return filter.CloseDuplicates(ctx) }},
		{Name: "classify_eligibility", Run: func(ctx context.Context) (any, error) { return filter.ClassifyEligibility(ctx) }},
		{Name: "generate_labels", Run: func(ctx context.Context) (any, error) { return labels.Run(ctx) }},
		{Name: "submit_labels", Run: func(ctx context.Context) (any, error) { return upload.Run(ctx) }},
		{Name: "sweep_tracking", Run: func(ctx context.Context) (any, error) { return sweep.Run(ctx) }},
		{Name: "statistics", Run: func(ctx context.Context) (any, error) { return stats.LogSnapshot(ctx) }},
	}, reportRepo, nil)

	// Admin server
	srv := server.New(cfg, server.Deps{
		Runner:   runner,
		Sessions: sessions,
		Breaker:  breaker,
		Pipeline: stats,
	})
	go func() {
		if err := srv.Run(); err != nil {
			l.Fatal("Admin server failed", zap.Error(err))
		}
	}()

	schedule, err := scheduler.Parse(cfg.Worker.ScheduleTimes)
	if err != nil {
		l.Fatal("Invalid cycle schedule", zap.Error(err))
	}
	l.Info("Cycle schedule loaded", zap.Any("times", schedule.Times()))

	runLoop(ctx, runner, schedule, time.Duration(cfg.Worker.PollIntervalSeconds)*time.Second)

	if err := srv.App.Shutdown(); err != nil {
		l.Error("Admin server shutdown failed", zap.Error(err))
	}
	l.Info("Return worker stopped")
}

// runLoop polls the schedule and executes cycles until the context ends.
func runLoop(ctx context.Context, runner *flowservice.Runner, schedule *scheduler.Schedule, pollInterval time.Duration) {
	l := logger.Get()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if !schedule.ShouldRun(now) {
				continue
			}
			schedule.MarkRun(now)
			if _, err := runner.RunCycle(ctx); err != nil {
				if errors.Is(err, flowservice.ErrCycleRunning) {
					continue
				}
				l.Error("Scheduled cycle failed", zap.Error(err))
			}
		}
	}
}

func openDatabase(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}
