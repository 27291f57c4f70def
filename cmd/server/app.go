package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/critichq/critic-api/internal/config"
	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/events"
	"github.com/critichq/critic-api/internal/platform/postgres"
	"github.com/critichq/critic-api/internal/ratelimit"
	"github.com/critichq/critic-api/internal/service"
	"github.com/critichq/critic-api/internal/task"
	"github.com/critichq/critic-api/internal/webhook"
)

// application holds the wired components and owns their lifecycles.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	db         *sql.DB
	limiter    *ratelimit.Limiter
	service    service.AnalysisService
	registry   *task.CancellationRegistry
	dispatcher *webhook.Dispatcher
	sweeper    *webhook.Sweeper
}

// newApplication connects the database, runs migrations and wires every
// component. Construction is side-effect free beyond the database; nothing
// starts running until Start.
func newApplication(cfg *config.Config, log *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, log); err != nil {
		closeDatabase(db, log)
		return nil, err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit.Window, log)

	jobStore := postgres.NewPostgresJobStore(db, log)
	endpointStore := postgres.NewPostgresEndpointStore(db, log)
	deliveryStore := postgres.NewPostgresDeliveryStore(db, log)

	tracker := task.NewProgressTracker(jobStore, log)
	executor := task.NewParallelExecutor(tracker,
		task.ExecutorConfig{WorkerCount: cfg.Analysis.WorkerCount}, log)
	registry := task.NewCancellationRegistry(jobStore, log)

	dispatcher := webhook.NewDispatcher(db, endpointStore, deliveryStore, limiter, nil,
		webhook.Config{
			MaxFailures:     cfg.Webhook.MaxFailures,
			MaxPayloadBytes: cfg.Webhook.MaxPayloadBytes(),
			Backoff:         cfg.Webhook.BackoffSchedule(),
			MaxRetryCount:   cfg.Webhook.MaxRetryCount,
			AllowedDomains:  cfg.Webhook.AllowedDomainList(),
			PerScopeLimit:   cfg.RateLimit.WebhookPerWindow,
			DeliveryTimeout: cfg.Webhook.DeliveryTimeout,
		}, log)

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(dispatcher,
		domain.EventReviewCompleted,
		domain.EventReviewFailed,
		domain.EventReviewOptimizationCompleted)

	analysisService := service.NewAnalysisService(
		jobStore,
		executor,
		registry,
		limiter,
		emitter,
		service.Limits{
			SubmissionsPerWindow:   cfg.RateLimit.SubmissionPerWindow,
			OptimizationsPerWindow: cfg.RateLimit.OptimizationPerWindow,
		},
		log,
	)

	sweeper := webhook.NewSweeper(endpointStore, cfg.Webhook.SweepInterval, log)

	return &application{
		cfg:        cfg,
		logger:     log,
		db:         db,
		limiter:    limiter,
		service:    analysisService,
		registry:   registry,
		dispatcher: dispatcher,
		sweeper:    sweeper,
	}, nil
}

// Start launches the background loops.
func (a *application) Start() {
	a.sweeper.Start()
}

// Shutdown stops background loops and drains in-flight work in dependency
// order: no new sweeps, drain job runs, drain webhook deliveries, then
// release the limiter and the database.
func (a *application) Shutdown() {
	a.sweeper.Stop()
	a.service.Wait()
	a.dispatcher.Wait()
	a.limiter.Stop()
	closeDatabase(a.db, a.logger)
}

// setupDatabase establishes a connection to the database and configures
// connection pools.
func setupDatabase(cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		closeDatabase(db, log)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established",
		slog.String("url", maskDatabaseURL(cfg.Database.URL)))
	return db, nil
}

// maskDatabaseURL hides the password portion of a connection URL so it can
// be logged.
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "(unparseable)"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func closeDatabase(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("Failed to close database connection", slog.String("error", err.Error()))
	}
}
