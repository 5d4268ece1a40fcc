package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/calendar"
	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/config"
	httptransport "github.com/example/visionary-scheduler/internal/http"
	"github.com/example/visionary-scheduler/internal/notify"
	"github.com/example/visionary-scheduler/internal/persistence/sqlite"
	"github.com/example/visionary-scheduler/internal/persistence/sqlite/migration"
	"github.com/example/visionary-scheduler/internal/recurrence"
	"github.com/example/visionary-scheduler/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	a, err := newApp(ctx, cfg, time.Now, logger)
	if err != nil {
		logger.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	// Placements made before a restart may now lie in the past.
	if err := a.planner.SolveAll(ctx); err != nil {
		logger.Warn("startup solve incomplete", "error", err)
	}

	a.syncer.Start()
	go func() {
		if err := a.syncer.SyncAll(ctx); err != nil {
			logger.Warn("initial calendar sync incomplete", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.syncer.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop calendar sync", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("visionary API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// app holds the wired service graph.
type app struct {
	pool    *sqlite.ConnectionPool
	planner *application.PlannerService
	syncer  *calendar.Syncer
	handler http.Handler
}

func newApp(ctx context.Context, cfg config.Config, now func() time.Time, logger *slog.Logger) (*app, error) {
	pool, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLitePath), logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	planner, syncer, err := wireServices(cfg, pool, now, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Events:      httptransport.NewEventHandler(planner, logger),
		FocusBlocks: httptransport.NewFocusHandler(planner, logger),
		Tasks:       httptransport.NewTaskHandler(planner, logger),
		Schedule:    httptransport.NewScheduleHandler(planner, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.PresentationZone(cfg.DisplayTZ, logger),
			httptransport.RequireUser(logger),
		},
	})

	return &app{pool: pool, planner: planner, syncer: syncer, handler: handler}, nil
}

func wireServices(cfg config.Config, pool *sqlite.ConnectionPool, now func() time.Time, logger *slog.Logger) (*application.PlannerService, *calendar.Syncer, error) {
	solver, err := scheduler.NewSolver(scheduler.SolverConfig{
		Quantum: cfg.Quantum,
		Horizon: cfg.Horizon,
		Timeout: cfg.SolveTimeout,
	}, now, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("configure solver: %w", err)
	}
	handler := scheduler.NewDisruptionHandler(solver, now, uuid.NewString, logger)

	outbound := &http.Client{Timeout: cfg.SyncTimeout}

	var categorizer categorize.Categorizer = categorize.NewKeywordCategorizer(now, cfg.DisplayTZ)
	if cfg.CategorizerURL != "" {
		categorizer = categorize.NewHTTPClient(cfg.CategorizerURL, nil, logger)
	}

	publishers := notify.Multi{notify.NewLogPublisher(logger)}
	for _, hook := range cfg.Webhooks {
		publishers = append(publishers, notify.NewWebhookPublisher(notify.WebhookConfig{
			URL:          hook.URL,
			MaxAttempts:  hook.MaxAttempts,
			InitialDelay: hook.InitialDelay,
		}, outbound, logger))
	}

	planner, err := application.NewPlannerService(application.PlannerDeps{
		States:       sqlite.NewStateRepository(pool),
		Attempts:     sqlite.NewAttemptRepository(pool),
		Handler:      handler,
		Engine:       recurrence.NewEngine(cfg.DisplayTZ),
		Categorizer:  categorizer,
		Publisher:    publishers,
		IDGenerator:  uuid.NewString,
		Now:          now,
		CacheTTL:     cfg.CacheTTL,
		FeedLocation: cfg.DisplayTZ,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure planner: %w", err)
	}

	sources := make([]calendar.Source, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		sources = append(sources, calendar.Source{ID: c.ID, UserID: c.UserID, URL: c.URL, Schedule: c.Schedule})
	}
	fetcher := calendar.NewFetcher(cfg.CacheDir, outbound, logger)
	syncer, err := calendar.NewSyncer(fetcher, planner.ImportFeed, sources, cfg.DisplayTZ, cfg.SyncTimeout, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("configure calendar sync: %w", err)
	}

	return planner, syncer, nil
}

func (a *app) Close() error {
	return a.pool.Close()
}
