package testfixtures

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/notify"
	"github.com/example/visionary-scheduler/internal/persistence"
	"github.com/example/visionary-scheduler/internal/scheduler"
)

// ServiceFactory assists tests with constructing the planner using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// PlannerDeps captures dependencies for constructing a planner. Nil
// repositories are replaced by a fresh SQLite harness.
type PlannerDeps struct {
	States      persistence.StateRepository
	Attempts    persistence.AttemptRepository
	Solver      *scheduler.SolverConfig
	Categorizer categorize.Categorizer
	Publisher   notify.Publisher
	Logger      *slog.Logger
}

// NewPlanner builds a planner service wired to the factory clock and id
// generator.
func (f *ServiceFactory) NewPlanner(tb testing.TB, deps PlannerDeps) *application.PlannerService {
	tb.Helper()

	if deps.States == nil {
		harness := NewSQLiteHarness(tb)
		deps.States = harness.States
		if deps.Attempts == nil {
			deps.Attempts = harness.Attempts
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := scheduler.DefaultSolverConfig()
	if deps.Solver != nil {
		cfg = *deps.Solver
	}

	now := f.Clock.NowFunc()
	solver, err := scheduler.NewSolver(cfg, now, logger)
	if err != nil {
		tb.Fatalf("failed to build solver: %v", err)
	}
	attemptIDs := NewIDGenerator("attempt")
	handler := scheduler.NewDisruptionHandler(solver, now, attemptIDs.NextFunc(), logger)

	planner, err := application.NewPlannerService(application.PlannerDeps{
		States:      deps.States,
		Attempts:    deps.Attempts,
		Handler:     handler,
		Categorizer: deps.Categorizer,
		Publisher:   deps.Publisher,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         now,
		Logger:      logger,
	})
	if err != nil {
		tb.Fatalf("failed to build planner: %v", err)
	}
	return planner
}
