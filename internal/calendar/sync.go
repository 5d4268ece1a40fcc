package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ImportFunc hands a fetched feed body to the planner.
type ImportFunc func(ctx context.Context, src Source, body []byte) error

// Syncer fetches subscribed feeds on their cron schedules and imports them.
type Syncer struct {
	fetcher *Fetcher
	importF ImportFunc
	sources []Source
	timeout time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSyncer registers every source that has a Schedule. Invalid cron specs
// fail construction. timeout bounds one fetch and import.
func NewSyncer(fetcher *Fetcher, importF ImportFunc, sources []Source, loc *time.Location, timeout time.Duration, logger *slog.Logger) (*Syncer, error) {
	if fetcher == nil || importF == nil {
		return nil, errors.New("calendar: syncer requires a fetcher and an import func")
	}
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger.With("component", "calendar_sync")}
	s := &Syncer{
		fetcher: fetcher,
		importF: importF,
		sources: append([]Source(nil), sources...),
		timeout: timeout,
		logger:  logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	for _, src := range s.sources {
		if src.Schedule == "" {
			continue
		}
		src := src
		if _, err := s.cron.AddFunc(src.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			_ = s.SyncOne(ctx, src)
		}); err != nil {
			return nil, fmt.Errorf("calendar: source %s schedule %q: %w", src.ID, src.Schedule, err)
		}
	}
	return s, nil
}

// Sources returns the configured sources.
func (s *Syncer) Sources() []Source {
	return append([]Source(nil), s.sources...)
}

// SyncOne fetches and imports a single source.
func (s *Syncer) SyncOne(ctx context.Context, src Source) error {
	logger := s.logger.With("source_id", src.ID, "user_id", src.UserID)

	res, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		logger.ErrorContext(ctx, "calendar sync fetch failed", "error", err)
		return err
	}
	if err := s.importF(ctx, src, res.Body); err != nil {
		logger.ErrorContext(ctx, "calendar sync import failed", "error", err)
		return err
	}
	logger.InfoContext(ctx, "calendar synced", "from_cache", res.FromCache)
	return nil
}

// SyncAll syncs every source once, in order, and joins the failures.
func (s *Syncer) SyncAll(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources {
		if err := s.SyncOne(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Start begins running scheduled syncs in the background.
func (s *Syncer) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for running syncs or ctx.
func (s *Syncer) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's logr-style calls to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
