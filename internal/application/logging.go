package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/logging"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContextOr(ctx, base)

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, scheduler.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, scheduler.ErrDuplicate):
		return "already_exists"
	case errors.Is(err, scheduler.ErrOverlap):
		return "overlap"
	case errors.Is(err, scheduler.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDisruptionQueued):
		return "disruption_queued"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, categorize.ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	if errors.Is(err, scheduler.ErrInvalid) || errors.Is(err, timewindow.ErrInvalidWindow) {
		return "validation"
	}

	return "unexpected"
}
