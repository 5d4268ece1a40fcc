package http

import (
	"context"
	"log/slog"

	"github.com/example/visionary-scheduler/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// handlerLogger prefers the request logger, which already carries the
// request id and user id, and tags it with the handler, the operation and
// the path resource id when one was routed.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContextOr(ctx, fallback)

	pairs := make([]any, 0, 6+len(attrs))
	pairs = append(pairs, "handler", handlerName)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if id, ok := ResourceIDFromContext(ctx); ok && id != "" {
		pairs = append(pairs, "resource_id", id)
	}
	return logger.With(append(pairs, attrs...)...)
}
