package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/visionary-scheduler/internal/logging"
)

type contextKey string

const (
	userIDContextKey     contextKey = "user_id"
	resourceIDContextKey contextKey = "resource_id"
	locationContextKey   contextKey = "location"
)

// ContextWithLogger attaches the request scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext returns the request scoped logger, if any.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// ContextWithUserID returns a derived context containing the calling user.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the calling user from context if available.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithResourceID injects the identifier resolved from the request path.
func ContextWithResourceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, resourceIDContextKey, id)
}

// ResourceIDFromContext extracts an identifier previously associated with the context.
func ResourceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(resourceIDContextKey).(string)
	return id, ok
}

// ContextWithLocation sets the zone responses are rendered in.
func ContextWithLocation(ctx context.Context, loc *time.Location) context.Context {
	return context.WithValue(ctx, locationContextKey, loc)
}

// LocationFromContext returns the presentation zone, UTC when unset.
func LocationFromContext(ctx context.Context) *time.Location {
	if loc, ok := ctx.Value(locationContextKey).(*time.Location); ok && loc != nil {
		return loc
	}
	return time.UTC
}
