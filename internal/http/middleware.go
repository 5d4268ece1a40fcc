package http

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/visionary-scheduler/internal/logging"
)

// UserIDHeader identifies the calling user. Authentication happens in front
// of this service.
const UserIDHeader = "X-User-ID"

// RequireUser rejects requests without a user id header and stores the id
// on the request context. The health probe is exempt.
func RequireUser(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingUserID)
				return
			}

			ctx := logging.With(ContextWithUserID(r.Context(), userID), "user_id", userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PresentationZone resolves the ?tz= query parameter, falling back to
// fallback, and stores the zone on the request context. Unknown zones are
// rejected.
func PresentationZone(fallback *time.Location, logger *slog.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = time.UTC
	}
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fallback
			if name := strings.TrimSpace(r.URL.Query().Get("tz")); name != "" {
				parsed, err := time.LoadLocation(name)
				if err != nil {
					responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTimeZone)
					return
				}
				loc = parsed
			}
			next.ServeHTTP(w, r.WithContext(ContextWithLocation(r.Context(), loc)))
		})
	}
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(recorder, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", recorder.status, "duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}
