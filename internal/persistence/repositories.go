package persistence

import (
	"context"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

// StateRepository loads and stores a user's complete constraint set.
type StateRepository interface {
	// LoadState returns an empty state for users without records.
	LoadState(ctx context.Context, userID string) (scheduler.State, error)
	// SaveState replaces every stored record of state.UserID atomically.
	SaveState(ctx context.Context, state scheduler.State) error
	// SaveChange is SaveState plus the attempts produced by the change, in
	// one transaction.
	SaveChange(ctx context.Context, state scheduler.State, attempts []scheduler.RescheduleAttempt) error
	// ListUserIDs returns every user with stored records.
	ListUserIDs(ctx context.Context) ([]string, error)
}

// AttemptRepository keeps the reschedule audit trail.
type AttemptRepository interface {
	SaveAttempts(ctx context.Context, attempts []scheduler.RescheduleAttempt) error
	// ListAttempts returns attempts ordered by time; an empty taskID lists all of the user's attempts.
	ListAttempts(ctx context.Context, userID, taskID string) ([]scheduler.RescheduleAttempt, error)
}
