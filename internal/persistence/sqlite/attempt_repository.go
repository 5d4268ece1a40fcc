package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

// AttemptRepository stores reschedule attempts.
type AttemptRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewAttemptRepository creates a new SQLite attempt repository.
func NewAttemptRepository(pool *ConnectionPool) *AttemptRepository {
	return &AttemptRepository{pool: pool, mapper: NewErrorMapper()}
}

// SaveAttempts inserts attempts in one transaction.
func (r *AttemptRepository) SaveAttempts(ctx context.Context, attempts []scheduler.RescheduleAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertAttempts(ctx, tx, r.mapper, attempts)
	})
}

func insertAttempts(ctx context.Context, tx *sql.Tx, mapper *ErrorMapper, attempts []scheduler.RescheduleAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reschedule_attempts (
			id, user_id, task_id, attempt_type, trigger_kind, attempted_at,
			old_start, old_end, new_start, new_end, success, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return mapper.MapError(err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		var newStart, newEnd sql.NullString
		if a.NewWindow != nil {
			newStart = nullTime(timePtr(a.NewWindow.Start()))
			newEnd = nullTime(timePtr(a.NewWindow.End()))
		}
		_, err := stmt.ExecContext(ctx,
			a.ID, a.UserID, a.TaskID, string(a.Type), string(a.Trigger), formatTime(a.AttemptedAt),
			formatTime(a.OldWindow.Start()), formatTime(a.OldWindow.End()), newStart, newEnd,
			a.Success, string(a.FailureReason),
		)
		if err != nil {
			return fmt.Errorf("insert attempt %s: %w", a.ID, mapper.MapError(err))
		}
	}
	return nil
}

// ListAttempts returns the user's attempts, optionally for one task.
func (r *AttemptRepository) ListAttempts(ctx context.Context, userID, taskID string) ([]scheduler.RescheduleAttempt, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT id, user_id, task_id, attempt_type, trigger_kind, attempted_at,
			old_start, old_end, new_start, new_end, success, failure_reason
		FROM reschedule_attempts
		WHERE user_id = ?`)
	args := []any{userID}
	if taskID != "" {
		query.WriteString(" AND task_id = ?")
		args = append(args, taskID)
	}
	query.WriteString(" ORDER BY attempted_at, id")

	rows, err := r.pool.DB().QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var attempts []scheduler.RescheduleAttempt
	for rows.Next() {
		var (
			a                             scheduler.RescheduleAttempt
			attemptType, trigger, reason  string
			attemptedAt, oldStart, oldEnd string
			newStart, newEnd              sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.TaskID, &attemptType, &trigger, &attemptedAt,
			&oldStart, &oldEnd, &newStart, &newEnd, &a.Success, &reason); err != nil {
			return nil, r.mapper.MapError(err)
		}
		a.Type = scheduler.AttemptType(attemptType)
		a.Trigger = scheduler.DisruptionKind(trigger)
		a.FailureReason = scheduler.ReasonCode(reason)
		if a.AttemptedAt, err = parseTime(attemptedAt); err != nil {
			return nil, fmt.Errorf("attempt %s: %w", a.ID, err)
		}
		if a.OldWindow, err = parseWindow(oldStart, oldEnd); err != nil {
			return nil, fmt.Errorf("attempt %s: %w", a.ID, err)
		}
		if newStart.Valid && newEnd.Valid {
			w, err := parseWindow(newStart.String, newEnd.String)
			if err != nil {
				return nil, fmt.Errorf("attempt %s: %w", a.ID, err)
			}
			a.NewWindow = &w
		}
		attempts = append(attempts, a)
	}
	return attempts, r.mapper.MapError(rows.Err())
}
