package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/visionary-scheduler/internal/recurrence"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// StateRepository implements persistence.StateRepository using SQLite.
type StateRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewStateRepository creates a new SQLite state repository.
func NewStateRepository(pool *ConnectionPool) *StateRepository {
	return &StateRepository{pool: pool, mapper: NewErrorMapper()}
}

// LoadState reads every record owned by userID.
func (r *StateRepository) LoadState(ctx context.Context, userID string) (scheduler.State, error) {
	state := scheduler.State{UserID: userID}
	err := r.pool.WithReadOnlyTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if state.FixedEvents, err = r.loadFixedEvents(ctx, tx, userID); err != nil {
			return err
		}
		if state.FocusBlocks, err = r.loadFocusBlocks(ctx, tx, userID); err != nil {
			return err
		}
		state.Tasks, err = r.loadTasks(ctx, tx, userID)
		return err
	})
	if err != nil {
		return scheduler.State{}, fmt.Errorf("load state for %s: %w", userID, err)
	}
	return state, nil
}

// SaveState replaces the stored records of state.UserID in one transaction.
func (r *StateRepository) SaveState(ctx context.Context, state scheduler.State) error {
	return r.SaveChange(ctx, state, nil)
}

// SaveChange replaces the stored records of state.UserID and appends
// attempts to the audit trail in the same transaction.
func (r *StateRepository) SaveChange(ctx context.Context, state scheduler.State, attempts []scheduler.RescheduleAttempt) error {
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"fixed_events", "focus_blocks", "tasks"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", state.UserID); err != nil {
				return r.mapper.MapError(err)
			}
		}
		if err := r.insertFixedEvents(ctx, tx, state.FixedEvents); err != nil {
			return err
		}
		if err := r.insertFocusBlocks(ctx, tx, state.FocusBlocks); err != nil {
			return err
		}
		if err := r.insertTasks(ctx, tx, state.Tasks); err != nil {
			return err
		}
		return insertAttempts(ctx, tx, r.mapper, attempts)
	})
	if err != nil {
		return fmt.Errorf("save state for %s: %w", state.UserID, err)
	}
	return nil
}

// ListUserIDs returns every user owning at least one record.
func (r *StateRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT user_id FROM fixed_events
		UNION SELECT user_id FROM focus_blocks
		UNION SELECT user_id FROM tasks
		ORDER BY user_id
	`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.mapper.MapError(err)
		}
		ids = append(ids, id)
	}
	return ids, r.mapper.MapError(rows.Err())
}

func (r *StateRepository) insertFixedEvents(ctx context.Context, tx *sql.Tx, events []scheduler.FixedEvent) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fixed_events (id, user_id, title, start_time, end_time, source, calendar_id, external_uid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return r.mapper.MapError(err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.ID, ev.UserID, ev.Title,
			formatTime(ev.Window.Start()), formatTime(ev.Window.End()),
			string(ev.Source), ev.CalendarID, ev.ExternalUID,
			formatTime(ev.CreatedAt), formatTime(ev.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert fixed event %s: %w", ev.ID, r.mapper.MapError(err))
		}
	}
	return nil
}

func (r *StateRepository) loadFixedEvents(ctx context.Context, tx *sql.Tx, userID string) ([]scheduler.FixedEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, title, start_time, end_time, source, calendar_id, external_uid, created_at, updated_at
		FROM fixed_events
		WHERE user_id = ?
		ORDER BY start_time, id
	`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var events []scheduler.FixedEvent
	for rows.Next() {
		var (
			ev                               scheduler.FixedEvent
			source                           string
			start, end, createdAt, updatedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Title, &start, &end, &source, &ev.CalendarID, &ev.ExternalUID, &createdAt, &updatedAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if ev.Window, err = parseWindow(start, end); err != nil {
			return nil, fmt.Errorf("fixed event %s: %w", ev.ID, err)
		}
		ev.Source = scheduler.EventSource(source)
		ev.CreatedAt, _ = parseTime(createdAt)
		ev.UpdatedAt, _ = parseTime(updatedAt)
		events = append(events, ev)
	}
	return events, r.mapper.MapError(rows.Err())
}

// recurrenceRecord is the JSON column layout of a focus block's recurrence.
type recurrenceRecord struct {
	ID        string         `json:"id,omitempty"`
	RRule     string         `json:"rrule,omitempty"`
	Frequency string         `json:"frequency,omitempty"`
	Interval  int            `json:"interval,omitempty"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	StartsOn  time.Time      `json:"startsOn"`
	EndsOn    *time.Time     `json:"endsOn,omitempty"`
	ExDates   []time.Time    `json:"exDates,omitempty"`
}

func encodeRecurrence(rule *recurrence.Rule) (sql.NullString, error) {
	if rule == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(recurrenceRecord{
		ID:        rule.ID,
		RRule:     rule.RRule,
		Frequency: rule.Frequency.String(),
		Interval:  rule.Interval,
		Weekdays:  rule.Weekdays,
		StartsOn:  rule.StartsOn,
		EndsOn:    rule.EndsOn,
		ExDates:   rule.ExDates,
	})
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeRecurrence(value sql.NullString, ownerID string) (*recurrence.Rule, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var rec recurrenceRecord
	if err := json.Unmarshal([]byte(value.String), &rec); err != nil {
		return nil, fmt.Errorf("decode recurrence: %w", err)
	}
	return &recurrence.Rule{
		ID:        rec.ID,
		OwnerID:   ownerID,
		RRule:     rec.RRule,
		Frequency: recurrence.ParseFrequency(rec.Frequency),
		Interval:  rec.Interval,
		Weekdays:  rec.Weekdays,
		StartsOn:  rec.StartsOn,
		EndsOn:    rec.EndsOn,
		ExDates:   rec.ExDates,
	}, nil
}

func (r *StateRepository) insertFocusBlocks(ctx context.Context, tx *sql.Tx, blocks []scheduler.FocusBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO focus_blocks (id, user_id, title, start_time, end_time, recurrence, policy, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return r.mapper.MapError(err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		rule, err := encodeRecurrence(b.Recurrence)
		if err != nil {
			return fmt.Errorf("focus block %s: %w", b.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			b.ID, b.UserID, b.Title,
			formatTime(b.Window.Start()), formatTime(b.Window.End()),
			rule, string(b.Policy), b.Priority,
			formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert focus block %s: %w", b.ID, r.mapper.MapError(err))
		}
	}
	return nil
}

func (r *StateRepository) loadFocusBlocks(ctx context.Context, tx *sql.Tx, userID string) ([]scheduler.FocusBlock, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, title, start_time, end_time, recurrence, policy, priority, created_at, updated_at
		FROM focus_blocks
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var blocks []scheduler.FocusBlock
	for rows.Next() {
		var (
			b                                scheduler.FocusBlock
			rule                             sql.NullString
			policy                           string
			start, end, createdAt, updatedAt string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &start, &end, &rule, &policy, &b.Priority, &createdAt, &updatedAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if b.Window, err = parseWindow(start, end); err != nil {
			return nil, fmt.Errorf("focus block %s: %w", b.ID, err)
		}
		if b.Recurrence, err = decodeRecurrence(rule, b.ID); err != nil {
			return nil, fmt.Errorf("focus block %s: %w", b.ID, err)
		}
		b.Policy = scheduler.InterruptionPolicy(policy)
		b.CreatedAt, _ = parseTime(createdAt)
		b.UpdatedAt, _ = parseTime(updatedAt)
		blocks = append(blocks, b)
	}
	return blocks, r.mapper.MapError(rows.Err())
}

func (r *StateRepository) insertTasks(ctx context.Context, tx *sql.Tx, tasks []scheduler.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (
			id, user_id, title, category, duration_seconds, min_duration_seconds, deadline, earliest_start,
			priority, time_flexible, duration_flexible, allow_focus_override, confidence, status,
			assigned_start, assigned_end, reason, overridden_focus, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return r.mapper.MapError(err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		overridden, err := json.Marshal(nonNil(t.OverriddenFocus))
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		var assignedStart, assignedEnd sql.NullString
		if t.Assigned != nil {
			assignedStart = nullTime(timePtr(t.Assigned.Start()))
			assignedEnd = nullTime(timePtr(t.Assigned.End()))
		}
		_, err = stmt.ExecContext(ctx,
			t.ID, t.UserID, t.Title, string(t.Category),
			int64(t.Duration/time.Second), int64(t.MinDuration/time.Second),
			nullTime(t.Deadline), nullTime(t.EarliestStart),
			t.Priority, t.TimeFlexible, t.DurationFlexible, t.AllowFocusOverride, t.Confidence,
			string(t.Status), assignedStart, assignedEnd, string(t.Reason), string(overridden),
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, r.mapper.MapError(err))
		}
	}
	return nil
}

func (r *StateRepository) loadTasks(ctx context.Context, tx *sql.Tx, userID string) ([]scheduler.Task, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, title, category, duration_seconds, min_duration_seconds, deadline, earliest_start,
			priority, time_flexible, duration_flexible, allow_focus_override, confidence, status,
			assigned_start, assigned_end, reason, overridden_focus, created_at, updated_at
		FROM tasks
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var tasks []scheduler.Task
	for rows.Next() {
		var (
			t                                   scheduler.Task
			category, status, reason, overrides string
			durationSec, minDurationSec         int64
			deadline, earliest                  sql.NullString
			assignedStart, assignedEnd          sql.NullString
			createdAt, updatedAt                string
		)
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Title, &category, &durationSec, &minDurationSec, &deadline, &earliest,
			&t.Priority, &t.TimeFlexible, &t.DurationFlexible, &t.AllowFocusOverride, &t.Confidence, &status,
			&assignedStart, &assignedEnd, &reason, &overrides, &createdAt, &updatedAt,
		); err != nil {
			return nil, r.mapper.MapError(err)
		}
		t.Category = scheduler.Category(category)
		t.Status = scheduler.TaskStatus(status)
		t.Reason = scheduler.ReasonCode(reason)
		t.Duration = time.Duration(durationSec) * time.Second
		t.MinDuration = time.Duration(minDurationSec) * time.Second
		if t.Deadline, err = scanTime(deadline); err != nil {
			return nil, fmt.Errorf("task %s deadline: %w", t.ID, err)
		}
		if t.EarliestStart, err = scanTime(earliest); err != nil {
			return nil, fmt.Errorf("task %s earliest start: %w", t.ID, err)
		}
		if assignedStart.Valid && assignedEnd.Valid {
			w, err := parseWindow(assignedStart.String, assignedEnd.String)
			if err != nil {
				return nil, fmt.Errorf("task %s assignment: %w", t.ID, err)
			}
			t.Assigned = &w
		}
		if err := json.Unmarshal([]byte(overrides), &t.OverriddenFocus); err != nil {
			return nil, fmt.Errorf("task %s overridden focus: %w", t.ID, err)
		}
		if len(t.OverriddenFocus) == 0 {
			t.OverriddenFocus = nil
		}
		t.CreatedAt, _ = parseTime(createdAt)
		t.UpdatedAt, _ = parseTime(updatedAt)
		tasks = append(tasks, t)
	}
	return tasks, r.mapper.MapError(rows.Err())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func parseWindow(start, end string) (timewindow.Window, error) {
	s, err := parseTime(start)
	if err != nil {
		return timewindow.Window{}, err
	}
	e, err := parseTime(end)
	if err != nil {
		return timewindow.Window{}, err
	}
	return timewindow.New(s, e)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
