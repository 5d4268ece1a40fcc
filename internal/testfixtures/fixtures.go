package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/visionary-scheduler/internal/recurrence"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

var (
	taskCounter  uint64
	eventCounter uint64
	focusCounter uint64
)

// DefaultUserID owns every fixture unless overridden.
const DefaultUserID = "user-001"

// Monday 08:00 UTC, aligned to every quantum the tests use.
var referenceTime = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns ReferenceTime shifted by d.
func At(d time.Duration) time.Time {
	return referenceTime.Add(d)
}

// Window builds a window relative to ReferenceTime.
func Window(from, to time.Duration) timewindow.Window {
	return timewindow.MustNew(At(from), At(to))
}

// ------------------------------ Task fixtures ------------------------------

// TaskOption configures a generated task.
type TaskOption func(*scheduler.Task)

// NewTask returns a one hour, time-flexible task with optional overrides.
func NewTask(opts ...TaskOption) scheduler.Task {
	idx := atomic.AddUint64(&taskCounter, 1)
	task := scheduler.Task{
		ID:           fmt.Sprintf("task-%03d", idx),
		UserID:       DefaultUserID,
		Title:        fmt.Sprintf("Task %03d", idx),
		Category:     scheduler.CategoryTask,
		Duration:     time.Hour,
		TimeFlexible: true,
		Status:       scheduler.StatusUnscheduled,
		CreatedAt:    referenceTime,
		UpdatedAt:    referenceTime,
	}
	for _, opt := range opts {
		opt(&task)
	}
	return task
}

// WithTaskID overrides the generated id.
func WithTaskID(id string) TaskOption {
	return func(t *scheduler.Task) { t.ID = id }
}

// WithTaskUser overrides the owner.
func WithTaskUser(userID string) TaskOption {
	return func(t *scheduler.Task) { t.UserID = userID }
}

// WithTaskTitle overrides the title.
func WithTaskTitle(title string) TaskOption {
	return func(t *scheduler.Task) { t.Title = title }
}

// WithDuration sets the required length.
func WithDuration(d time.Duration) TaskOption {
	return func(t *scheduler.Task) { t.Duration = d }
}

// WithShrinkTo marks the task duration-flexible down to floor.
func WithShrinkTo(floor time.Duration) TaskOption {
	return func(t *scheduler.Task) {
		t.DurationFlexible = true
		t.MinDuration = floor
	}
}

// WithDeadline sets the deadline.
func WithDeadline(deadline time.Time) TaskOption {
	return func(t *scheduler.Task) {
		value := deadline
		t.Deadline = &value
	}
}

// WithEarliestStart sets the earliest start.
func WithEarliestStart(start time.Time) TaskOption {
	return func(t *scheduler.Task) {
		value := start
		t.EarliestStart = &value
	}
}

// WithFixedStart pins the task to start exactly at start.
func WithFixedStart(start time.Time) TaskOption {
	return func(t *scheduler.Task) {
		value := start
		t.EarliestStart = &value
		t.TimeFlexible = false
	}
}

// WithPriority sets the priority.
func WithPriority(priority int) TaskOption {
	return func(t *scheduler.Task) { t.Priority = priority }
}

// WithFocusOverride allows the task to overlap overridable focus blocks.
func WithFocusOverride() TaskOption {
	return func(t *scheduler.Task) { t.AllowFocusOverride = true }
}

// WithCategory sets the category.
func WithCategory(category scheduler.Category) TaskOption {
	return func(t *scheduler.Task) { t.Category = category }
}

// WithTaskCreatedAt sets the creation timestamp used for ordering ties.
func WithTaskCreatedAt(created time.Time) TaskOption {
	return func(t *scheduler.Task) {
		t.CreatedAt = created
		t.UpdatedAt = created
	}
}

// --------------------------- Fixed event fixtures ---------------------------

// EventOption configures a generated fixed event.
type EventOption func(*scheduler.FixedEvent)

// NewFixedEvent returns a manual event covering w.
func NewFixedEvent(w timewindow.Window, opts ...EventOption) scheduler.FixedEvent {
	idx := atomic.AddUint64(&eventCounter, 1)
	event := scheduler.FixedEvent{
		ID:        fmt.Sprintf("event-%03d", idx),
		UserID:    DefaultUserID,
		Title:     fmt.Sprintf("Event %03d", idx),
		Window:    w,
		Source:    scheduler.SourceUserManual,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

// WithEventID overrides the generated id.
func WithEventID(id string) EventOption {
	return func(e *scheduler.FixedEvent) { e.ID = id }
}

// WithEventUser overrides the owner.
func WithEventUser(userID string) EventOption {
	return func(e *scheduler.FixedEvent) { e.UserID = userID }
}

// WithCalendarSource marks the event as imported from calendarID with uid.
func WithCalendarSource(calendarID, uid string) EventOption {
	return func(e *scheduler.FixedEvent) {
		e.Source = scheduler.SourceExternalCalendar
		e.CalendarID = calendarID
		e.ExternalUID = uid
	}
}

// --------------------------- Focus block fixtures ---------------------------

// FocusOption configures a generated focus block.
type FocusOption func(*scheduler.FocusBlock)

// NewFocusBlock returns a one-off block over w with PolicyBlock.
func NewFocusBlock(w timewindow.Window, opts ...FocusOption) scheduler.FocusBlock {
	idx := atomic.AddUint64(&focusCounter, 1)
	block := scheduler.FocusBlock{
		ID:        fmt.Sprintf("focus-%03d", idx),
		UserID:    DefaultUserID,
		Title:     fmt.Sprintf("Focus %03d", idx),
		Window:    w,
		Policy:    scheduler.PolicyBlock,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&block)
	}
	return block
}

// WithFocusID overrides the generated id.
func WithFocusID(id string) FocusOption {
	return func(b *scheduler.FocusBlock) { b.ID = id }
}

// WithPolicy sets the interruption policy.
func WithPolicy(policy scheduler.InterruptionPolicy) FocusOption {
	return func(b *scheduler.FocusBlock) { b.Policy = policy }
}

// WithFocusPriority sets the block priority.
func WithFocusPriority(priority int) FocusOption {
	return func(b *scheduler.FocusBlock) { b.Priority = priority }
}

// WithDailyRecurrence repeats the block every day from its first window.
func WithDailyRecurrence() FocusOption {
	return func(b *scheduler.FocusBlock) {
		b.Recurrence = &recurrence.Rule{
			ID:        b.ID + "-rule",
			OwnerID:   b.ID,
			Frequency: recurrence.FrequencyDaily,
			StartsOn:  b.Window.Start(),
		}
	}
}

// WithWeekdayRecurrence repeats the block on the given weekdays.
func WithWeekdayRecurrence(days ...time.Weekday) FocusOption {
	return func(b *scheduler.FocusBlock) {
		b.Recurrence = &recurrence.Rule{
			ID:        b.ID + "-rule",
			OwnerID:   b.ID,
			Frequency: recurrence.FrequencyWeekly,
			Weekdays:  days,
			StartsOn:  b.Window.Start(),
		}
	}
}
