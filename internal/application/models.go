package application

import (
	"time"

	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// FixedEventInput captures caller provided fixed event fields.
type FixedEventInput struct {
	Title string
	Start time.Time
	End   time.Time
}

// RecurrenceInput describes a repeating focus block. RRule, when set, takes
// precedence over the structured fields.
type RecurrenceInput struct {
	RRule     string
	Frequency string
	Interval  int
	Weekdays  []time.Weekday
	Until     *time.Time
}

// FocusBlockInput captures caller provided focus block fields. Start and End
// give the first occurrence of a recurring block.
type FocusBlockInput struct {
	Title      string
	Start      time.Time
	End        time.Time
	Policy     scheduler.InterruptionPolicy
	Priority   int
	Recurrence *RecurrenceInput
}

// TaskInput captures caller provided task fields.
type TaskInput struct {
	Title    string
	Category scheduler.Category
	Duration time.Duration
	// MinDuration enables shrinking down to this length when positive.
	MinDuration   time.Duration
	Deadline      *time.Time
	EarliestStart *time.Time
	Priority      int
	// TimeFlexible defaults to true. A task with TimeFlexible false and an
	// EarliestStart is pinned to that start.
	TimeFlexible       *bool
	AllowFocusOverride bool
	// Confidence defaults to 1 for tasks entered by hand.
	Confidence *float64
}

// ChangeResult reports what a mutation did to the schedule.
type ChangeResult struct {
	Changed      []string
	Unscheduled  []string
	Demoted      []string
	Alternatives []scheduler.Alternative
	Partial      bool
}

// Empty reports whether no assignment moved.
func (c ChangeResult) Empty() bool {
	return len(c.Changed) == 0 && len(c.Unscheduled) == 0
}

// ScheduleView is the derived schedule of one user over the planning horizon.
type ScheduleView struct {
	UserID      string
	Horizon     timewindow.Window
	FixedEvents []scheduler.FixedEvent
	Focus       []scheduler.FocusWindow
	// Scheduled lists placed tasks ordered by start.
	Scheduled   []scheduler.Task
	Unscheduled []scheduler.Task
	GeneratedAt time.Time
}

// ImportConflict is an imported instance rejected because it overlaps a
// fixed event the user already has.
type ImportConflict struct {
	UID           string
	EventID       string
	ConflictingID string
	Window        timewindow.Window
}

// ImportReport summarizes one calendar import.
type ImportReport struct {
	CalendarID  string
	Events      int
	Occurrences int
	Created     int
	Updated     int
	Removed     int
	Conflicts   []ImportConflict
	// Skipped holds parse and expansion problems that did not stop the import.
	Skipped   []string
	Truncated []string
	Change    ChangeResult
}

// IntakeResult reports the tasks created from uploaded content.
type IntakeResult struct {
	Suggestions []categorize.Suggestion
	Tasks       []scheduler.Task
	Change      ChangeResult
}
