package scheduler

import (
	"time"

	"github.com/example/visionary-scheduler/internal/recurrence"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// EventSource records where a fixed event came from.
type EventSource string

const (
	// SourceExternalCalendar marks events imported from a calendar feed.
	SourceExternalCalendar EventSource = "external-calendar"
	// SourceUserManual marks events entered by the user.
	SourceUserManual EventSource = "user-manual"
)

// Valid reports whether the source is one of the known values.
func (s EventSource) Valid() bool {
	return s == SourceExternalCalendar || s == SourceUserManual
}

// FixedEvent is a non-negotiable occupied window. The solver never mutates it.
type FixedEvent struct {
	ID     string
	UserID string
	Title  string
	Window timewindow.Window
	Source EventSource
	// CalendarID and ExternalUID identify the imported instance for sync diffing.
	CalendarID  string
	ExternalUID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusUnscheduled TaskStatus = "unscheduled"
	StatusScheduled   TaskStatus = "scheduled"
	StatusCompleted   TaskStatus = "completed"
	StatusSkipped     TaskStatus = "skipped"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Valid reports whether the status is one of the known values.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusUnscheduled, StatusScheduled, StatusCompleted, StatusSkipped:
		return true
	}
	return false
}

// Category tags the life area a task belongs to.
type Category string

const (
	CategoryFinancial     Category = "financial"
	CategoryHealth        Category = "health"
	CategoryNutrition     Category = "nutrition"
	CategoryPsychological Category = "psychological"
	CategoryTask          Category = "task"
)

// Valid reports whether the category is known. The empty category is allowed.
func (c Category) Valid() bool {
	switch c {
	case "", CategoryFinancial, CategoryHealth, CategoryNutrition, CategoryPsychological, CategoryTask:
		return true
	}
	return false
}

// ReasonCode explains why a task has no assigned window.
type ReasonCode string

const (
	ReasonNone             ReasonCode = ""
	ReasonNoFeasibleWindow ReasonCode = "NoFeasibleWindow"
	ReasonSolveTimeout     ReasonCode = "SolveTimeout"
)

// Task is a unit of work that needs a slot in the schedule.
type Task struct {
	ID       string
	UserID   string
	Title    string
	Category Category
	Duration time.Duration
	// MinDuration is the shortest acceptable length for duration-flexible tasks.
	MinDuration   time.Duration
	Deadline      *time.Time
	EarliestStart *time.Time
	Priority      int
	// TimeFlexible tasks may start anywhere after EarliestStart; otherwise
	// only EarliestStart itself is a candidate.
	TimeFlexible     bool
	DurationFlexible bool
	// AllowFocusOverride permits placement over overridable focus blocks.
	AllowFocusOverride bool
	Confidence         float64
	Status             TaskStatus
	Assigned           *timewindow.Window
	Reason             ReasonCode
	OverriddenFocus    []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Scheduled reports whether the task currently occupies a window.
func (t Task) Scheduled() bool {
	return t.Status == StatusScheduled && t.Assigned != nil
}

// InterruptionPolicy controls how a focus block reacts to placement requests.
type InterruptionPolicy string

const (
	// PolicyBlock never allows placement, even with an override.
	PolicyBlock InterruptionPolicy = "block"
	// PolicyDefer allows placement only with an explicit override.
	PolicyDefer InterruptionPolicy = "defer"
	// PolicyNotify allows placement with an override and flags it for notification.
	PolicyNotify InterruptionPolicy = "notify"
)

// Valid reports whether the policy is one of the known values.
func (p InterruptionPolicy) Valid() bool {
	return p == PolicyBlock || p == PolicyDefer || p == PolicyNotify
}

// FocusBlock is a protected window. Window is the one-off window or, when
// Recurrence is set, the first occurrence that gives the time of day and length.
type FocusBlock struct {
	ID         string
	UserID     string
	Title      string
	Window     timewindow.Window
	Recurrence *recurrence.Rule
	Policy     InterruptionPolicy
	Priority   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FocusWindow is a concrete occurrence of a focus block.
type FocusWindow struct {
	BlockID  string
	Window   timewindow.Window
	Policy   InterruptionPolicy
	Priority int
}

// Assignment is the solver's verdict for one task.
type Assignment struct {
	TaskID          string
	Window          *timewindow.Window
	Reason          ReasonCode
	Shortened       bool
	OverriddenFocus []string
}

// Scheduled reports whether the assignment carries a window.
func (a Assignment) Scheduled() bool { return a.Window != nil }

// ConstraintKind identifies what occupies a window.
type ConstraintKind string

const (
	KindFixedEvent ConstraintKind = "fixed_event"
	KindFocusBlock ConstraintKind = "focus_block"
	KindAssignment ConstraintKind = "assignment"
)

// Constraint is an occupied window returned by ListActiveConstraints.
type Constraint struct {
	Kind     ConstraintKind
	ID       string
	Window   timewindow.Window
	Policy   InterruptionPolicy
	Priority int
}

// State is a plain snapshot of one user's constraint set, used for loading
// and persisting a ConstraintStore.
type State struct {
	UserID      string
	FixedEvents []FixedEvent
	FocusBlocks []FocusBlock
	Tasks       []Task
}

// ScheduleChanged is emitted whenever a solve run alters assignments.
type ScheduleChanged struct {
	UserID             string    `json:"userId"`
	ChangedTaskIDs     []string  `json:"changedTaskIds"`
	UnscheduledTaskIDs []string  `json:"unscheduledTaskIds"`
	OccurredAt         time.Time `json:"occurredAt"`
}

// Empty reports whether the event carries no changes.
func (e ScheduleChanged) Empty() bool {
	return len(e.ChangedTaskIDs) == 0 && len(e.UnscheduledTaskIDs) == 0
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneWindow(w *timewindow.Window) *timewindow.Window {
	if w == nil {
		return nil
	}
	v := *w
	return &v
}

func cloneTask(t Task) Task {
	t.Deadline = cloneTime(t.Deadline)
	t.EarliestStart = cloneTime(t.EarliestStart)
	t.Assigned = cloneWindow(t.Assigned)
	if len(t.OverriddenFocus) > 0 {
		t.OverriddenFocus = append([]string(nil), t.OverriddenFocus...)
	}
	return t
}

func cloneFocusBlock(b FocusBlock) FocusBlock {
	if b.Recurrence != nil {
		rule := *b.Recurrence
		rule.Weekdays = append([]time.Weekday(nil), rule.Weekdays...)
		rule.ExDates = append([]time.Time(nil), rule.ExDates...)
		if rule.EndsOn != nil {
			endsOn := *rule.EndsOn
			rule.EndsOn = &endsOn
		}
		b.Recurrence = &rule
	}
	return b
}
