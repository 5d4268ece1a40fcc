package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/example/visionary-scheduler/internal/logging"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// DisruptionKind names a change to the constraint set.
type DisruptionKind string

const (
	DisruptionFixedEventAdded   DisruptionKind = "fixed_event_added"
	DisruptionFixedEventUpdated DisruptionKind = "fixed_event_updated"
	DisruptionFixedEventRemoved DisruptionKind = "fixed_event_removed"
	DisruptionFocusBlockAdded   DisruptionKind = "focus_block_added"
	DisruptionFocusBlockRemoved DisruptionKind = "focus_block_removed"
	DisruptionTaskAdded         DisruptionKind = "task_added"
	DisruptionTaskEdited        DisruptionKind = "task_edited"
	DisruptionTaskCompleted     DisruptionKind = "task_completed"
	DisruptionTaskSkipped       DisruptionKind = "task_skipped"
	DisruptionTaskRemoved       DisruptionKind = "task_removed"
)

// Disruption describes one change. FixedEvent, FocusBlock or Task carries
// the new value for add and update kinds; TargetID names the entity for
// removals and status changes.
type Disruption struct {
	Kind       DisruptionKind
	FixedEvent FixedEvent
	FocusBlock FocusBlock
	Task       Task
	TargetID   string
}

// AttemptType classifies why a reschedule was attempted.
type AttemptType string

const (
	AttemptConflict AttemptType = "auto-conflict"
	AttemptEdit     AttemptType = "auto-edit"
)

// RescheduleAttempt is an audit record for a task that lost its window.
type RescheduleAttempt struct {
	ID            string
	UserID        string
	TaskID        string
	Type          AttemptType
	Trigger       DisruptionKind
	AttemptedAt   time.Time
	OldWindow     timewindow.Window
	NewWindow     *timewindow.Window
	Success       bool
	FailureReason ReasonCode
}

// Alternative is a placement that becomes possible when lower-priority
// focus blocks are overridden.
type Alternative struct {
	TaskID          string
	Window          timewindow.Window
	OverriddenFocus []string
}

// Outcome reports the effect of one disruption.
type Outcome struct {
	Disruption   Disruption
	Result       Result
	Changed      []string
	Unscheduled  []string
	Demoted      []string
	Alternatives []Alternative
	Attempts     []RescheduleAttempt
}

// Event builds the notification payload for the outcome.
func (o Outcome) Event(userID string, at time.Time) ScheduleChanged {
	return ScheduleChanged{
		UserID:             userID,
		ChangedTaskIDs:     append([]string{}, o.Changed...),
		UnscheduledTaskIDs: append([]string{}, o.Unscheduled...),
		OccurredAt:         at,
	}
}

// DisruptionHandler applies a disruption to a store and re-solves only the
// tasks it affects.
type DisruptionHandler struct {
	solver *Solver
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewDisruptionHandler wires a handler around solver. newID generates
// reschedule attempt ids.
func NewDisruptionHandler(solver *Solver, now func() time.Time, newID func() string, logger *slog.Logger) *DisruptionHandler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if newID == nil {
		var counter atomic.Int64
		newID = func() string {
			return fmt.Sprintf("attempt-%d", counter.Add(1))
		}
	}
	return &DisruptionHandler{solver: solver, now: now, newID: newID, logger: logger}
}

// Solver exposes the underlying solver.
func (h *DisruptionHandler) Solver() *Solver { return h.solver }

// Handle applies d to store and re-solves the affected subset. Validation
// failures leave the store untouched. Tasks outside the subset keep their
// windows.
func (h *DisruptionHandler) Handle(ctx context.Context, store *ConstraintStore, d Disruption) (Outcome, error) {
	logger := logging.FromContextOr(ctx, h.logger).With("component", "disruption", "kind", string(d.Kind), "user_id", store.UserID())

	before := make(map[string]Task)
	for _, task := range store.Tasks() {
		before[task.ID] = task
	}

	impact, err := h.apply(store, d)
	if err != nil {
		return Outcome{}, err
	}

	ids := append([]string(nil), impact.affected...)
	if impact.freesTime {
		for _, task := range store.Tasks() {
			if task.Status == StatusUnscheduled {
				ids = append(ids, task.ID)
			}
		}
	}

	outcome := Outcome{Disruption: d}
	if len(ids) > 0 {
		result, err := h.solver.Solve(ctx, store, SolveOptions{TaskIDs: ids})
		if err != nil {
			return Outcome{}, err
		}
		outcome.Result = result
		outcome.Unscheduled = result.Unscheduled()
	}

	for _, task := range store.Tasks() {
		prev, existed := before[task.ID]
		if !existed {
			if task.Scheduled() {
				outcome.Changed = append(outcome.Changed, task.ID)
			}
			continue
		}
		if taskMoved(prev, task) {
			outcome.Changed = append(outcome.Changed, task.ID)
		}
		if prev.Scheduled() && task.Status == StatusUnscheduled {
			outcome.Demoted = append(outcome.Demoted, task.ID)
		}
	}
	for id, prev := range before {
		if _, still := store.Task(id); !still && prev.Scheduled() {
			outcome.Changed = append(outcome.Changed, id)
		}
	}
	sort.Strings(outcome.Changed)

	attemptedAt := h.now().UTC()
	for _, id := range impact.affected {
		prev, existed := before[id]
		if !existed || !prev.Scheduled() {
			continue
		}
		task, _ := store.Task(id)
		attempt := RescheduleAttempt{
			ID:          h.newID(),
			UserID:      store.UserID(),
			TaskID:      id,
			Type:        impact.attemptType,
			Trigger:     d.Kind,
			AttemptedAt: attemptedAt,
			OldWindow:   *prev.Assigned,
		}
		if task.Scheduled() {
			attempt.Success = true
			attempt.NewWindow = cloneWindow(task.Assigned)
		} else {
			attempt.FailureReason = task.Reason
		}
		outcome.Attempts = append(outcome.Attempts, attempt)
	}

	for _, id := range outcome.Demoted {
		alt, ok, err := h.SuggestAlternative(ctx, store, id)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			outcome.Alternatives = append(outcome.Alternatives, alt)
		}
	}

	logger.Info("disruption handled",
		"resolved", len(ids),
		"changed", len(outcome.Changed),
		"demoted", len(outcome.Demoted),
		"alternatives", len(outcome.Alternatives),
	)
	return outcome, nil
}

// SuggestAlternative searches a copy of store for a placement of taskID that
// overrides only the lowest-priority overridable focus blocks. The store
// itself is not modified.
func (h *DisruptionHandler) SuggestAlternative(ctx context.Context, store *ConstraintStore, taskID string) (Alternative, bool, error) {
	task, ok := store.Task(taskID)
	if !ok {
		return Alternative{}, false, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Status.Terminal() {
		return Alternative{}, false, nil
	}

	clone := store.Clone()
	detector, err := NewDetector(clone, h.solver.searchWindow(h.solver.now().UTC()))
	if err != nil {
		return Alternative{}, false, err
	}
	lowest, ok := detector.LowestOverridablePriority()
	if !ok {
		return Alternative{}, false, nil
	}

	override := OverrideUpTo(lowest)
	result, err := h.solver.Solve(ctx, clone, SolveOptions{TaskIDs: []string{taskID}, Override: &override})
	if err != nil {
		return Alternative{}, false, err
	}
	a, ok := result.Lookup(taskID)
	if !ok || !a.Scheduled() || len(a.OverriddenFocus) == 0 {
		return Alternative{}, false, nil
	}
	return Alternative{TaskID: taskID, Window: *a.Window, OverriddenFocus: a.OverriddenFocus}, true, nil
}

type impact struct {
	affected    []string
	freesTime   bool
	attemptType AttemptType
}

func (h *DisruptionHandler) apply(store *ConstraintStore, d Disruption) (impact, error) {
	now := h.now().UTC()
	result := impact{attemptType: AttemptConflict}

	switch d.Kind {
	case DisruptionFixedEventAdded:
		event := d.FixedEvent
		stampCreated(&event.CreatedAt, &event.UpdatedAt, now)
		if err := store.AddFixedEvent(event); err != nil {
			return impact{}, err
		}
		result.affected = overlappingTasks(store, []timewindow.Window{event.Window}, nil)

	case DisruptionFixedEventUpdated:
		event := d.FixedEvent
		event.UpdatedAt = now
		if _, err := store.UpdateFixedEvent(event); err != nil {
			return impact{}, err
		}
		result.affected = overlappingTasks(store, []timewindow.Window{event.Window}, nil)
		result.freesTime = true

	case DisruptionFixedEventRemoved:
		if _, err := store.RemoveFixedEvent(d.TargetID); err != nil {
			return impact{}, err
		}
		result.freesTime = true

	case DisruptionFocusBlockAdded:
		block := d.FocusBlock
		stampCreated(&block.CreatedAt, &block.UpdatedAt, now)
		if err := store.AddFocusBlock(block); err != nil {
			return impact{}, err
		}
		stored, _ := store.FocusBlock(block.ID)
		occurrences, err := store.FocusOccurrences(stored, h.solver.searchWindow(h.solver.now().UTC()))
		if err != nil {
			_, _ = store.RemoveFocusBlock(block.ID)
			return impact{}, err
		}
		windows := make([]timewindow.Window, 0, len(occurrences))
		for _, occ := range occurrences {
			windows = append(windows, occ.Window)
		}
		result.affected = overlappingTasks(store, windows, func(task Task) bool {
			return task.AllowFocusOverride && stored.Policy != PolicyBlock
		})

	case DisruptionFocusBlockRemoved:
		if _, err := store.RemoveFocusBlock(d.TargetID); err != nil {
			return impact{}, err
		}
		result.freesTime = true

	case DisruptionTaskAdded:
		task := d.Task
		stampCreated(&task.CreatedAt, &task.UpdatedAt, now)
		if err := store.AddTask(task); err != nil {
			return impact{}, err
		}
		result.affected = []string{task.ID}

	case DisruptionTaskEdited:
		task := d.Task
		task.UpdatedAt = now
		previous, err := store.UpdateTask(task)
		if err != nil {
			return impact{}, err
		}
		current, _ := store.Task(task.ID)
		result.attemptType = AttemptEdit
		if schedulingChanged(previous, current) || !current.Scheduled() {
			result.affected = []string{task.ID}
			result.freesTime = previous.Scheduled()
		}

	case DisruptionTaskCompleted, DisruptionTaskSkipped:
		to := StatusCompleted
		if d.Kind == DisruptionTaskSkipped {
			to = StatusSkipped
		}
		previous, err := store.TransitionTask(d.TargetID, to, now)
		if err != nil {
			return impact{}, err
		}
		result.freesTime = previous.Scheduled()

	case DisruptionTaskRemoved:
		previous, err := store.RemoveTask(d.TargetID)
		if err != nil {
			return impact{}, err
		}
		result.freesTime = previous.Scheduled()

	default:
		return impact{}, invalid("kind", fmt.Sprintf("unknown disruption %q", d.Kind))
	}
	return result, nil
}

// overlappingTasks returns scheduled tasks whose window overlaps any of
// windows, skipping those for which exempt reports true.
func overlappingTasks(store *ConstraintStore, windows []timewindow.Window, exempt func(Task) bool) []string {
	var ids []string
	for _, task := range store.Tasks() {
		if !task.Scheduled() {
			continue
		}
		if exempt != nil && exempt(task) {
			continue
		}
		for _, w := range windows {
			if timewindow.Overlaps(*task.Assigned, w) {
				ids = append(ids, task.ID)
				break
			}
		}
	}
	return ids
}

// schedulingChanged reports whether an edit touched a field the solver reads.
func schedulingChanged(a, b Task) bool {
	if a.Duration != b.Duration || a.MinDuration != b.MinDuration {
		return true
	}
	if a.Priority != b.Priority || a.TimeFlexible != b.TimeFlexible || a.DurationFlexible != b.DurationFlexible {
		return true
	}
	if a.AllowFocusOverride != b.AllowFocusOverride {
		return true
	}
	return compareOptionalTime(a.Deadline, b.Deadline, true) != 0 ||
		compareOptionalTime(a.EarliestStart, b.EarliestStart, true) != 0
}

func stampCreated(created, updated *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}
