package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/recurrence"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// ConstraintStore holds one user's fixed events, focus blocks and tasks.
//
// The store is not safe for concurrent use. Callers serialize access per user.
type ConstraintStore struct {
	userID string
	engine *recurrence.Engine

	fixed map[string]FixedEvent
	focus map[string]FocusBlock
	tasks map[string]Task
}

// NewConstraintStore returns an empty store for userID. Recurring focus
// blocks are expanded with engine, which defaults to UTC when nil.
func NewConstraintStore(userID string, engine *recurrence.Engine) *ConstraintStore {
	if engine == nil {
		engine = recurrence.NewEngine(nil)
	}
	return &ConstraintStore{
		userID: userID,
		engine: engine,
		fixed:  make(map[string]FixedEvent),
		focus:  make(map[string]FocusBlock),
		tasks:  make(map[string]Task),
	}
}

// LoadConstraintStore rebuilds a store from a persisted snapshot. Tasks keep
// their stored status and assignment.
func LoadConstraintStore(state State, engine *recurrence.Engine) (*ConstraintStore, error) {
	store := NewConstraintStore(state.UserID, engine)
	for _, event := range state.FixedEvents {
		if err := store.validateFixedEvent(&event); err != nil {
			return nil, err
		}
		store.fixed[event.ID] = event
	}
	for _, block := range state.FocusBlocks {
		block = cloneFocusBlock(block)
		if err := store.validateFocusBlock(&block); err != nil {
			return nil, err
		}
		store.focus[block.ID] = block
	}
	for _, task := range state.Tasks {
		if err := store.validateTask(&task); err != nil {
			return nil, err
		}
		if !task.Status.Valid() {
			return nil, invalid("status", fmt.Sprintf("unknown status %q", task.Status))
		}
		if task.Status == StatusScheduled && task.Assigned == nil {
			task.Status = StatusUnscheduled
		}
		store.tasks[task.ID] = cloneTask(task)
	}
	return store, nil
}

// UserID returns the owner of the store.
func (s *ConstraintStore) UserID() string { return s.userID }

// Engine returns the recurrence engine used for focus blocks.
func (s *ConstraintStore) Engine() *recurrence.Engine { return s.engine }

// Snapshot returns a deep copy of the store contents ordered by id.
func (s *ConstraintStore) Snapshot() State {
	state := State{UserID: s.userID}
	for _, id := range sortedKeys(s.fixed) {
		state.FixedEvents = append(state.FixedEvents, s.fixed[id])
	}
	for _, id := range sortedKeys(s.focus) {
		state.FocusBlocks = append(state.FocusBlocks, cloneFocusBlock(s.focus[id]))
	}
	for _, id := range sortedKeys(s.tasks) {
		state.Tasks = append(state.Tasks, cloneTask(s.tasks[id]))
	}
	return state
}

// Clone returns an independent copy of the store.
func (s *ConstraintStore) Clone() *ConstraintStore {
	clone := NewConstraintStore(s.userID, s.engine)
	for id, event := range s.fixed {
		clone.fixed[id] = event
	}
	for id, block := range s.focus {
		clone.focus[id] = cloneFocusBlock(block)
	}
	for id, task := range s.tasks {
		clone.tasks[id] = cloneTask(task)
	}
	return clone
}

// FixedEvent returns the event with id.
func (s *ConstraintStore) FixedEvent(id string) (FixedEvent, bool) {
	event, ok := s.fixed[id]
	return event, ok
}

// FixedEvents returns all events ordered by start.
func (s *ConstraintStore) FixedEvents() []FixedEvent {
	events := make([]FixedEvent, 0, len(s.fixed))
	for _, event := range s.fixed {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Window.Start().Equal(events[j].Window.Start()) {
			return events[i].Window.Start().Before(events[j].Window.Start())
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// AddFixedEvent inserts a new event. It fails with *OverlapError when the
// event overlaps another fixed event of the same user.
func (s *ConstraintStore) AddFixedEvent(event FixedEvent) error {
	if err := s.validateFixedEvent(&event); err != nil {
		return err
	}
	if _, exists := s.fixed[event.ID]; exists {
		return fmt.Errorf("%w: fixed event %s", ErrDuplicate, event.ID)
	}
	if err := s.checkFixedOverlap(event); err != nil {
		return err
	}
	s.fixed[event.ID] = event
	return nil
}

// UpdateFixedEvent replaces an existing event and returns the previous version.
func (s *ConstraintStore) UpdateFixedEvent(event FixedEvent) (FixedEvent, error) {
	if err := s.validateFixedEvent(&event); err != nil {
		return FixedEvent{}, err
	}
	previous, ok := s.fixed[event.ID]
	if !ok {
		return FixedEvent{}, fmt.Errorf("%w: fixed event %s", ErrNotFound, event.ID)
	}
	if err := s.checkFixedOverlap(event); err != nil {
		return FixedEvent{}, err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = previous.CreatedAt
	}
	s.fixed[event.ID] = event
	return previous, nil
}

// RemoveFixedEvent deletes an event and returns it.
func (s *ConstraintStore) RemoveFixedEvent(id string) (FixedEvent, error) {
	event, ok := s.fixed[id]
	if !ok {
		return FixedEvent{}, fmt.Errorf("%w: fixed event %s", ErrNotFound, id)
	}
	delete(s.fixed, id)
	return event, nil
}

// FocusBlock returns the block with id.
func (s *ConstraintStore) FocusBlock(id string) (FocusBlock, bool) {
	block, ok := s.focus[id]
	if !ok {
		return FocusBlock{}, false
	}
	return cloneFocusBlock(block), true
}

// FocusBlocks returns all blocks ordered by id.
func (s *ConstraintStore) FocusBlocks() []FocusBlock {
	blocks := make([]FocusBlock, 0, len(s.focus))
	for _, id := range sortedKeys(s.focus) {
		blocks = append(blocks, cloneFocusBlock(s.focus[id]))
	}
	return blocks
}

// AddFocusBlock inserts a new focus block.
func (s *ConstraintStore) AddFocusBlock(block FocusBlock) error {
	block = cloneFocusBlock(block)
	if err := s.validateFocusBlock(&block); err != nil {
		return err
	}
	if _, exists := s.focus[block.ID]; exists {
		return fmt.Errorf("%w: focus block %s", ErrDuplicate, block.ID)
	}
	s.focus[block.ID] = block
	return nil
}

// RemoveFocusBlock deletes a block and returns it.
func (s *ConstraintStore) RemoveFocusBlock(id string) (FocusBlock, error) {
	block, ok := s.focus[id]
	if !ok {
		return FocusBlock{}, fmt.Errorf("%w: focus block %s", ErrNotFound, id)
	}
	delete(s.focus, id)
	return block, nil
}

// FocusOccurrences expands block into concrete windows overlapping query.
// A rule too dense to expand over query is rejected as invalid so no part
// of the block is left unprotected.
func (s *ConstraintStore) FocusOccurrences(block FocusBlock, query timewindow.Window) ([]FocusWindow, error) {
	if block.Recurrence == nil {
		if !timewindow.Overlaps(block.Window, query) {
			return nil, nil
		}
		return []FocusWindow{{BlockID: block.ID, Window: block.Window, Policy: block.Policy, Priority: block.Priority}}, nil
	}

	rangeStart := query.Start()
	rangeEnd := query.End()
	occurrences, err := s.engine.GenerateOccurrences(*block.Recurrence, block.Window.Start(), block.Window.End(), recurrence.GenerateOptions{
		RangeStart: &rangeStart,
		RangeEnd:   &rangeEnd,
	})
	if errors.Is(err, recurrence.ErrTooManyOccurrences) {
		return nil, &InvalidError{Field: "recurrence", Message: "recurs too often to expand", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("expand focus block %s: %w", block.ID, err)
	}
	windows := make([]FocusWindow, 0, len(occurrences))
	for _, occ := range occurrences {
		w, err := timewindow.New(occ.Start, occ.End)
		if err != nil {
			continue
		}
		windows = append(windows, FocusWindow{BlockID: block.ID, Window: w, Policy: block.Policy, Priority: block.Priority})
	}
	return windows, nil
}

// Task returns the task with id.
func (s *ConstraintStore) Task(id string) (Task, bool) {
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return cloneTask(task), true
}

// Tasks returns all tasks ordered by id.
func (s *ConstraintStore) Tasks() []Task {
	tasks := make([]Task, 0, len(s.tasks))
	for _, id := range sortedKeys(s.tasks) {
		tasks = append(tasks, cloneTask(s.tasks[id]))
	}
	return tasks
}

// AddTask inserts a new task. New tasks always start unscheduled.
func (s *ConstraintStore) AddTask(task Task) error {
	if err := s.validateTask(&task); err != nil {
		return err
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task %s", ErrDuplicate, task.ID)
	}
	task.Status = StatusUnscheduled
	task.Assigned = nil
	task.Reason = ReasonNone
	task.OverriddenFocus = nil
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// UpdateTask replaces the editable fields of a task and returns the previous
// version. Status and assignment are kept; terminal tasks cannot be edited.
func (s *ConstraintStore) UpdateTask(task Task) (Task, error) {
	if err := s.validateTask(&task); err != nil {
		return Task{}, err
	}
	previous, ok := s.tasks[task.ID]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, task.ID)
	}
	if previous.Status.Terminal() {
		return Task{}, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, previous.Status)
	}
	task.Status = previous.Status
	task.Assigned = cloneWindow(previous.Assigned)
	task.Reason = previous.Reason
	task.OverriddenFocus = previous.OverriddenFocus
	if task.CreatedAt.IsZero() {
		task.CreatedAt = previous.CreatedAt
	}
	s.tasks[task.ID] = cloneTask(task)
	return cloneTask(previous), nil
}

// RemoveTask deletes a task and returns it.
func (s *ConstraintStore) RemoveTask(id string) (Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	delete(s.tasks, id)
	return task, nil
}

// TransitionTask moves a task to a user-driven status (completed or skipped).
// Terminal tasks accept no further transitions. The last assigned window is
// kept for history but no longer occupies time.
func (s *ConstraintStore) TransitionTask(id string, to TaskStatus, at time.Time) (Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if task.Status.Terminal() {
		return Task{}, fmt.Errorf("%w: task %s is already %s", ErrInvalidTransition, id, task.Status)
	}
	if !to.Terminal() {
		return Task{}, fmt.Errorf("%w: %s is assigned by the solver", ErrInvalidTransition, to)
	}
	previous := cloneTask(task)
	task.Status = to
	task.Reason = ReasonNone
	task.UpdatedAt = at
	s.tasks[id] = task
	return previous, nil
}

// ListActiveConstraints returns every occupied window overlapping query:
// fixed events, focus block occurrences and current task assignments,
// ordered by start.
func (s *ConstraintStore) ListActiveConstraints(query timewindow.Window) ([]Constraint, error) {
	var constraints []Constraint
	for _, event := range s.fixed {
		if timewindow.Overlaps(event.Window, query) {
			constraints = append(constraints, Constraint{Kind: KindFixedEvent, ID: event.ID, Window: event.Window})
		}
	}
	for _, id := range sortedKeys(s.focus) {
		windows, err := s.FocusOccurrences(s.focus[id], query)
		if err != nil {
			return nil, err
		}
		for _, fw := range windows {
			constraints = append(constraints, Constraint{
				Kind:     KindFocusBlock,
				ID:       fw.BlockID,
				Window:   fw.Window,
				Policy:   fw.Policy,
				Priority: fw.Priority,
			})
		}
	}
	for _, task := range s.tasks {
		if task.Scheduled() && timewindow.Overlaps(*task.Assigned, query) {
			constraints = append(constraints, Constraint{Kind: KindAssignment, ID: task.ID, Window: *task.Assigned})
		}
	}

	sort.SliceStable(constraints, func(i, j int) bool {
		a, b := constraints[i], constraints[j]
		if !a.Window.Start().Equal(b.Window.Start()) {
			return a.Window.Start().Before(b.Window.Start())
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return constraints, nil
}

// Assignments returns the current assignment of every non-terminal task.
func (s *ConstraintStore) Assignments() []Assignment {
	var out []Assignment
	for _, id := range sortedKeys(s.tasks) {
		task := s.tasks[id]
		if task.Status.Terminal() {
			continue
		}
		out = append(out, assignmentOf(task))
	}
	return out
}

func assignmentOf(task Task) Assignment {
	a := Assignment{TaskID: task.ID, Reason: task.Reason}
	if task.Scheduled() {
		a.Window = cloneWindow(task.Assigned)
		a.Shortened = task.Assigned.Duration() < task.Duration
		a.OverriddenFocus = append([]string(nil), task.OverriddenFocus...)
	}
	return a
}

func (s *ConstraintStore) assign(id string, w timewindow.Window, overrides []string) {
	task := s.tasks[id]
	task.Status = StatusScheduled
	task.Assigned = &w
	task.Reason = ReasonNone
	task.OverriddenFocus = overrides
	s.tasks[id] = task
}

func (s *ConstraintStore) unassign(id string, reason ReasonCode) {
	task := s.tasks[id]
	task.Status = StatusUnscheduled
	task.Assigned = nil
	task.Reason = reason
	task.OverriddenFocus = nil
	s.tasks[id] = task
}

func (s *ConstraintStore) checkFixedOverlap(event FixedEvent) error {
	for _, id := range sortedKeys(s.fixed) {
		other := s.fixed[id]
		if other.ID == event.ID {
			continue
		}
		if timewindow.Overlaps(other.Window, event.Window) {
			return &OverlapError{EventID: event.ID, ConflictingID: other.ID, Window: other.Window}
		}
	}
	return nil
}

func (s *ConstraintStore) validateOwner(userID *string) error {
	if *userID == "" {
		*userID = s.userID
	}
	if *userID != s.userID {
		return invalid("user_id", "belongs to a different user")
	}
	return nil
}

func (s *ConstraintStore) validateFixedEvent(event *FixedEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return invalid("id", "is required")
	}
	if err := s.validateOwner(&event.UserID); err != nil {
		return err
	}
	if event.Window.IsZero() {
		return invalid("window", "is required")
	}
	if event.Source == "" {
		event.Source = SourceUserManual
	}
	if !event.Source.Valid() {
		return invalid("source", fmt.Sprintf("unknown source %q", event.Source))
	}
	return nil
}

func (s *ConstraintStore) validateFocusBlock(block *FocusBlock) error {
	if strings.TrimSpace(block.ID) == "" {
		return invalid("id", "is required")
	}
	if err := s.validateOwner(&block.UserID); err != nil {
		return err
	}
	if block.Window.IsZero() {
		return invalid("window", "is required")
	}
	if block.Policy == "" {
		block.Policy = PolicyBlock
	}
	if !block.Policy.Valid() {
		return invalid("policy", fmt.Sprintf("unknown interruption policy %q", block.Policy))
	}
	if block.Recurrence != nil {
		if block.Recurrence.OwnerID == "" {
			block.Recurrence.OwnerID = block.ID
		}
		if block.Recurrence.StartsOn.IsZero() && block.Recurrence.RRule == "" {
			block.Recurrence.StartsOn = block.Window.Start()
		}
		if err := block.Recurrence.Validate(); err != nil {
			return invalidWrap("recurrence", err)
		}
	}
	return nil
}

func (s *ConstraintStore) validateTask(task *Task) error {
	if strings.TrimSpace(task.ID) == "" {
		return invalid("id", "is required")
	}
	if err := s.validateOwner(&task.UserID); err != nil {
		return err
	}
	if task.Duration <= 0 {
		return invalid("duration", "must be positive")
	}
	if !task.Category.Valid() {
		return invalid("category", fmt.Sprintf("unknown category %q", task.Category))
	}
	if task.DurationFlexible {
		if task.MinDuration < 0 {
			return invalid("min_duration", "must not be negative")
		}
		if task.MinDuration > task.Duration {
			return invalid("min_duration", "must not exceed duration")
		}
	} else {
		task.MinDuration = 0
	}
	if task.Deadline != nil && task.EarliestStart != nil && !task.Deadline.After(*task.EarliestStart) {
		return invalid("deadline", "must be after earliest start")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
