package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/visionary-scheduler/internal/logging"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

const (
	DefaultQuantum = 15 * time.Minute
	DefaultHorizon = 30 * 24 * time.Hour
	DefaultTimeout = 5 * time.Second
)

// ErrInvalidConfig is returned by NewSolver for unusable settings.
var ErrInvalidConfig = errors.New("scheduler: invalid solver config")

// SolverConfig tunes the placement search.
type SolverConfig struct {
	// Quantum is the start-time granularity.
	Quantum time.Duration
	// Horizon bounds how far ahead of now tasks are placed.
	Horizon time.Duration
	// Timeout bounds the wall-clock time of a single solve run.
	Timeout time.Duration
}

// DefaultSolverConfig returns the standard 15 minute grid over 30 days.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{Quantum: DefaultQuantum, Horizon: DefaultHorizon, Timeout: DefaultTimeout}
}

// Solver places tasks into free time with a deterministic greedy search.
//
// Placed windows never overlap each other, fixed events or blocking focus
// windows, and end by the task's deadline. A placement spans the full task
// duration unless the task is duration-flexible: then the solver may fall
// back to a shorter window no less than MinDuration and marks the
// assignment Shortened.
type Solver struct {
	cfg    SolverConfig
	now    func() time.Time
	clock  func() time.Time
	logger *slog.Logger
}

// NewSolver validates cfg and returns a solver. now supplies the scheduling
// reference time and defaults to time.Now.
func NewSolver(cfg SolverConfig, now func() time.Time, logger *slog.Logger) (*Solver, error) {
	if cfg.Quantum <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Horizon < cfg.Quantum {
		return nil, ErrInvalidConfig
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{cfg: cfg, now: now, clock: time.Now, logger: logger}, nil
}

// Config returns the solver settings.
func (s *Solver) Config() SolverConfig { return s.cfg }

// Horizon returns the planning window starting at the next quantum boundary.
func (s *Solver) Horizon() timewindow.Window {
	return s.horizonAt(s.now().UTC())
}

func (s *Solver) horizonAt(now time.Time) timewindow.Window {
	start := timewindow.RoundUp(now, s.cfg.Quantum)
	return timewindow.MustNew(start, start.Add(s.cfg.Horizon))
}

// searchWindow spans every start place can choose. Pinned tasks may start
// at now itself, ahead of the horizon's first grid point.
func (s *Solver) searchWindow(now time.Time) timewindow.Window {
	return timewindow.MustNew(now, s.horizonAt(now).End())
}

// SolveOptions selects which tasks a run considers.
type SolveOptions struct {
	// Full clears every non-terminal assignment and re-places all tasks.
	Full bool
	// TaskIDs restricts the run to these tasks. Their current assignments
	// are cleared first; every other assignment stays fixed.
	TaskIDs []string
	// Override applies to every task in the run in addition to the task's
	// own AllowFocusOverride flag.
	Override *FocusOverride
}

// Result reports the outcome of a solve run.
type Result struct {
	Assignments []Assignment
	// Changed lists tasks whose status or window differs from before the run.
	Changed []string
	Partial bool
	Horizon timewindow.Window
}

// Lookup returns the assignment for taskID within the run.
func (r Result) Lookup(taskID string) (Assignment, bool) {
	for _, a := range r.Assignments {
		if a.TaskID == taskID {
			return a, true
		}
	}
	return Assignment{}, false
}

// Unscheduled returns the ids of tasks the run could not place.
func (r Result) Unscheduled() []string {
	var ids []string
	for _, a := range r.Assignments {
		if !a.Scheduled() {
			ids = append(ids, a.TaskID)
		}
	}
	return ids
}

// Solve places the selected tasks into store, mutating their assignments.
// Infeasible tasks become unscheduled with a reason rather than failing the
// run. When the timeout or ctx expires, the remaining tasks are marked with
// ReasonSolveTimeout and the result is partial.
func (s *Solver) Solve(ctx context.Context, store *ConstraintStore, opts SolveOptions) (Result, error) {
	started := s.clock()
	now := s.now().UTC()
	horizon := s.horizonAt(now)

	logger := logging.FromContextOr(ctx, s.logger).With("component", "solver", "user_id", store.UserID())

	selected := s.selectTasks(store, opts)
	before := make(map[string]Task, len(selected))
	for _, task := range selected {
		before[task.ID] = task
		if task.Scheduled() {
			store.unassign(task.ID, ReasonNone)
		}
	}

	detector, err := NewDetector(store, s.searchWindow(now))
	if err != nil {
		for _, task := range selected {
			store.tasks[task.ID] = task
		}
		return Result{}, err
	}

	orderTasks(selected)
	deadline := started.Add(s.cfg.Timeout)

	result := Result{Horizon: horizon, Assignments: make([]Assignment, 0, len(selected))}
	for i, task := range selected {
		if ctx.Err() != nil || s.clock().After(deadline) {
			for _, rest := range selected[i:] {
				store.unassign(rest.ID, ReasonSolveTimeout)
				result.Assignments = append(result.Assignments, Assignment{TaskID: rest.ID, Reason: ReasonSolveTimeout})
			}
			result.Partial = true
			break
		}

		override := FocusOverride{}
		if opts.Override != nil {
			override = *opts.Override
		}
		if task.AllowFocusOverride && !override.Enabled {
			override = OverrideAll()
		}

		a := s.place(detector, task, now, horizon, override)
		if a.Scheduled() {
			detector.Commit(task.ID, *a.Window)
			store.assign(task.ID, *a.Window, a.OverriddenFocus)
		} else {
			store.unassign(task.ID, a.Reason)
		}
		result.Assignments = append(result.Assignments, a)
	}

	for _, task := range selected {
		after := store.tasks[task.ID]
		if taskMoved(before[task.ID], after) {
			result.Changed = append(result.Changed, task.ID)
		}
	}
	sort.Strings(result.Changed)

	logger.Debug("solve finished",
		"tasks", len(selected),
		"changed", len(result.Changed),
		"unscheduled", len(result.Unscheduled()),
		"partial", result.Partial,
		"elapsed", s.clock().Sub(started),
	)
	if result.Partial {
		logger.Warn("solve timed out", "timeout", s.cfg.Timeout)
	}
	return result, nil
}

func (s *Solver) selectTasks(store *ConstraintStore, opts SolveOptions) []Task {
	var selected []Task
	switch {
	case opts.Full:
		for _, task := range store.Tasks() {
			if !task.Status.Terminal() {
				selected = append(selected, task)
			}
		}
	case len(opts.TaskIDs) > 0:
		seen := make(map[string]struct{}, len(opts.TaskIDs))
		for _, id := range opts.TaskIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			task, ok := store.Task(id)
			if !ok || task.Status.Terminal() {
				continue
			}
			selected = append(selected, task)
		}
	default:
		for _, task := range store.Tasks() {
			if task.Status == StatusUnscheduled {
				selected = append(selected, task)
			}
		}
	}
	return selected
}

// place finds the earliest feasible window for task, trying shorter lengths
// for duration-flexible tasks when the full length does not fit.
func (s *Solver) place(detector *Detector, task Task, now time.Time, horizon timewindow.Window, override FocusOverride) Assignment {
	fixedStart := !task.TimeFlexible && task.EarliestStart != nil

	var lower time.Time
	if fixedStart {
		lower = task.EarliestStart.UTC()
		if lower.Before(now) {
			return Assignment{TaskID: task.ID, Reason: ReasonNoFeasibleWindow}
		}
	} else {
		lower = now
		if task.EarliestStart != nil && task.EarliestStart.After(lower) {
			lower = task.EarliestStart.UTC()
		}
		lower = timewindow.RoundUp(lower, s.cfg.Quantum)
	}

	upper := horizon.End()
	if task.Deadline != nil && task.Deadline.Before(upper) {
		upper = task.Deadline.UTC()
	}

	for _, length := range s.candidateLengths(task) {
		w, ok := s.scan(detector, lower, upper, length, override, fixedStart)
		if !ok {
			continue
		}
		return Assignment{
			TaskID:          task.ID,
			Window:          &w,
			Shortened:       length < task.Duration,
			OverriddenFocus: detector.Overridden(w, override),
		}
	}
	return Assignment{TaskID: task.ID, Reason: ReasonNoFeasibleWindow}
}

// scan walks grid-aligned starts from lower. On conflict it jumps to the
// first grid point at or after the conflicting window's end, which skips
// only starts that would collide with the same window.
func (s *Solver) scan(detector *Detector, lower, upper time.Time, length time.Duration, override FocusOverride, fixedStart bool) (timewindow.Window, bool) {
	for t := lower; !t.Add(length).After(upper); {
		candidate := timewindow.MustNew(t, t.Add(length))
		conflict, blocked := detector.Check(candidate, override)
		if !blocked {
			return candidate, true
		}
		if fixedStart {
			break
		}
		t = nextCandidate(t, conflict, s.cfg.Quantum)
	}
	return timewindow.Window{}, false
}

// candidateLengths returns the full duration followed, for duration-flexible
// tasks, by lengths one quantum shorter down to MinDuration.
func (s *Solver) candidateLengths(task Task) []time.Duration {
	lengths := []time.Duration{task.Duration}
	if !task.DurationFlexible || task.MinDuration <= 0 || task.MinDuration >= task.Duration {
		return lengths
	}
	for l := task.Duration - s.cfg.Quantum; l > task.MinDuration; l -= s.cfg.Quantum {
		lengths = append(lengths, l)
	}
	return append(lengths, task.MinDuration)
}

// orderTasks sorts by deadline (none last), priority descending, earliest
// start, creation time and finally id so runs are reproducible.
func orderTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if c := compareOptionalTime(a.Deadline, b.Deadline, false); c != 0 {
			return c < 0
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if c := compareOptionalTime(a.EarliestStart, b.EarliestStart, true); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// compareOptionalTime orders nil before or after set values per nilFirst.
func compareOptionalTime(a, b *time.Time, nilFirst bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if nilFirst {
			return -1
		}
		return 1
	case b == nil:
		if nilFirst {
			return 1
		}
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}

func taskMoved(before, after Task) bool {
	if before.Status != after.Status {
		return true
	}
	switch {
	case before.Assigned == nil && after.Assigned == nil:
		return false
	case before.Assigned == nil || after.Assigned == nil:
		return true
	}
	return !before.Assigned.Equal(*after.Assigned)
}
