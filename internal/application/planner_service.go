package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/notify"
	"github.com/example/visionary-scheduler/internal/persistence"
	"github.com/example/visionary-scheduler/internal/recurrence"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// PlannerDeps wires the planner's collaborators. States and Handler are
// required; the rest are optional.
type PlannerDeps struct {
	States      persistence.StateRepository
	Attempts    persistence.AttemptRepository
	Handler     *scheduler.DisruptionHandler
	Engine      *recurrence.Engine
	Categorizer categorize.Categorizer
	Publisher   notify.Publisher
	IDGenerator func() string
	Now         func() time.Time
	CacheTTL    time.Duration
	// FeedLocation interprets floating times in imported calendars.
	FeedLocation *time.Location
	// MaxOccurrencesPerEvent caps the expansion of one imported series.
	MaxOccurrencesPerEvent int
	Logger                 *slog.Logger
}

// PlannerService loads a user's constraints, applies one change through the
// disruption handler, persists the result and notifies subscribers. Changes
// for the same user are serialized.
type PlannerService struct {
	states         persistence.StateRepository
	attempts       persistence.AttemptRepository
	handler        *scheduler.DisruptionHandler
	engine         *recurrence.Engine
	categorizer    categorize.Categorizer
	publisher      notify.Publisher
	queue          *userQueue
	cache          *scheduleCache
	idGenerator    func() string
	now            func() time.Time
	feedLocation   *time.Location
	maxOccurrences int
	logger         *slog.Logger
}

// NewPlannerService validates deps and constructs the service.
func NewPlannerService(deps PlannerDeps) (*PlannerService, error) {
	if deps.States == nil || deps.Handler == nil {
		return nil, fmt.Errorf("%w: state repository and disruption handler are required", ErrNotConfigured)
	}
	if deps.IDGenerator == nil {
		return nil, fmt.Errorf("%w: id generator is required", ErrNotConfigured)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Engine == nil {
		deps.Engine = recurrence.NewEngine(nil)
	}
	if deps.FeedLocation == nil {
		deps.FeedLocation = deps.Engine.Location()
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.NewLogPublisher(deps.Logger)
	}
	logger := defaultLogger(deps.Logger)
	return &PlannerService{
		states:         deps.States,
		attempts:       deps.Attempts,
		handler:        deps.Handler,
		engine:         deps.Engine,
		categorizer:    deps.Categorizer,
		publisher:      deps.Publisher,
		queue:          newUserQueue(logger),
		cache:          newScheduleCache(deps.CacheTTL, 0, deps.Now),
		idGenerator:    deps.IDGenerator,
		now:            deps.Now,
		feedLocation:   deps.FeedLocation,
		maxOccurrences: deps.MaxOccurrencesPerEvent,
		logger:         logger,
	}, nil
}

func (s *PlannerService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "PlannerService", operation, attrs...)
}

// changeFunc mutates a freshly loaded store and reports the outcomes.
type changeFunc func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error)

// mutate runs change inside the user's queue: load, change, persist the
// state together with the reschedule attempts, invalidate the cached view
// and publish. Nothing is persisted when change fails.
func (s *PlannerService) mutate(ctx context.Context, userID string, change changeFunc) (ChangeResult, error) {
	var result ChangeResult
	err := s.queue.Do(ctx, userID, func(ctx context.Context) error {
		store, err := s.loadStore(ctx, userID)
		if err != nil {
			return err
		}
		outcomes, err := change(ctx, store)
		if err != nil {
			return err
		}
		result = mergeOutcomes(store, outcomes)

		var attempts []scheduler.RescheduleAttempt
		for _, o := range outcomes {
			attempts = append(attempts, o.Attempts...)
		}
		if err := s.states.SaveChange(ctx, store.Snapshot(), attempts); err != nil {
			return mapRepoError(err)
		}
		s.cache.Invalidate(userID)
		s.publish(ctx, userID, result)
		return nil
	})
	if err != nil {
		return ChangeResult{}, mapChangeError(err)
	}
	return result, nil
}

// applyOne handles a single disruption; after reads the store once the
// disruption has been applied.
func (s *PlannerService) applyOne(ctx context.Context, userID string, d scheduler.Disruption, after func(*scheduler.ConstraintStore)) (ChangeResult, error) {
	return s.mutate(ctx, userID, func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error) {
		outcome, err := s.handler.Handle(ctx, store, d)
		if err != nil {
			return nil, err
		}
		if after != nil {
			after(store)
		}
		return []scheduler.Outcome{outcome}, nil
	})
}

func (s *PlannerService) loadStore(ctx context.Context, userID string) (*scheduler.ConstraintStore, error) {
	state, err := s.states.LoadState(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	state.UserID = userID
	return scheduler.LoadConstraintStore(state, s.engine)
}

func (s *PlannerService) publish(ctx context.Context, userID string, result ChangeResult) {
	event := scheduler.ScheduleChanged{
		UserID:             userID,
		ChangedTaskIDs:     append([]string{}, result.Changed...),
		UnscheduledTaskIDs: append([]string{}, result.Unscheduled...),
		OccurredAt:         s.now().UTC(),
	}
	if event.Empty() {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.loggerWith(ctx, "publish", "user_id", userID).
			ErrorContext(ctx, "failed to publish schedule change", "error", err, "error_kind", ErrorKind(err))
	}
}

// AddFixedEvent records a user-entered fixed event and moves the tasks it displaces.
func (s *PlannerService) AddFixedEvent(ctx context.Context, userID string, input FixedEventInput) (event scheduler.FixedEvent, change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "AddFixedEvent", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add fixed event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("event_id", event.ID, "changed", len(change.Changed)).InfoContext(ctx, "fixed event added")
	}()

	window, vErr := validateFixedEventInput(userID, input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	event = scheduler.FixedEvent{
		ID:     s.idGenerator(),
		UserID: userID,
		Title:  strings.TrimSpace(input.Title),
		Window: window,
		Source: scheduler.SourceUserManual,
	}
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: scheduler.DisruptionFixedEventAdded, FixedEvent: event}, func(store *scheduler.ConstraintStore) {
		event, _ = store.FixedEvent(event.ID)
	})
	return
}

// UpdateFixedEvent moves or renames a fixed event. Source and calendar
// identity are kept.
func (s *PlannerService) UpdateFixedEvent(ctx context.Context, userID, eventID string, input FixedEventInput) (event scheduler.FixedEvent, change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "UpdateFixedEvent", "user_id", userID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update fixed event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", len(change.Changed)).InfoContext(ctx, "fixed event updated")
	}()

	window, vErr := validateFixedEventInput(userID, input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	change, err = s.mutate(ctx, userID, func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error) {
		existing, ok := store.FixedEvent(eventID)
		if !ok {
			return nil, fmt.Errorf("%w: fixed event %s", ErrNotFound, eventID)
		}
		updated := existing
		updated.Title = strings.TrimSpace(input.Title)
		updated.Window = window
		outcome, err := s.handler.Handle(ctx, store, scheduler.Disruption{Kind: scheduler.DisruptionFixedEventUpdated, FixedEvent: updated})
		if err != nil {
			return nil, err
		}
		event, _ = store.FixedEvent(eventID)
		return []scheduler.Outcome{outcome}, nil
	})
	return
}

// RemoveFixedEvent deletes a fixed event; the freed time is offered to
// unscheduled tasks.
func (s *PlannerService) RemoveFixedEvent(ctx context.Context, userID, eventID string) (change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "RemoveFixedEvent", "user_id", userID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove fixed event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", len(change.Changed)).InfoContext(ctx, "fixed event removed")
	}()

	if err = requireUser(userID); err != nil {
		return
	}
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: scheduler.DisruptionFixedEventRemoved, TargetID: eventID}, nil)
	return
}

// ListFixedEvents returns the user's fixed events ordered by start.
func (s *PlannerService) ListFixedEvents(ctx context.Context, userID string) ([]scheduler.FixedEvent, error) {
	store, err := s.readStore(ctx, userID)
	if err != nil {
		return nil, err
	}
	return store.FixedEvents(), nil
}

// AddFocusBlock protects a window or a recurring window from task placement.
func (s *PlannerService) AddFocusBlock(ctx context.Context, userID string, input FocusBlockInput) (block scheduler.FocusBlock, change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "AddFocusBlock", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add focus block", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("focus_block_id", block.ID, "changed", len(change.Changed)).InfoContext(ctx, "focus block added")
	}()

	block, vErr := s.focusBlockFromInput(userID, input)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: scheduler.DisruptionFocusBlockAdded, FocusBlock: block}, func(store *scheduler.ConstraintStore) {
		block, _ = store.FocusBlock(block.ID)
	})
	return
}

// RemoveFocusBlock deletes a focus block.
func (s *PlannerService) RemoveFocusBlock(ctx context.Context, userID, blockID string) (change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "RemoveFocusBlock", "user_id", userID, "focus_block_id", blockID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove focus block", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", len(change.Changed)).InfoContext(ctx, "focus block removed")
	}()

	if err = requireUser(userID); err != nil {
		return
	}
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: scheduler.DisruptionFocusBlockRemoved, TargetID: blockID}, nil)
	return
}

// ListFocusBlocks returns the user's focus blocks ordered by id.
func (s *PlannerService) ListFocusBlocks(ctx context.Context, userID string) ([]scheduler.FocusBlock, error) {
	store, err := s.readStore(ctx, userID)
	if err != nil {
		return nil, err
	}
	return store.FocusBlocks(), nil
}

// AddTask creates a task and places it.
func (s *PlannerService) AddTask(ctx context.Context, userID string, input TaskInput) (task scheduler.Task, change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "AddTask", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add task", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("task_id", task.ID, "status", string(task.Status)).InfoContext(ctx, "task added")
	}()

	task, vErr := taskFromInput(userID, input)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	task.ID = s.idGenerator()
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: scheduler.DisruptionTaskAdded, Task: task}, func(store *scheduler.ConstraintStore) {
		task, _ = store.Task(task.ID)
	})
	return
}

// UpdateTask replaces the editable fields of a task. The task is re-placed
// only when a field the solver reads changed.
func (s *PlannerService) UpdateTask(ctx context.Context, userID, taskID string, input TaskInput) (task scheduler.Task, change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "UpdateTask", "user_id", userID, "task_id", taskID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update task", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("status", string(task.Status), "changed", len(change.Changed)).InfoContext(ctx, "task updated")
	}()

	task, vErr := taskFromInput(userID, input)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	task.ID = taskID
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: scheduler.DisruptionTaskEdited, Task: task}, func(store *scheduler.ConstraintStore) {
		task, _ = store.Task(taskID)
	})
	return
}

// RemoveTask deletes a task.
func (s *PlannerService) RemoveTask(ctx context.Context, userID, taskID string) (ChangeResult, error) {
	return s.taskChange(ctx, "RemoveTask", userID, taskID, scheduler.DisruptionTaskRemoved)
}

// CompleteTask marks a task completed and releases its window.
func (s *PlannerService) CompleteTask(ctx context.Context, userID, taskID string) (ChangeResult, error) {
	return s.taskChange(ctx, "CompleteTask", userID, taskID, scheduler.DisruptionTaskCompleted)
}

// SkipTask marks a task skipped and releases its window.
func (s *PlannerService) SkipTask(ctx context.Context, userID, taskID string) (ChangeResult, error) {
	return s.taskChange(ctx, "SkipTask", userID, taskID, scheduler.DisruptionTaskSkipped)
}

func (s *PlannerService) taskChange(ctx context.Context, operation, userID, taskID string, kind scheduler.DisruptionKind) (change ChangeResult, err error) {
	logger := s.loggerWith(ctx, operation, "user_id", userID, "task_id", taskID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to change task", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("kind", string(kind), "changed", len(change.Changed)).InfoContext(ctx, "task changed")
	}()

	if err = requireUser(userID); err != nil {
		return
	}
	change, err = s.applyOne(ctx, userID, scheduler.Disruption{Kind: kind, TargetID: taskID}, nil)
	return
}

// GetTask returns one task.
func (s *PlannerService) GetTask(ctx context.Context, userID, taskID string) (scheduler.Task, error) {
	store, err := s.readStore(ctx, userID)
	if err != nil {
		return scheduler.Task{}, err
	}
	task, ok := store.Task(taskID)
	if !ok {
		return scheduler.Task{}, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return task, nil
}

// ListTasks returns every task of the user ordered by id.
func (s *PlannerService) ListTasks(ctx context.Context, userID string) ([]scheduler.Task, error) {
	store, err := s.readStore(ctx, userID)
	if err != nil {
		return nil, err
	}
	return store.Tasks(), nil
}

// Solve places the user's unscheduled tasks, or every open task when full
// is set. Tasks still unplaced afterwards get alternatives where overriding
// low-priority focus blocks would help.
func (s *PlannerService) Solve(ctx context.Context, userID string, full bool) (change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "Solve", "user_id", userID, "full", full)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to solve", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", len(change.Changed), "unscheduled", len(change.Unscheduled), "partial", change.Partial).
			InfoContext(ctx, "schedule solved")
	}()

	if err = requireUser(userID); err != nil {
		return
	}
	change, err = s.mutate(ctx, userID, func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error) {
		return s.solveStore(ctx, store, scheduler.SolveOptions{Full: full})
	})
	return
}

// solveStore runs the solver over store and suggests alternatives for every
// task left unscheduled.
func (s *PlannerService) solveStore(ctx context.Context, store *scheduler.ConstraintStore, opts scheduler.SolveOptions) ([]scheduler.Outcome, error) {
	result, err := s.handler.Solver().Solve(ctx, store, opts)
	if err != nil {
		return nil, err
	}
	outcome := scheduler.Outcome{Result: result, Changed: result.Changed, Unscheduled: result.Unscheduled()}
	for _, id := range outcome.Unscheduled {
		alt, ok, err := s.handler.SuggestAlternative(ctx, store, id)
		if err != nil {
			return nil, err
		}
		if ok {
			outcome.Alternatives = append(outcome.Alternatives, alt)
		}
	}
	return []scheduler.Outcome{outcome}, nil
}

// SolveAll refreshes every stored user: placements that start before now
// are recomputed together with the unscheduled tasks, and every other
// placement stays where it is. Failures are joined.
func (s *PlannerService) SolveAll(ctx context.Context) error {
	userIDs, err := s.states.ListUserIDs(ctx)
	if err != nil {
		return mapRepoError(err)
	}
	var errs []error
	for _, userID := range userIDs {
		if _, err := s.refreshStale(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *PlannerService) refreshStale(ctx context.Context, userID string) (change ChangeResult, err error) {
	logger := s.loggerWith(ctx, "SolveAll", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to refresh schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", len(change.Changed), "unscheduled", len(change.Unscheduled)).
			InfoContext(ctx, "schedule refreshed")
	}()

	return s.mutate(ctx, userID, func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error) {
		ids := staleOrOpenTasks(store, s.now().UTC())
		if len(ids) == 0 {
			return nil, nil
		}
		return s.solveStore(ctx, store, scheduler.SolveOptions{TaskIDs: ids})
	})
}

// staleOrOpenTasks lists unscheduled tasks and scheduled tasks whose window
// starts before now.
func staleOrOpenTasks(store *scheduler.ConstraintStore, now time.Time) []string {
	var ids []string
	for _, task := range store.Tasks() {
		switch {
		case task.Status == scheduler.StatusUnscheduled:
			ids = append(ids, task.ID)
		case task.Scheduled() && task.Assigned.Start().Before(now):
			ids = append(ids, task.ID)
		}
	}
	return ids
}

// GetSchedule returns the user's schedule over the planning horizon.
func (s *PlannerService) GetSchedule(ctx context.Context, userID string) (ScheduleView, error) {
	if err := requireUser(userID); err != nil {
		return ScheduleView{}, err
	}
	if view, ok := s.cache.Get(userID); ok {
		return view, nil
	}

	var view ScheduleView
	err := s.queue.Do(ctx, userID, func(ctx context.Context) error {
		store, err := s.loadStore(ctx, userID)
		if err != nil {
			return err
		}
		view, err = s.buildView(store)
		if err != nil {
			return err
		}
		s.cache.Store(userID, view)
		return nil
	})
	if err != nil {
		err = mapChangeError(err)
		s.loggerWith(ctx, "GetSchedule", "user_id", userID).
			ErrorContext(ctx, "failed to build schedule", "error", err, "error_kind", ErrorKind(err))
		return ScheduleView{}, err
	}
	return view, nil
}

func (s *PlannerService) buildView(store *scheduler.ConstraintStore) (ScheduleView, error) {
	horizon := s.handler.Solver().Horizon()
	view := ScheduleView{UserID: store.UserID(), Horizon: horizon, GeneratedAt: s.now().UTC()}

	for _, event := range store.FixedEvents() {
		if timewindow.Overlaps(event.Window, horizon) {
			view.FixedEvents = append(view.FixedEvents, event)
		}
	}
	for _, block := range store.FocusBlocks() {
		windows, err := store.FocusOccurrences(block, horizon)
		if err != nil {
			return ScheduleView{}, err
		}
		view.Focus = append(view.Focus, windows...)
	}
	sort.SliceStable(view.Focus, func(i, j int) bool {
		return view.Focus[i].Window.Start().Before(view.Focus[j].Window.Start())
	})

	for _, task := range store.Tasks() {
		switch {
		case task.Scheduled():
			view.Scheduled = append(view.Scheduled, task)
		case task.Status == scheduler.StatusUnscheduled:
			view.Unscheduled = append(view.Unscheduled, task)
		}
	}
	sort.SliceStable(view.Scheduled, func(i, j int) bool {
		return view.Scheduled[i].Assigned.Start().Before(view.Scheduled[j].Assigned.Start())
	})
	return view, nil
}

// SuggestAlternative reports a placement for taskID that overrides the
// lowest-priority overridable focus blocks. Nothing is committed.
func (s *PlannerService) SuggestAlternative(ctx context.Context, userID, taskID string) (scheduler.Alternative, bool, error) {
	store, err := s.readStore(ctx, userID)
	if err != nil {
		return scheduler.Alternative{}, false, err
	}
	alt, ok, err := s.handler.SuggestAlternative(ctx, store, taskID)
	if err != nil {
		return scheduler.Alternative{}, false, mapChangeError(err)
	}
	return alt, ok, nil
}

// ListAttempts returns the reschedule audit trail, optionally for one task.
func (s *PlannerService) ListAttempts(ctx context.Context, userID, taskID string) ([]scheduler.RescheduleAttempt, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, fmt.Errorf("%w: attempt repository", ErrNotConfigured)
	}
	attempts, err := s.attempts.ListAttempts(ctx, userID, taskID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return attempts, nil
}

// readStore loads a store for a read that needs no serialization.
func (s *PlannerService) readStore(ctx context.Context, userID string) (*scheduler.ConstraintStore, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	store, err := s.loadStore(ctx, userID)
	if err != nil {
		return nil, mapChangeError(err)
	}
	return store, nil
}

func mergeOutcomes(store *scheduler.ConstraintStore, outcomes []scheduler.Outcome) ChangeResult {
	changed := make(map[string]struct{})
	touched := make(map[string]struct{})
	demoted := make(map[string]struct{})
	alternatives := make(map[string]scheduler.Alternative)
	var result ChangeResult

	for _, o := range outcomes {
		for _, id := range o.Changed {
			changed[id] = struct{}{}
		}
		for _, id := range o.Unscheduled {
			touched[id] = struct{}{}
		}
		for _, id := range o.Demoted {
			demoted[id] = struct{}{}
		}
		for _, alt := range o.Alternatives {
			alternatives[alt.TaskID] = alt
		}
		result.Partial = result.Partial || o.Result.Partial
	}

	stillUnscheduled := func(id string) bool {
		task, ok := store.Task(id)
		return ok && task.Status == scheduler.StatusUnscheduled
	}

	result.Changed = setToSorted(changed, nil)
	result.Unscheduled = setToSorted(touched, stillUnscheduled)
	result.Demoted = setToSorted(demoted, stillUnscheduled)
	for _, id := range setToSorted(touched, stillUnscheduled) {
		if alt, ok := alternatives[id]; ok {
			result.Alternatives = append(result.Alternatives, alt)
		}
	}
	return result
}

func setToSorted(set map[string]struct{}, keep func(string) bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		if keep == nil || keep(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) != "" {
		return nil
	}
	vErr := &ValidationError{}
	vErr.add("user_id", "user id is required")
	return vErr
}

func validateFixedEventInput(userID string, input FixedEventInput) (timewindow.Window, *ValidationError) {
	vErr := &ValidationError{}
	if err := requireUser(userID); err != nil {
		vErr.merge(err.(*ValidationError))
	}
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	window, ok := validateWindow(input.Start, input.End, vErr)
	if !ok {
		return timewindow.Window{}, vErr
	}
	return window, vErr
}

func validateWindow(start, end time.Time, vErr *ValidationError) (timewindow.Window, bool) {
	switch {
	case start.IsZero():
		vErr.add("start", "start is required")
	case end.IsZero():
		vErr.add("end", "end is required")
	}
	if start.IsZero() || end.IsZero() {
		return timewindow.Window{}, false
	}
	window, err := timewindow.New(start.UTC(), end.UTC())
	if err != nil {
		vErr.add("time", "start must be before end")
		return timewindow.Window{}, false
	}
	return window, true
}

func (s *PlannerService) focusBlockFromInput(userID string, input FocusBlockInput) (scheduler.FocusBlock, *ValidationError) {
	vErr := &ValidationError{}
	if err := requireUser(userID); err != nil {
		vErr.merge(err.(*ValidationError))
	}
	window, _ := validateWindow(input.Start, input.End, vErr)
	if input.Policy != "" && !input.Policy.Valid() {
		vErr.add("policy", "policy must be one of block, defer, notify")
	}

	block := scheduler.FocusBlock{
		ID:       s.idGenerator(),
		UserID:   userID,
		Title:    strings.TrimSpace(input.Title),
		Window:   window,
		Policy:   input.Policy,
		Priority: input.Priority,
	}
	if rec := input.Recurrence; rec != nil {
		rule := &recurrence.Rule{
			ID:       block.ID,
			OwnerID:  block.ID,
			RRule:    strings.TrimSpace(rec.RRule),
			Interval: rec.Interval,
			Weekdays: append([]time.Weekday(nil), rec.Weekdays...),
		}
		if rule.RRule == "" {
			rule.Frequency = recurrence.ParseFrequency(rec.Frequency)
			if rule.Frequency == recurrence.FrequencyUnspecified {
				vErr.add("recurrence.frequency", "frequency must be daily or weekly")
			}
			if rule.Frequency == recurrence.FrequencyWeekly && len(rule.Weekdays) == 0 && !window.IsZero() {
				rule.Weekdays = []time.Weekday{window.Start().In(s.engine.Location()).Weekday()}
			}
		}
		if rec.Until != nil {
			until := rec.Until.UTC()
			rule.EndsOn = &until
		}
		if rec.Interval < 0 {
			vErr.add("recurrence.interval", "interval must not be negative")
		}
		block.Recurrence = rule
	}
	return block, vErr
}

func taskFromInput(userID string, input TaskInput) (scheduler.Task, *ValidationError) {
	vErr := &ValidationError{}
	if err := requireUser(userID); err != nil {
		vErr.merge(err.(*ValidationError))
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		vErr.add("title", "title is required")
	}
	if input.Duration <= 0 {
		vErr.add("duration", "duration must be positive")
	}
	if input.MinDuration < 0 {
		vErr.add("min_duration", "minimum duration must not be negative")
	} else if input.MinDuration > input.Duration && input.Duration > 0 {
		vErr.add("min_duration", "minimum duration must not exceed duration")
	}
	if !input.Category.Valid() {
		vErr.add("category", "category must be one of financial, health, nutrition, psychological, task")
	}
	if input.Deadline != nil && input.EarliestStart != nil && !input.Deadline.After(*input.EarliestStart) {
		vErr.add("deadline", "deadline must be after earliest start")
	}
	confidence := 1.0
	if input.Confidence != nil {
		confidence = *input.Confidence
		if confidence < 0 || confidence > 1 {
			vErr.add("confidence", "confidence must be between 0 and 1")
		}
	}
	timeFlexible := true
	if input.TimeFlexible != nil {
		timeFlexible = *input.TimeFlexible
	}
	if !timeFlexible && input.EarliestStart == nil {
		vErr.add("earliest_start", "a fixed-start task needs an earliest start")
	}

	task := scheduler.Task{
		UserID:             userID,
		Title:              title,
		Category:           input.Category,
		Duration:           input.Duration,
		MinDuration:        input.MinDuration,
		Deadline:           utcPtr(input.Deadline),
		EarliestStart:      utcPtr(input.EarliestStart),
		Priority:           input.Priority,
		TimeFlexible:       timeFlexible,
		DurationFlexible:   input.MinDuration > 0,
		AllowFocusOverride: input.AllowFocusOverride,
		Confidence:         confidence,
		Status:             scheduler.StatusUnscheduled,
	}
	return task, vErr
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// mapChangeError translates store and persistence errors into the
// service's error vocabulary. Overlap and transition errors pass through
// so callers can report the conflicting entity.
func mapChangeError(err error) error {
	if err == nil {
		return nil
	}
	var invalid *scheduler.InvalidError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrNotConfigured):
		return err
	case errors.Is(err, scheduler.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, scheduler.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.As(err, &invalid):
		vErr := &ValidationError{}
		vErr.add(invalid.Field, invalid.Message)
		return vErr
	case errors.Is(err, timewindow.ErrInvalidWindow):
		vErr := &ValidationError{}
		vErr.add("time", "start must be before end")
		return vErr
	}
	return mapRepoError(err)
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("record", "violates a storage constraint")
		return vErr
	}
	return err
}
