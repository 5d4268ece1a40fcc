package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/visionary-scheduler/internal/calendar"
	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/notify"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

var plannerNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return plannerNow.Add(d) }

type memoryStates struct {
	mu       sync.Mutex
	states   map[string]scheduler.State
	attempts []scheduler.RescheduleAttempt
	loads    int
	saves    int
	saveErr  error
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: make(map[string]scheduler.State)}
}

func (m *memoryStates) LoadState(ctx context.Context, userID string) (scheduler.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	state, ok := m.states[userID]
	if !ok {
		return scheduler.State{UserID: userID}, nil
	}
	return state, nil
}

func (m *memoryStates) SaveState(ctx context.Context, state scheduler.State) error {
	return m.SaveChange(ctx, state, nil)
}

func (m *memoryStates) SaveChange(ctx context.Context, state scheduler.State, attempts []scheduler.RescheduleAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[state.UserID] = state
	m.attempts = append(m.attempts, attempts...)
	return nil
}

func (m *memoryStates) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryStates) SaveAttempts(ctx context.Context, attempts []scheduler.RescheduleAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempts...)
	return nil
}

func (m *memoryStates) ListAttempts(ctx context.Context, userID, taskID string) ([]scheduler.RescheduleAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduler.RescheduleAttempt
	for _, a := range m.attempts {
		if a.UserID == userID && (taskID == "" || a.TaskID == taskID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStates) counts() (loads, saves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves
}

type categorizerStub struct {
	suggestions []categorize.Suggestion
	err         error
}

func (c categorizerStub) Categorize(ctx context.Context, text string) ([]categorize.Suggestion, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.suggestions, nil
}

type plannerHarness struct {
	service   *PlannerService
	states    *memoryStates
	mu        sync.Mutex
	published []scheduler.ScheduleChanged
	current   time.Time
}

func (h *plannerHarness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *plannerHarness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = h.current.Add(d)
}

func (h *plannerHarness) events() []scheduler.ScheduleChanged {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]scheduler.ScheduleChanged(nil), h.published...)
}

func newPlannerHarness(t *testing.T, categorizer categorize.Categorizer) *plannerHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &plannerHarness{states: newMemoryStates(), current: plannerNow}
	now := h.now

	solver, err := scheduler.NewSolver(scheduler.DefaultSolverConfig(), now, logger)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	var attemptSeq int
	handler := scheduler.NewDisruptionHandler(solver, now, func() string {
		attemptSeq++
		return fmt.Sprintf("attempt-%d", attemptSeq)
	}, logger)

	var idSeq int
	service, err := NewPlannerService(PlannerDeps{
		States:      h.states,
		Attempts:    h.states,
		Handler:     handler,
		Categorizer: categorizer,
		Publisher: notify.PublisherFunc(func(_ context.Context, event scheduler.ScheduleChanged) error {
			h.mu.Lock()
			h.published = append(h.published, event)
			h.mu.Unlock()
			return nil
		}),
		IDGenerator: func() string {
			idSeq++
			return fmt.Sprintf("id-%d", idSeq)
		},
		Now:    now,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewPlannerService: %v", err)
	}
	h.service = service
	return h
}

func hour(n int) time.Duration { return time.Duration(n) * time.Hour }

func TestNewPlannerService_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewPlannerService(PlannerDeps{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPlannerService_AddTaskPlacesAndPersists(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	task, change, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Write report", Duration: time.Hour, Priority: 3})
	if err != nil {
		t.Fatalf("AddTask returned error: %v", err)
	}
	if !task.Scheduled() || !task.Assigned.Start().Equal(plannerNow) {
		t.Fatalf("expected task placed at now, got %+v", task)
	}
	if task.Confidence != 1 || !task.TimeFlexible {
		t.Fatalf("expected defaults for manual task, got confidence=%v flexible=%v", task.Confidence, task.TimeFlexible)
	}
	if len(change.Changed) != 1 || change.Changed[0] != task.ID {
		t.Fatalf("expected change to report the task, got %+v", change)
	}

	stored, err := h.service.GetTask(ctx, "user-1", task.ID)
	if err != nil || stored.Status != scheduler.StatusScheduled {
		t.Fatalf("GetTask = %+v, %v", stored, err)
	}
	if events := h.events(); len(events) != 1 || events[0].UserID != "user-1" {
		t.Fatalf("expected one notification, got %+v", events)
	}
}

func TestPlannerService_Validation(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	_, _, err := h.service.AddTask(ctx, "", TaskInput{Duration: 0, Category: "hobby"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"user_id", "title", "duration", "category"} {
		if _, ok := vErr.FieldErrors[field]; !ok {
			t.Errorf("expected field error for %s, got %v", field, vErr.FieldErrors)
		}
	}

	_, _, err = h.service.AddFixedEvent(ctx, "user-1", FixedEventInput{Title: "Backwards", Start: at(hour(2)), End: at(hour(1))})
	if !errors.As(err, &vErr) || vErr.FieldErrors["time"] == "" {
		t.Fatalf("expected time validation error, got %v", err)
	}

	pinned := false
	_, _, err = h.service.AddTask(ctx, "user-1", TaskInput{Title: "Pinned", Duration: time.Hour, TimeFlexible: &pinned})
	if !errors.As(err, &vErr) || vErr.FieldErrors["earliest_start"] == "" {
		t.Fatalf("expected earliest_start validation error, got %v", err)
	}

	if _, saves := h.states.counts(); saves != 0 {
		t.Fatalf("validation failures must not persist, got %d saves", saves)
	}
}

func TestPlannerService_FixedEventDisplacesTask(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	task, _, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Deep work", Duration: time.Hour})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	event, change, err := h.service.AddFixedEvent(ctx, "user-1", FixedEventInput{Title: "Standup", Start: at(0), End: at(hour(2))})
	if err != nil {
		t.Fatalf("AddFixedEvent: %v", err)
	}
	if event.Source != scheduler.SourceUserManual || event.CreatedAt.IsZero() {
		t.Fatalf("unexpected stored event %+v", event)
	}
	if len(change.Changed) != 1 || change.Changed[0] != task.ID {
		t.Fatalf("expected the task to move, got %+v", change)
	}

	moved, _ := h.service.GetTask(ctx, "user-1", task.ID)
	if !moved.Assigned.Start().Equal(at(hour(2))) {
		t.Fatalf("expected task after the event, got %s", moved.Assigned)
	}

	attempts, err := h.service.ListAttempts(ctx, "user-1", task.ID)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("ListAttempts = %+v, %v", attempts, err)
	}
	if !attempts[0].Success || !attempts[0].OldWindow.Start().Equal(plannerNow) {
		t.Fatalf("unexpected attempt %+v", attempts[0])
	}
}

func TestPlannerService_OverlapRejectedWithoutPersisting(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	first, _, err := h.service.AddFixedEvent(ctx, "user-1", FixedEventInput{Title: "A", Start: at(hour(1)), End: at(hour(2))})
	if err != nil {
		t.Fatalf("AddFixedEvent: %v", err)
	}
	_, savesBefore := h.states.counts()

	_, _, err = h.service.AddFixedEvent(ctx, "user-1", FixedEventInput{Title: "B", Start: at(90 * time.Minute), End: at(hour(3))})
	var overlap *scheduler.OverlapError
	if !errors.As(err, &overlap) || overlap.ConflictingID != first.ID {
		t.Fatalf("expected OverlapError against %s, got %v", first.ID, err)
	}
	if _, saves := h.states.counts(); saves != savesBefore {
		t.Fatalf("rejected change must not persist")
	}
	if ErrorKind(err) != "overlap" {
		t.Fatalf("unexpected error kind %q", ErrorKind(err))
	}
}

func TestPlannerService_TaskLifecycle(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	if _, err := h.service.CompleteTask(ctx, "user-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first, _, _ := h.service.AddTask(ctx, "user-1", TaskInput{Title: "First", Duration: time.Hour})
	second, _, _ := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Second", Duration: time.Hour})
	if !second.Assigned.Start().Equal(at(hour(1))) {
		t.Fatalf("expected second task after first, got %s", second.Assigned)
	}

	if _, err := h.service.CompleteTask(ctx, "user-1", first.ID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if _, err := h.service.SkipTask(ctx, "user-1", first.ID); !errors.Is(err, scheduler.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Second keeps its window: freed time is only offered to unscheduled tasks.
	after, _ := h.service.GetTask(ctx, "user-1", second.ID)
	if !after.Assigned.Equal(*second.Assigned) {
		t.Fatalf("expected stable assignment, got %s", after.Assigned)
	}

	updated, change, err := h.service.UpdateTask(ctx, "user-1", second.ID, TaskInput{Title: "Second (renamed)", Duration: time.Hour})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Title != "Second (renamed)" || len(change.Changed) != 0 {
		t.Fatalf("a rename must not move the task, got %+v %+v", updated, change)
	}

	if _, err := h.service.RemoveTask(ctx, "user-1", second.ID); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	tasks, _ := h.service.ListTasks(ctx, "user-1")
	if len(tasks) != 1 || tasks[0].Status != scheduler.StatusCompleted {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestPlannerService_SolveReportsAlternatives(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	block, _, err := h.service.AddFocusBlock(ctx, "user-1", FocusBlockInput{
		Title: "Writing", Start: at(0), End: at(hour(2)), Policy: scheduler.PolicyDefer, Priority: 1,
	})
	if err != nil {
		t.Fatalf("AddFocusBlock: %v", err)
	}

	deadline := at(hour(2))
	task, _, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Urgent call", Duration: time.Hour, Deadline: &deadline})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.Status != scheduler.StatusUnscheduled || task.Reason != scheduler.ReasonNoFeasibleWindow {
		t.Fatalf("expected task blocked by focus, got %+v", task)
	}

	change, err := h.service.Solve(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(change.Unscheduled) != 1 || len(change.Alternatives) != 1 {
		t.Fatalf("expected one alternative, got %+v", change)
	}
	alt := change.Alternatives[0]
	if alt.TaskID != task.ID || len(alt.OverriddenFocus) != 1 || alt.OverriddenFocus[0] != block.ID {
		t.Fatalf("unexpected alternative %+v", alt)
	}

	// The alternative is advisory: the task stays unscheduled.
	stored, _ := h.service.GetTask(ctx, "user-1", task.ID)
	if stored.Status != scheduler.StatusUnscheduled {
		t.Fatalf("alternative must not be committed")
	}

	if _, err := h.service.RemoveFocusBlock(ctx, "user-1", block.ID); err != nil {
		t.Fatalf("RemoveFocusBlock: %v", err)
	}
	placed, _ := h.service.GetTask(ctx, "user-1", task.ID)
	if !placed.Scheduled() {
		t.Fatalf("expected freed time to place the task, got %+v", placed)
	}
}

func TestPlannerService_GetScheduleCachesUntilChange(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	if _, _, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Task", Duration: time.Hour}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	view, err := h.service.GetSchedule(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if len(view.Scheduled) != 1 || !view.Horizon.Start().Equal(plannerNow) {
		t.Fatalf("unexpected view %+v", view)
	}
	loads, _ := h.states.counts()

	if _, err := h.service.GetSchedule(ctx, "user-1"); err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if again, _ := h.states.counts(); again != loads {
		t.Fatalf("expected cached view, loads went from %d to %d", loads, again)
	}

	if _, _, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Another", Duration: time.Hour}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	view, _ = h.service.GetSchedule(ctx, "user-1")
	if len(view.Scheduled) != 2 {
		t.Fatalf("expected cache invalidation after change, got %d tasks", len(view.Scheduled))
	}
}

func crlfFeed(events ...string) []byte {
	body := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//Feed//EN\n" + strings.Join(events, "") + "END:VCALENDAR\n"
	return []byte(strings.ReplaceAll(body, "\n", "\r\n"))
}

func vevent(uid, start, end string) string {
	return "BEGIN:VEVENT\nUID:" + uid + "\nDTSTAMP:20250301T000000Z\nDTSTART:" + start + "\nDTEND:" + end + "\nSUMMARY:" + uid + "\nEND:VEVENT\n"
}

func TestPlannerService_ImportCalendar(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	manual, _, err := h.service.AddFixedEvent(ctx, "user-1", FixedEventInput{Title: "Gym", Start: time.Date(2025, 3, 4, 7, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("AddFixedEvent: %v", err)
	}

	feed := crlfFeed(
		vevent("review", "20250304T100000Z", "20250304T110000Z"),
		vevent("clash", "20250304T073000Z", "20250304T083000Z"),
	)
	report, err := h.service.ImportCalendar(ctx, "user-1", "work", feed)
	if err != nil {
		t.Fatalf("ImportCalendar: %v", err)
	}
	if report.Created != 1 || len(report.Conflicts) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Conflicts[0].UID != "clash" || report.Conflicts[0].ConflictingID != manual.ID {
		t.Fatalf("unexpected conflict %+v", report.Conflicts[0])
	}

	again, err := h.service.ImportCalendar(ctx, "user-1", "work", feed)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.Created != 0 || again.Updated != 0 || again.Removed != 0 {
		t.Fatalf("re-import must be idempotent, got %+v", again)
	}

	emptied, err := h.service.ImportCalendar(ctx, "user-1", "work", crlfFeed())
	if err != nil {
		t.Fatalf("import empty feed: %v", err)
	}
	if emptied.Removed != 1 {
		t.Fatalf("expected the review to be removed, got %+v", emptied)
	}
	events, _ := h.service.ListFixedEvents(ctx, "user-1")
	if len(events) != 1 || events[0].ID != manual.ID {
		t.Fatalf("expected only the manual event to remain, got %+v", events)
	}

	var vErr *ValidationError
	if _, err := h.service.ImportCalendar(ctx, "user-1", "work", nil); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for empty body, got %v", err)
	}
	if err := h.service.ImportFeed(ctx, calendar.Source{ID: "", UserID: "user-1"}, feed); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for missing calendar id, got %v", err)
	}
}

func TestPlannerService_ExportCalendar(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	if _, _, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: "Export me", Duration: time.Hour}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	var buf bytes.Buffer
	if err := h.service.ExportCalendar(ctx, "user-1", &buf); err != nil {
		t.Fatalf("ExportCalendar: %v", err)
	}
	parsed, err := calendar.ParseICS(buf.Bytes(), time.UTC)
	if err != nil || len(parsed.Events) != 1 || parsed.Events[0].Summary != "Export me" {
		t.Fatalf("unexpected export %+v, %v", parsed, err)
	}
}

func TestPlannerService_IngestContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	suggestions := []categorize.Suggestion{
		{Title: "Pay rent", Category: scheduler.CategoryFinancial, Duration: 15 * time.Minute, Priority: 5, Confidence: 0.8},
		{Title: "Go for a run", Category: scheduler.CategoryHealth, Confidence: 0.65},
	}
	h := newPlannerHarness(t, categorizerStub{suggestions: suggestions})

	result, err := h.service.IngestContent(ctx, "user-1", "pay rent, go for a run")
	if err != nil {
		t.Fatalf("IngestContent: %v", err)
	}
	if len(result.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", result.Tasks)
	}
	for i, task := range result.Tasks {
		if task.Confidence != suggestions[i].Confidence {
			t.Errorf("confidence must be carried unchanged: %v vs %v", task.Confidence, suggestions[i].Confidence)
		}
		if !task.Scheduled() {
			t.Errorf("expected %s to be placed", task.Title)
		}
	}
	if result.Tasks[1].Duration != categorize.DefaultDuration {
		t.Errorf("expected default duration, got %s", result.Tasks[1].Duration)
	}

	empty := newPlannerHarness(t, categorizerStub{err: categorize.ErrEmptyContent})
	var vErr *ValidationError
	if _, err := empty.service.IngestContent(ctx, "user-1", ""); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	none := newPlannerHarness(t, nil)
	if _, err := none.service.IngestContent(ctx, "user-1", "text"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPlannerService_SaveFailureSurfaces(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	h.states.saveErr = errors.New("disk full")

	_, _, err := h.service.AddTask(context.Background(), "user-1", TaskInput{Title: "Task", Duration: time.Hour})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected save error, got %v", err)
	}
	if len(h.events()) != 0 {
		t.Fatalf("failed changes must not notify")
	}
}

func TestPlannerService_SolveAll(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()
	for _, user := range []string{"a", "b"} {
		if _, _, err := h.service.AddTask(ctx, user, TaskInput{Title: "Task", Duration: time.Hour}); err != nil {
			t.Fatalf("AddTask %s: %v", user, err)
		}
	}
	if err := h.service.SolveAll(ctx); err != nil {
		t.Fatalf("SolveAll: %v", err)
	}
}

func TestPlannerService_SolveAllMovesPlacementsOutOfThePast(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"Earlier", "Running", "Later"} {
		task, _, err := h.service.AddTask(ctx, "user-1", TaskInput{Title: title, Duration: time.Hour})
		if err != nil {
			t.Fatalf("AddTask %s: %v", title, err)
		}
		ids = append(ids, task.ID)
	}
	later, err := h.service.GetTask(ctx, "user-1", ids[2])
	if err != nil || !later.Assigned.Start().Equal(at(hour(2))) {
		t.Fatalf("expected third task at 10:00, got %+v, %v", later, err)
	}

	h.advance(90 * time.Minute)
	if err := h.service.SolveAll(ctx); err != nil {
		t.Fatalf("SolveAll: %v", err)
	}

	tasks, err := h.service.ListTasks(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	windows := make(map[string]scheduler.Task, len(tasks))
	for _, task := range tasks {
		if !task.Scheduled() {
			t.Fatalf("task %s left unscheduled: %s", task.ID, task.Reason)
		}
		if task.Assigned.Start().Before(h.now()) {
			t.Fatalf("task %s still starts in the past at %s", task.ID, task.Assigned.Start())
		}
		windows[task.ID] = task
	}
	if got := windows[ids[2]].Assigned; !got.Equal(*later.Assigned) {
		t.Fatalf("future placement moved from %s to %s", later.Assigned, got)
	}
	for i, a := range tasks {
		for _, b := range tasks[i+1:] {
			if timewindow.Overlaps(*a.Assigned, *b.Assigned) {
				t.Fatalf("tasks %s and %s overlap", a.ID, b.ID)
			}
		}
	}

	published := len(h.events())
	if err := h.service.SolveAll(ctx); err != nil {
		t.Fatalf("second SolveAll: %v", err)
	}
	if len(h.events()) != published {
		t.Fatalf("expected second refresh to change nothing")
	}
}

func TestPlannerService_RejectsFocusBlockTooDenseToProtect(t *testing.T) {
	t.Parallel()

	h := newPlannerHarness(t, nil)
	ctx := context.Background()

	_, _, err := h.service.AddFocusBlock(ctx, "user-1", FocusBlockInput{
		Title:      "Pomodoro",
		Start:      plannerNow,
		End:        at(4 * time.Minute),
		Policy:     scheduler.PolicyBlock,
		Recurrence: &RecurrenceInput{RRule: "FREQ=MINUTELY;INTERVAL=5"},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.FieldErrors["recurrence"] != "recurs too often to expand" {
		t.Fatalf("expected recurrence validation error, got %v", err)
	}
	blocks, err := h.service.ListFocusBlocks(ctx, "user-1")
	if err != nil || len(blocks) != 0 {
		t.Fatalf("expected nothing persisted, got %v, %v", blocks, err)
	}
}
