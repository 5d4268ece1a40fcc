package sqlite_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/example/visionary-scheduler/internal/persistence"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/testfixtures"
)

func sampleState(t *testing.T) scheduler.State {
	t.Helper()

	store := scheduler.NewConstraintStore(testfixtures.DefaultUserID, nil)
	if err := store.AddFixedEvent(testfixtures.NewFixedEvent(testfixtures.Window(time.Hour, 2*time.Hour),
		testfixtures.WithEventID("ev-1"), testfixtures.WithCalendarSource("work", "uid-1"))); err != nil {
		t.Fatalf("AddFixedEvent: %v", err)
	}
	if err := store.AddFocusBlock(testfixtures.NewFocusBlock(testfixtures.Window(-time.Hour, 0),
		testfixtures.WithFocusID("focus-1"), testfixtures.WithPolicy(scheduler.PolicyDefer),
		testfixtures.WithFocusPriority(3), testfixtures.WithWeekdayRecurrence(time.Monday, time.Wednesday))); err != nil {
		t.Fatalf("AddFocusBlock: %v", err)
	}
	deadline := testfixtures.At(48 * time.Hour)
	tasks := []scheduler.Task{
		testfixtures.NewTask(testfixtures.WithTaskID("task-1"), testfixtures.WithDeadline(deadline),
			testfixtures.WithShrinkTo(30*time.Minute), testfixtures.WithPriority(4), testfixtures.WithCategory(scheduler.CategoryHealth)),
		testfixtures.NewTask(testfixtures.WithTaskID("task-2"), testfixtures.WithFixedStart(testfixtures.At(5*time.Hour))),
	}
	for _, task := range tasks {
		if err := store.AddTask(task); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	solver, err := scheduler.NewSolver(scheduler.DefaultSolverConfig(), testfixtures.ReferenceTime, nil)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	if _, err := solver.Solve(context.Background(), store, scheduler.SolveOptions{}); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return store.Snapshot()
}

func TestStateRepository_RoundTrip(t *testing.T) {
	t.Parallel()

	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	want := sampleState(t)

	if err := h.States.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := h.States.LoadState(ctx, testfixtures.DefaultUserID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	if len(got.FixedEvents) != 1 || got.FixedEvents[0].ExternalUID != "uid-1" || !got.FixedEvents[0].Window.Equal(want.FixedEvents[0].Window) {
		t.Fatalf("fixed events mismatch: %+v", got.FixedEvents)
	}

	if len(got.FocusBlocks) != 1 {
		t.Fatalf("expected one focus block, got %d", len(got.FocusBlocks))
	}
	block := got.FocusBlocks[0]
	if block.Policy != scheduler.PolicyDefer || block.Priority != 3 || block.Recurrence == nil {
		t.Fatalf("focus block mismatch: %+v", block)
	}
	if !reflect.DeepEqual(block.Recurrence.Weekdays, []time.Weekday{time.Monday, time.Wednesday}) {
		t.Errorf("weekdays = %v", block.Recurrence.Weekdays)
	}
	if block.Recurrence.OwnerID != "focus-1" {
		t.Errorf("recurrence owner = %q", block.Recurrence.OwnerID)
	}

	if len(got.Tasks) != len(want.Tasks) {
		t.Fatalf("expected %d tasks, got %d", len(want.Tasks), len(got.Tasks))
	}
	for i, task := range got.Tasks {
		orig := want.Tasks[i]
		if task.ID != orig.ID || task.Status != orig.Status || task.Duration != orig.Duration ||
			task.MinDuration != orig.MinDuration || task.Priority != orig.Priority || task.Category != orig.Category ||
			task.TimeFlexible != orig.TimeFlexible || task.DurationFlexible != orig.DurationFlexible {
			t.Errorf("task %s mismatch:\n got %+v\nwant %+v", orig.ID, task, orig)
		}
		if (task.Assigned == nil) != (orig.Assigned == nil) || (task.Assigned != nil && !task.Assigned.Equal(*orig.Assigned)) {
			t.Errorf("task %s assignment = %v, want %v", orig.ID, task.Assigned, orig.Assigned)
		}
		if (task.Deadline == nil) != (orig.Deadline == nil) || (task.Deadline != nil && !task.Deadline.Equal(*orig.Deadline)) {
			t.Errorf("task %s deadline = %v, want %v", orig.ID, task.Deadline, orig.Deadline)
		}
	}

	// The loaded state must be accepted by the store again.
	if _, err := scheduler.LoadConstraintStore(got, nil); err != nil {
		t.Fatalf("LoadConstraintStore: %v", err)
	}
}

func TestStateRepository_SaveReplacesAndIsolatesUsers(t *testing.T) {
	t.Parallel()

	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	other := scheduler.State{
		UserID: "user-002",
		Tasks:  []scheduler.Task{testfixtures.NewTask(testfixtures.WithTaskID("other-task"), testfixtures.WithTaskUser("user-002"))},
	}
	if err := h.States.SaveState(ctx, other); err != nil {
		t.Fatalf("SaveState other: %v", err)
	}
	if err := h.States.SaveState(ctx, sampleState(t)); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	// Dropping everything for the default user leaves user-002 intact.
	if err := h.States.SaveState(ctx, scheduler.State{UserID: testfixtures.DefaultUserID}); err != nil {
		t.Fatalf("SaveState empty: %v", err)
	}
	got, err := h.States.LoadState(ctx, testfixtures.DefaultUserID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(got.FixedEvents)+len(got.FocusBlocks)+len(got.Tasks) != 0 {
		t.Fatalf("expected empty state, got %+v", got)
	}

	ids, err := h.States.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListUserIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"user-002"}) {
		t.Fatalf("ListUserIDs = %v", ids)
	}
}

func TestStateRepository_DuplicateIDAcrossUsers(t *testing.T) {
	t.Parallel()

	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	first := scheduler.State{UserID: "a", Tasks: []scheduler.Task{testfixtures.NewTask(testfixtures.WithTaskID("shared"), testfixtures.WithTaskUser("a"))}}
	second := scheduler.State{UserID: "b", Tasks: []scheduler.Task{testfixtures.NewTask(testfixtures.WithTaskID("shared"), testfixtures.WithTaskUser("b"))}}
	if err := h.States.SaveState(ctx, first); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	err := h.States.SaveState(ctx, second)
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// The failed transaction must not have removed anything.
	got, err := h.States.LoadState(ctx, "a")
	if err != nil || len(got.Tasks) != 1 {
		t.Fatalf("LoadState a = %+v, %v", got, err)
	}
}

func TestAttemptRepository(t *testing.T) {
	t.Parallel()

	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	newWindow := testfixtures.Window(3*time.Hour, 4*time.Hour)
	attempts := []scheduler.RescheduleAttempt{
		{
			ID: "attempt-1", UserID: testfixtures.DefaultUserID, TaskID: "task-1",
			Type: scheduler.AttemptConflict, Trigger: scheduler.DisruptionFixedEventAdded,
			AttemptedAt: testfixtures.At(time.Minute), OldWindow: testfixtures.Window(0, time.Hour),
			NewWindow: &newWindow, Success: true,
		},
		{
			ID: "attempt-2", UserID: testfixtures.DefaultUserID, TaskID: "task-2",
			Type: scheduler.AttemptEdit, Trigger: scheduler.DisruptionTaskEdited,
			AttemptedAt: testfixtures.At(2 * time.Minute), OldWindow: testfixtures.Window(time.Hour, 2*time.Hour),
			FailureReason: scheduler.ReasonNoFeasibleWindow,
		},
	}
	if err := h.Attempts.SaveAttempts(ctx, attempts); err != nil {
		t.Fatalf("SaveAttempts: %v", err)
	}

	all, err := h.Attempts.ListAttempts(ctx, testfixtures.DefaultUserID, "")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(all) != 2 || all[0].ID != "attempt-1" {
		t.Fatalf("ListAttempts = %+v", all)
	}
	if all[0].NewWindow == nil || !all[0].NewWindow.Equal(newWindow) || !all[0].Success {
		t.Errorf("attempt-1 = %+v", all[0])
	}

	failed, err := h.Attempts.ListAttempts(ctx, testfixtures.DefaultUserID, "task-2")
	if err != nil {
		t.Fatalf("ListAttempts task-2: %v", err)
	}
	if len(failed) != 1 || failed[0].NewWindow != nil || failed[0].FailureReason != scheduler.ReasonNoFeasibleWindow {
		t.Fatalf("ListAttempts task-2 = %+v", failed)
	}
	if failed[0].OldWindow.IsZero() {
		t.Fatalf("old window not restored")
	}
}

func TestStateRepository_SaveChangeWritesAttempts(t *testing.T) {
	t.Parallel()

	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	state := sampleState(t)
	attempt := scheduler.RescheduleAttempt{
		ID: "attempt-9", UserID: state.UserID, TaskID: "task-1",
		Type: scheduler.AttemptConflict, Trigger: scheduler.DisruptionFixedEventAdded,
		AttemptedAt: testfixtures.At(time.Minute), OldWindow: testfixtures.Window(0, time.Hour),
		FailureReason: scheduler.ReasonNoFeasibleWindow,
	}
	if err := h.States.SaveChange(ctx, state, []scheduler.RescheduleAttempt{attempt}); err != nil {
		t.Fatalf("SaveChange: %v", err)
	}

	got, err := h.Attempts.ListAttempts(ctx, state.UserID, "")
	if err != nil || len(got) != 1 || got[0].ID != "attempt-9" {
		t.Fatalf("ListAttempts = %+v, %v", got, err)
	}

	// A duplicate attempt id rolls back the state write as well.
	changed := state
	changed.Tasks = nil
	if err := h.States.SaveChange(ctx, changed, []scheduler.RescheduleAttempt{attempt}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	reloaded, err := h.States.LoadState(ctx, state.UserID)
	if err != nil || len(reloaded.Tasks) != len(state.Tasks) {
		t.Fatalf("expected tasks to survive the failed change, got %d, %v", len(reloaded.Tasks), err)
	}
}
