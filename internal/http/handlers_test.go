package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

var handlerNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

// plannerStub satisfies every handler's service interface. Unset hooks
// return zero values.
type plannerStub struct {
	addEvent     func(userID string, input application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error)
	addFocus     func(userID string, input application.FocusBlockInput) (scheduler.FocusBlock, application.ChangeResult, error)
	addTask      func(userID string, input application.TaskInput) (scheduler.Task, application.ChangeResult, error)
	getTask      func(userID, taskID string) (scheduler.Task, error)
	completeTask func(userID, taskID string) (application.ChangeResult, error)
	suggest      func(userID, taskID string) (scheduler.Alternative, bool, error)
	solve        func(userID string, full bool) (application.ChangeResult, error)
	ingest       func(userID, content string) (application.IntakeResult, error)
	importCal    func(userID, calendarID string, body []byte) (application.ImportReport, error)
	tasks        []scheduler.Task
}

func (s *plannerStub) AddFixedEvent(_ context.Context, userID string, input application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error) {
	if s.addEvent == nil {
		return scheduler.FixedEvent{}, application.ChangeResult{}, nil
	}
	return s.addEvent(userID, input)
}

func (s *plannerStub) UpdateFixedEvent(context.Context, string, string, application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error) {
	return scheduler.FixedEvent{}, application.ChangeResult{}, nil
}

func (s *plannerStub) RemoveFixedEvent(context.Context, string, string) (application.ChangeResult, error) {
	return application.ChangeResult{}, nil
}

func (s *plannerStub) ListFixedEvents(context.Context, string) ([]scheduler.FixedEvent, error) {
	return nil, nil
}

func (s *plannerStub) AddFocusBlock(_ context.Context, userID string, input application.FocusBlockInput) (scheduler.FocusBlock, application.ChangeResult, error) {
	if s.addFocus == nil {
		return scheduler.FocusBlock{}, application.ChangeResult{}, nil
	}
	return s.addFocus(userID, input)
}

func (s *plannerStub) RemoveFocusBlock(context.Context, string, string) (application.ChangeResult, error) {
	return application.ChangeResult{}, nil
}

func (s *plannerStub) ListFocusBlocks(context.Context, string) ([]scheduler.FocusBlock, error) {
	return nil, nil
}

func (s *plannerStub) AddTask(_ context.Context, userID string, input application.TaskInput) (scheduler.Task, application.ChangeResult, error) {
	if s.addTask == nil {
		return scheduler.Task{}, application.ChangeResult{}, nil
	}
	return s.addTask(userID, input)
}

func (s *plannerStub) UpdateTask(context.Context, string, string, application.TaskInput) (scheduler.Task, application.ChangeResult, error) {
	return scheduler.Task{}, application.ChangeResult{}, nil
}

func (s *plannerStub) RemoveTask(context.Context, string, string) (application.ChangeResult, error) {
	return application.ChangeResult{}, nil
}

func (s *plannerStub) CompleteTask(_ context.Context, userID, taskID string) (application.ChangeResult, error) {
	if s.completeTask == nil {
		return application.ChangeResult{}, nil
	}
	return s.completeTask(userID, taskID)
}

func (s *plannerStub) SkipTask(context.Context, string, string) (application.ChangeResult, error) {
	return application.ChangeResult{}, nil
}

func (s *plannerStub) GetTask(_ context.Context, userID, taskID string) (scheduler.Task, error) {
	if s.getTask == nil {
		return scheduler.Task{}, application.ErrNotFound
	}
	return s.getTask(userID, taskID)
}

func (s *plannerStub) ListTasks(context.Context, string) ([]scheduler.Task, error) {
	return append([]scheduler.Task(nil), s.tasks...), nil
}

func (s *plannerStub) SuggestAlternative(_ context.Context, userID, taskID string) (scheduler.Alternative, bool, error) {
	if s.suggest == nil {
		return scheduler.Alternative{}, false, nil
	}
	return s.suggest(userID, taskID)
}

func (s *plannerStub) ListAttempts(context.Context, string, string) ([]scheduler.RescheduleAttempt, error) {
	return nil, nil
}

func (s *plannerStub) GetSchedule(_ context.Context, userID string) (application.ScheduleView, error) {
	return application.ScheduleView{
		UserID:      userID,
		Horizon:     timewindow.MustNew(handlerNow, handlerNow.Add(24*time.Hour)),
		GeneratedAt: handlerNow,
	}, nil
}

func (s *plannerStub) Solve(_ context.Context, userID string, full bool) (application.ChangeResult, error) {
	if s.solve == nil {
		return application.ChangeResult{}, nil
	}
	return s.solve(userID, full)
}

func (s *plannerStub) IngestContent(_ context.Context, userID, content string) (application.IntakeResult, error) {
	if s.ingest == nil {
		return application.IntakeResult{}, nil
	}
	return s.ingest(userID, content)
}

func (s *plannerStub) ImportCalendar(_ context.Context, userID, calendarID string, body []byte) (application.ImportReport, error) {
	if s.importCal == nil {
		return application.ImportReport{}, nil
	}
	return s.importCal(userID, calendarID, body)
}

func (s *plannerStub) ExportCalendar(_ context.Context, userID string, w io.Writer) error {
	_, err := fmt.Fprintf(w, "BEGIN:VCALENDAR\r\nX-WR-CALNAME:%s\r\nEND:VCALENDAR\r\n", userID)
	return err
}

func newTestRouter(stub *plannerStub) http.Handler {
	logger := discardLogger()
	return NewRouter(RouterConfig{
		Events:      NewEventHandler(stub, logger),
		FocusBlocks: NewFocusHandler(stub, logger),
		Tasks:       NewTaskHandler(stub, logger),
		Schedule:    NewScheduleHandler(stub, logger),
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger),
			PresentationZone(time.UTC, logger),
			RequireUser(logger),
		},
	})
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(UserIDHeader, "user-1")
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

func TestEventHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create returns the event and change summary", func(t *testing.T) {
		t.Parallel()

		var captured application.FixedEventInput
		stub := &plannerStub{
			addEvent: func(userID string, input application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error) {
				if userID != "user-1" {
					t.Fatalf("expected user-1, got %s", userID)
				}
				captured = input
				return scheduler.FixedEvent{
					ID:     "evt-1",
					UserID: userID,
					Title:  input.Title,
					Window: timewindow.MustNew(input.Start, input.End),
					Source: scheduler.SourceUserManual,
				}, application.ChangeResult{Changed: []string{"task-1"}}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/events",
			`{"title":" Standup ","start":"2025-03-03T09:00:00Z","end":"2025-03-03T09:30:00Z"}`)

		if recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
		}
		if captured.Title != "Standup" || !captured.Start.Equal(handlerNow.Add(time.Hour)) {
			t.Fatalf("unexpected input %+v", captured)
		}
		resp := decode[fixedEventResponse](t, recorder)
		if resp.Event.ID != "evt-1" || resp.Event.Start != "2025-03-03T09:00:00Z" {
			t.Fatalf("unexpected event %+v", resp.Event)
		}
		if len(resp.Change.Changed) != 1 || resp.Change.Unscheduled == nil {
			t.Fatalf("unexpected change %+v", resp.Change)
		}
	})

	t.Run("overlap maps to 409 with the conflicting id", func(t *testing.T) {
		t.Parallel()

		stub := &plannerStub{
			addEvent: func(string, application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error) {
				return scheduler.FixedEvent{}, application.ChangeResult{}, fmt.Errorf("add: %w", &scheduler.OverlapError{EventID: "evt-2", ConflictingID: "evt-1"})
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/events",
			`{"title":"Clash","start":"2025-03-03T09:00:00Z","end":"2025-03-03T10:00:00Z"}`)

		if recorder.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", recorder.Code)
		}
		resp := decode[errorResponse](t, recorder)
		if resp.ErrorCode != "FIXED_EVENT_OVERLAP" || resp.ConflictingID != "evt-1" {
			t.Fatalf("unexpected error response %+v", resp)
		}
	})

	t.Run("unsupported methods report allowed verbs", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodPatch, "/events", "")
		if recorder.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", recorder.Code)
		}
		if allow := recorder.Header().Get("Allow"); allow != "GET, POST" {
			t.Fatalf("unexpected Allow header %q", allow)
		}
	})
}

func TestFocusHandlers(t *testing.T) {
	t.Parallel()

	t.Run("recurrence weekdays are parsed", func(t *testing.T) {
		t.Parallel()

		var captured application.FocusBlockInput
		stub := &plannerStub{
			addFocus: func(_ string, input application.FocusBlockInput) (scheduler.FocusBlock, application.ChangeResult, error) {
				captured = input
				return scheduler.FocusBlock{ID: "focus-1", Title: input.Title, Window: timewindow.MustNew(input.Start, input.End), Policy: input.Policy}, application.ChangeResult{}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/focus-blocks",
			`{"title":"Deep work","start":"2025-03-03T09:00:00Z","end":"2025-03-03T11:00:00Z","policy":"Defer","priority":3,"recurrence":{"frequency":"weekly","weekdays":["Monday","wednesday"]}}`)

		if recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
		}
		if captured.Policy != scheduler.PolicyDefer || captured.Priority != 3 {
			t.Fatalf("unexpected input %+v", captured)
		}
		if captured.Recurrence == nil || len(captured.Recurrence.Weekdays) != 2 || captured.Recurrence.Weekdays[1] != time.Wednesday {
			t.Fatalf("unexpected recurrence %+v", captured.Recurrence)
		}
	})

	t.Run("unknown weekday is a malformed request", func(t *testing.T) {
		t.Parallel()

		stub := &plannerStub{
			addFocus: func(string, application.FocusBlockInput) (scheduler.FocusBlock, application.ChangeResult, error) {
				t.Fatal("service should not be called")
				return scheduler.FocusBlock{}, application.ChangeResult{}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/focus-blocks",
			`{"title":"Deep work","start":"2025-03-03T09:00:00Z","end":"2025-03-03T11:00:00Z","recurrence":{"weekdays":["someday"]}}`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})
}

func TestTaskHandlers(t *testing.T) {
	t.Parallel()

	t.Run("request fields are converted", func(t *testing.T) {
		t.Parallel()

		var captured application.TaskInput
		stub := &plannerStub{
			addTask: func(userID string, input application.TaskInput) (scheduler.Task, application.ChangeResult, error) {
				captured = input
				return scheduler.Task{ID: "task-1", UserID: userID, Title: input.Title, Status: scheduler.StatusUnscheduled, Reason: scheduler.ReasonNoFeasibleWindow},
					application.ChangeResult{Unscheduled: []string{"task-1"}}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/tasks",
			`{"title":"Write report","category":"Health","duration_minutes":45,"min_duration_minutes":30,"deadline":"2025-03-04T17:00:00Z","time_flexible":false,"earliest_start":"2025-03-03T13:00:00Z","confidence":0.5}`)

		if recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
		}
		if captured.Duration != 45*time.Minute || captured.MinDuration != 30*time.Minute {
			t.Fatalf("unexpected durations %+v", captured)
		}
		if captured.Category != scheduler.CategoryHealth {
			t.Fatalf("expected normalized category, got %q", captured.Category)
		}
		if captured.TimeFlexible == nil || *captured.TimeFlexible {
			t.Fatal("expected time_flexible=false to be passed through")
		}
		if captured.Deadline == nil || captured.EarliestStart == nil || captured.Confidence == nil || *captured.Confidence != 0.5 {
			t.Fatalf("unexpected optional fields %+v", captured)
		}

		resp := decode[taskResponse](t, recorder)
		if resp.Task.Reason != "NoFeasibleWindow" || resp.Task.Assigned != nil {
			t.Fatalf("unexpected task %+v", resp.Task)
		}
		if len(resp.Change.Unscheduled) != 1 || resp.Change.Changed == nil {
			t.Fatalf("unexpected change %+v", resp.Change)
		}
	})

	t.Run("validation errors are localized", func(t *testing.T) {
		t.Parallel()

		stub := &plannerStub{
			addTask: func(string, application.TaskInput) (scheduler.Task, application.ChangeResult, error) {
				return scheduler.Task{}, application.ChangeResult{}, &application.ValidationError{FieldErrors: map[string]string{
					"title":    "title is required",
					"duration": "duration must be positive",
				}}
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/tasks", `{}`)
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", recorder.Code)
		}
		resp := decode[errorResponse](t, recorder)
		if resp.ErrorCode != "VALIDATION_FAILED" {
			t.Fatalf("unexpected error code %q", resp.ErrorCode)
		}
		if resp.Errors["title"] != "タイトルは必須です。" || resp.Errors["duration"] != "所要時間は正の値で指定してください。" {
			t.Fatalf("unexpected field errors %+v", resp.Errors)
		}
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodPost, "/tasks", `{"title":`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("unknown task maps to 404", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodGet, "/tasks/missing", "")
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", recorder.Code)
		}
	})

	t.Run("invalid transition maps to 409", func(t *testing.T) {
		t.Parallel()

		var gotID string
		stub := &plannerStub{
			completeTask: func(_, taskID string) (application.ChangeResult, error) {
				gotID = taskID
				return application.ChangeResult{}, fmt.Errorf("complete: %w", scheduler.ErrInvalidTransition)
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/tasks/task-9/complete", "")
		if recorder.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", recorder.Code)
		}
		if gotID != "task-9" {
			t.Fatalf("expected task id from path, got %q", gotID)
		}
		if resp := decode[errorResponse](t, recorder); resp.ErrorCode != "INVALID_TRANSITION" {
			t.Fatalf("unexpected error code %q", resp.ErrorCode)
		}
	})

	t.Run("times render in the requested zone", func(t *testing.T) {
		t.Parallel()

		if _, err := time.LoadLocation("Asia/Tokyo"); err != nil {
			t.Skipf("zone database unavailable: %v", err)
		}

		window := timewindow.MustNew(handlerNow.Add(time.Hour), handlerNow.Add(2*time.Hour))
		stub := &plannerStub{
			getTask: func(userID, taskID string) (scheduler.Task, error) {
				return scheduler.Task{ID: taskID, UserID: userID, Status: scheduler.StatusScheduled, Assigned: &window}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodGet, "/tasks/task-1?tz=Asia/Tokyo", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		dto := decode[taskDTO](t, recorder)
		if dto.Assigned == nil || dto.Assigned.Start != "2025-03-03T18:00:00+09:00" {
			t.Fatalf("unexpected assigned window %+v", dto.Assigned)
		}
	})

	t.Run("list filters by status", func(t *testing.T) {
		t.Parallel()

		stub := &plannerStub{tasks: []scheduler.Task{
			{ID: "a", Status: scheduler.StatusScheduled},
			{ID: "b", Status: scheduler.StatusUnscheduled},
			{ID: "c", Status: scheduler.StatusScheduled},
		}}

		recorder := serve(t, newTestRouter(stub), http.MethodGet, "/tasks?status=scheduled", "")
		resp := decode[listTasksResponse](t, recorder)
		if len(resp.Tasks) != 2 || resp.Tasks[0].ID != "a" || resp.Tasks[1].ID != "c" {
			t.Fatalf("unexpected tasks %+v", resp.Tasks)
		}
	})

	t.Run("alternatives are empty when nothing qualifies", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodGet, "/tasks/task-1/alternatives", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if body := strings.TrimSpace(recorder.Body.String()); body != `{"alternatives":[]}` {
			t.Fatalf("unexpected body %s", body)
		}
	})

	t.Run("unknown task action is not found", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodPost, "/tasks/task-1/archive", "")
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", recorder.Code)
		}
	})
}

func TestScheduleHandlers(t *testing.T) {
	t.Parallel()

	t.Run("get renders the schedule view", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodGet, "/schedule", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		view := decode[scheduleViewDTO](t, recorder)
		if view.Horizon.Start != "2025-03-03T08:00:00Z" || view.TimeZone != "UTC" {
			t.Fatalf("unexpected view %+v", view)
		}
		if view.Scheduled == nil || view.Unscheduled == nil || view.FixedEvents == nil {
			t.Fatalf("expected empty lists rather than null: %s", recorder.Body.String())
		}
	})

	t.Run("solve passes the full flag", func(t *testing.T) {
		t.Parallel()

		var gotFull bool
		stub := &plannerStub{
			solve: func(_ string, full bool) (application.ChangeResult, error) {
				gotFull = full
				return application.ChangeResult{Changed: []string{"task-1"}, Partial: true}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/schedule/solve?full=true", "")
		if recorder.Code != http.StatusOK || !gotFull {
			t.Fatalf("expected full solve, got status %d full=%v", recorder.Code, gotFull)
		}
		if resp := decode[changeResponse](t, recorder); !resp.Change.Partial {
			t.Fatalf("expected partial flag, got %+v", resp.Change)
		}

		recorder = serve(t, newTestRouter(stub), http.MethodPost, "/schedule/solve?full=maybe", "")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("intake without categorizer maps to 503", func(t *testing.T) {
		t.Parallel()

		stub := &plannerStub{
			ingest: func(string, string) (application.IntakeResult, error) {
				return application.IntakeResult{}, fmt.Errorf("%w: categorizer", application.ErrNotConfigured)
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/intake", `{"content":"buy milk"}`)
		if recorder.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", recorder.Code)
		}
	})

	t.Run("import forwards the body and calendar id", func(t *testing.T) {
		t.Parallel()

		var gotCalendar, gotBody string
		stub := &plannerStub{
			importCal: func(_, calendarID string, body []byte) (application.ImportReport, error) {
				gotCalendar, gotBody = calendarID, string(body)
				return application.ImportReport{
					CalendarID: calendarID,
					Created:    1,
					Conflicts: []application.ImportConflict{{
						UID:           "uid-1",
						EventID:       "evt-9",
						ConflictingID: "evt-1",
						Window:        timewindow.MustNew(handlerNow, handlerNow.Add(time.Hour)),
					}},
				}, nil
			},
		}

		recorder := serve(t, newTestRouter(stub), http.MethodPost, "/calendar/import?calendar_id=work", "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		if gotCalendar != "work" || !strings.HasPrefix(gotBody, "BEGIN:VCALENDAR") {
			t.Fatalf("unexpected forwarded values %q %q", gotCalendar, gotBody)
		}
		report := decode[importReportDTO](t, recorder)
		if report.Created != 1 || len(report.Conflicts) != 1 || report.Conflicts[0].ConflictingID != "evt-1" {
			t.Fatalf("unexpected report %+v", report)
		}
	})

	t.Run("export serves text/calendar", func(t *testing.T) {
		t.Parallel()

		recorder := serve(t, newTestRouter(&plannerStub{}), http.MethodGet, "/calendar/export.ics", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if ct := recorder.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
			t.Fatalf("unexpected content type %q", ct)
		}
		if !strings.Contains(recorder.Body.String(), "X-WR-CALNAME:user-1") {
			t.Fatalf("unexpected body %s", recorder.Body.String())
		}
	})
}

func TestHandleServiceErrorFallsBackTo500(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	newResponder(discardLogger()).handleServiceError(context.Background(), recorder, errors.New("boom"))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if resp := decode[errorResponse](t, recorder); resp.Message != "サーバー内部でエラーが発生しました。" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}
