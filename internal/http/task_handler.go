package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/scheduler"
)

type taskService interface {
	AddTask(ctx context.Context, userID string, input application.TaskInput) (scheduler.Task, application.ChangeResult, error)
	UpdateTask(ctx context.Context, userID, taskID string, input application.TaskInput) (scheduler.Task, application.ChangeResult, error)
	RemoveTask(ctx context.Context, userID, taskID string) (application.ChangeResult, error)
	CompleteTask(ctx context.Context, userID, taskID string) (application.ChangeResult, error)
	SkipTask(ctx context.Context, userID, taskID string) (application.ChangeResult, error)
	GetTask(ctx context.Context, userID, taskID string) (scheduler.Task, error)
	ListTasks(ctx context.Context, userID string) ([]scheduler.Task, error)
	SuggestAlternative(ctx context.Context, userID, taskID string) (scheduler.Alternative, bool, error)
	ListAttempts(ctx context.Context, userID, taskID string) ([]scheduler.RescheduleAttempt, error)
}

// TaskHandler serves tasks and their per-task actions.
type TaskHandler struct {
	service   taskService
	responder responder
}

func NewTaskHandler(service taskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{service: service, responder: newResponder(logger)}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	task, change, err := h.service.AddTask(r.Context(), userID, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderTask(r.Context(), w, task, change, http.StatusCreated)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	task, change, err := h.service.UpdateTask(r.Context(), userID, taskID, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderTask(r.Context(), w, task, change, http.StatusOK)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	task, err := h.service.GetTask(r.Context(), userID, taskID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTaskDTO(task, LocationFromContext(r.Context())))
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, func(ctx context.Context, userID, taskID string) (application.ChangeResult, error) {
		return h.service.RemoveTask(ctx, userID, taskID)
	})
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, func(ctx context.Context, userID, taskID string) (application.ChangeResult, error) {
		return h.service.CompleteTask(ctx, userID, taskID)
	})
}

func (h *TaskHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, func(ctx context.Context, userID, taskID string) (application.ChangeResult, error) {
		return h.service.SkipTask(ctx, userID, taskID)
	})
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	tasks, err := h.service.ListTasks(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if string(task.Status) == status {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listTasksResponse{Tasks: toTaskDTOs(tasks, LocationFromContext(r.Context()))})
}

// Alternatives reports a placement that overrides low-priority focus
// blocks. Nothing is committed.
func (h *TaskHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	alt, found, err := h.service.SuggestAlternative(r.Context(), userID, taskID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	response := alternativesResponse{Alternatives: []alternativeDTO{}}
	if found {
		response.Alternatives = append(response.Alternatives, toAlternativeDTO(alt, LocationFromContext(r.Context())))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, response)
}

func (h *TaskHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	attempts, err := h.service.ListAttempts(r.Context(), userID, taskID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listAttemptsResponse{Attempts: toAttemptDTOs(attempts, LocationFromContext(r.Context()))})
}

func (h *TaskHandler) change(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, taskID string) (application.ChangeResult, error)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	change, err := fn(r.Context(), userID, taskID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeResponse{Change: toChangeDTO(change, LocationFromContext(r.Context()))})
}

func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID, ok := ResourceIDFromContext(r.Context())
	if !ok || strings.TrimSpace(taskID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidID)
		return "", false
	}
	return taskID, true
}

func (h *TaskHandler) renderTask(ctx context.Context, w http.ResponseWriter, task scheduler.Task, change application.ChangeResult, status int) {
	loc := LocationFromContext(ctx)
	h.responder.writeJSON(ctx, w, status, taskResponse{
		Task:   toTaskDTO(task, loc),
		Change: toChangeDTO(change, loc),
	})
}

type taskRequest struct {
	Title              string   `json:"title"`
	Category           string   `json:"category"`
	DurationMinutes    int      `json:"duration_minutes"`
	MinDurationMinutes int      `json:"min_duration_minutes"`
	Deadline           *string  `json:"deadline"`
	EarliestStart      *string  `json:"earliest_start"`
	Priority           int      `json:"priority"`
	TimeFlexible       *bool    `json:"time_flexible"`
	AllowFocusOverride bool     `json:"allow_focus_override"`
	Confidence         *float64 `json:"confidence"`
}

func (r taskRequest) toInput() application.TaskInput {
	return application.TaskInput{
		Title:              strings.TrimSpace(r.Title),
		Category:           scheduler.Category(strings.ToLower(strings.TrimSpace(r.Category))),
		Duration:           time.Duration(r.DurationMinutes) * time.Minute,
		MinDuration:        time.Duration(r.MinDurationMinutes) * time.Minute,
		Deadline:           parseOptionalTime(r.Deadline),
		EarliestStart:      parseOptionalTime(r.EarliestStart),
		Priority:           r.Priority,
		TimeFlexible:       r.TimeFlexible,
		AllowFocusOverride: r.AllowFocusOverride,
		Confidence:         r.Confidence,
	}
}

type taskResponse struct {
	Task   taskDTO   `json:"task"`
	Change changeDTO `json:"change"`
}

type listTasksResponse struct {
	Tasks []taskDTO `json:"tasks"`
}

type alternativesResponse struct {
	Alternatives []alternativeDTO `json:"alternatives"`
}

type listAttemptsResponse struct {
	Attempts []attemptDTO `json:"attempts"`
}
