package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/scheduler"
)

// maxCalendarBody bounds an uploaded ICS feed.
const maxCalendarBody = 4 << 20

var errCalendarTooLarge = errors.New("カレンダーデータが大きすぎます。")

type scheduleService interface {
	GetSchedule(ctx context.Context, userID string) (application.ScheduleView, error)
	Solve(ctx context.Context, userID string, full bool) (application.ChangeResult, error)
	IngestContent(ctx context.Context, userID, content string) (application.IntakeResult, error)
	ImportCalendar(ctx context.Context, userID, calendarID string, body []byte) (application.ImportReport, error)
	ExportCalendar(ctx context.Context, userID string, w io.Writer) error
}

// ScheduleHandler serves the derived schedule, content intake and the ICS
// import and export endpoints.
type ScheduleHandler struct {
	service   scheduleService
	responder responder
	logger    *slog.Logger
}

func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	view, err := h.service.GetSchedule(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toScheduleViewDTO(view, LocationFromContext(r.Context())))
}

// Solve re-runs the solver. With ?full=true placed tasks may move as well.
func (h *ScheduleHandler) Solve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	full := false
	if raw := strings.TrimSpace(r.URL.Query().Get("full")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		full = parsed
	}

	userID, _ := UserIDFromContext(r.Context())
	change, err := h.service.Solve(r.Context(), userID, full)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeResponse{Change: toChangeDTO(change, LocationFromContext(r.Context()))})
}

func (h *ScheduleHandler) Intake(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	result, err := h.service.IngestContent(r.Context(), userID, req.Content)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	loc := LocationFromContext(r.Context())
	response := intakeResponse{
		Suggestions: make([]suggestionDTO, 0, len(result.Suggestions)),
		Tasks:       toTaskDTOs(result.Tasks, loc),
		Change:      toChangeDTO(result.Change, loc),
	}
	for _, s := range result.Suggestions {
		response.Suggestions = append(response.Suggestions, suggestionDTO{
			Title:           s.Title,
			Category:        string(s.Category),
			DurationMinutes: int(s.Duration / time.Minute),
			Deadline:        formatOptionalTime(s.Deadline, loc),
			Priority:        s.Priority,
			Confidence:      s.Confidence,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, response)
}

// Import accepts a raw ICS body for the calendar named by ?calendar_id=.
func (h *ScheduleHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCalendarBody+1))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if len(body) > maxCalendarBody {
		h.responder.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, errCalendarTooLarge)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	calendarID := strings.TrimSpace(r.URL.Query().Get("calendar_id"))
	report, err := h.service.ImportCalendar(r.Context(), userID, calendarID, body)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toImportReportDTO(report, LocationFromContext(r.Context())))
}

func (h *ScheduleHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	var buf bytes.Buffer
	if err := h.service.ExportCalendar(r.Context(), userID, &buf); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="visionary.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		handlerLogger(r.Context(), h.logger, "ScheduleHandler", "Export").WarnContext(r.Context(), "failed to write calendar", "error", err)
	}
}

type intakeRequest struct {
	Content string `json:"content"`
}

type suggestionDTO struct {
	Title           string  `json:"title"`
	Category        string  `json:"category"`
	DurationMinutes int     `json:"duration_minutes"`
	Deadline        *string `json:"deadline,omitempty"`
	Priority        int     `json:"priority"`
	Confidence      float64 `json:"confidence"`
}

type intakeResponse struct {
	Suggestions []suggestionDTO `json:"suggestions"`
	Tasks       []taskDTO       `json:"tasks"`
	Change      changeDTO       `json:"change"`
}

type scheduleViewDTO struct {
	Horizon     windowDTO        `json:"horizon"`
	FixedEvents []fixedEventDTO  `json:"fixed_events"`
	Focus       []focusWindowDTO `json:"focus"`
	Scheduled   []taskDTO        `json:"scheduled"`
	Unscheduled []taskDTO        `json:"unscheduled"`
	GeneratedAt string           `json:"generated_at"`
	TimeZone    string           `json:"time_zone"`
}

func toScheduleViewDTO(view application.ScheduleView, loc *time.Location) scheduleViewDTO {
	return scheduleViewDTO{
		Horizon:     toWindowDTO(view.Horizon, loc),
		FixedEvents: toFixedEventDTOs(view.FixedEvents, loc),
		Focus:       toFocusWindowDTOs(view.Focus, loc),
		Scheduled:   toTaskDTOs(view.Scheduled, loc),
		Unscheduled: toTaskDTOs(view.Unscheduled, loc),
		GeneratedAt: formatTime(view.GeneratedAt, loc),
		TimeZone:    loc.String(),
	}
}

func toFocusWindowDTOs(windows []scheduler.FocusWindow, loc *time.Location) []focusWindowDTO {
	out := make([]focusWindowDTO, 0, len(windows))
	for _, fw := range windows {
		out = append(out, focusWindowDTO{
			BlockID:  fw.BlockID,
			Start:    formatTime(fw.Window.Start(), loc),
			End:      formatTime(fw.Window.End(), loc),
			Policy:   string(fw.Policy),
			Priority: fw.Priority,
		})
	}
	return out
}

type importConflictDTO struct {
	UID           string    `json:"uid"`
	EventID       string    `json:"event_id"`
	ConflictingID string    `json:"conflicting_id"`
	Window        windowDTO `json:"window"`
}

type importReportDTO struct {
	CalendarID  string              `json:"calendar_id"`
	Events      int                 `json:"events"`
	Occurrences int                 `json:"occurrences"`
	Created     int                 `json:"created"`
	Updated     int                 `json:"updated"`
	Removed     int                 `json:"removed"`
	Conflicts   []importConflictDTO `json:"conflicts"`
	Skipped     []string            `json:"skipped,omitempty"`
	Truncated   []string            `json:"truncated,omitempty"`
	Change      changeDTO           `json:"change"`
}

func toImportReportDTO(report application.ImportReport, loc *time.Location) importReportDTO {
	dto := importReportDTO{
		CalendarID:  report.CalendarID,
		Events:      report.Events,
		Occurrences: report.Occurrences,
		Created:     report.Created,
		Updated:     report.Updated,
		Removed:     report.Removed,
		Conflicts:   make([]importConflictDTO, 0, len(report.Conflicts)),
		Skipped:     report.Skipped,
		Truncated:   report.Truncated,
		Change:      toChangeDTO(report.Change, loc),
	}
	for _, c := range report.Conflicts {
		dto.Conflicts = append(dto.Conflicts, importConflictDTO{
			UID:           c.UID,
			EventID:       c.EventID,
			ConflictingID: c.ConflictingID,
			Window:        toWindowDTO(c.Window, loc),
		})
	}
	return dto
}
