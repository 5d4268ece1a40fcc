package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/scheduler"
)

type eventService interface {
	AddFixedEvent(ctx context.Context, userID string, input application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error)
	UpdateFixedEvent(ctx context.Context, userID, eventID string, input application.FixedEventInput) (scheduler.FixedEvent, application.ChangeResult, error)
	RemoveFixedEvent(ctx context.Context, userID, eventID string) (application.ChangeResult, error)
	ListFixedEvents(ctx context.Context, userID string) ([]scheduler.FixedEvent, error)
}

// EventHandler serves the user's fixed events.
type EventHandler struct {
	service   eventService
	responder responder
	logger    *slog.Logger
}

func NewEventHandler(service eventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req fixedEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	event, change, err := h.service.AddFixedEvent(r.Context(), userID, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	loc := LocationFromContext(r.Context())
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, fixedEventResponse{
		Event:  toFixedEventDTO(event, loc),
		Change: toChangeDTO(change, loc),
	})
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	eventID, ok := ResourceIDFromContext(r.Context())
	if !ok || strings.TrimSpace(eventID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidID)
		return
	}

	var req fixedEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	event, change, err := h.service.UpdateFixedEvent(r.Context(), userID, eventID, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	loc := LocationFromContext(r.Context())
	h.responder.writeJSON(r.Context(), w, http.StatusOK, fixedEventResponse{
		Event:  toFixedEventDTO(event, loc),
		Change: toChangeDTO(change, loc),
	})
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	eventID, ok := ResourceIDFromContext(r.Context())
	if !ok || strings.TrimSpace(eventID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidID)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	change, err := h.service.RemoveFixedEvent(r.Context(), userID, eventID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeResponse{Change: toChangeDTO(change, LocationFromContext(r.Context()))})
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	events, err := h.service.ListFixedEvents(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "EventHandler", "List").DebugContext(r.Context(), "fixed events listed", "count", len(events))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listFixedEventsResponse{
		Events: toFixedEventDTOs(events, LocationFromContext(r.Context())),
	})
}

type fixedEventRequest struct {
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r fixedEventRequest) toInput() application.FixedEventInput {
	return application.FixedEventInput{
		Title: strings.TrimSpace(r.Title),
		Start: parseTime(r.Start),
		End:   parseTime(r.End),
	}
}

type fixedEventResponse struct {
	Event  fixedEventDTO `json:"event"`
	Change changeDTO     `json:"change"`
}

type listFixedEventsResponse struct {
	Events []fixedEventDTO `json:"events"`
}

type changeResponse struct {
	Change changeDTO `json:"change"`
}
