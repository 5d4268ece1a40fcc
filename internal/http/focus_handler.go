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

type focusService interface {
	AddFocusBlock(ctx context.Context, userID string, input application.FocusBlockInput) (scheduler.FocusBlock, application.ChangeResult, error)
	RemoveFocusBlock(ctx context.Context, userID, blockID string) (application.ChangeResult, error)
	ListFocusBlocks(ctx context.Context, userID string) ([]scheduler.FocusBlock, error)
}

// FocusHandler serves focus blocks.
type FocusHandler struct {
	service   focusService
	responder responder
}

func NewFocusHandler(service focusService, logger *slog.Logger) *FocusHandler {
	return &FocusHandler{service: service, responder: newResponder(logger)}
}

func (h *FocusHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req focusBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, ok := req.toInput()
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	block, change, err := h.service.AddFocusBlock(r.Context(), userID, input)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	loc := LocationFromContext(r.Context())
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, focusBlockResponse{
		FocusBlock: toFocusBlockDTO(block, loc),
		Change:     toChangeDTO(change, loc),
	})
}

func (h *FocusHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	blockID, ok := ResourceIDFromContext(r.Context())
	if !ok || strings.TrimSpace(blockID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidID)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	change, err := h.service.RemoveFocusBlock(r.Context(), userID, blockID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeResponse{Change: toChangeDTO(change, LocationFromContext(r.Context()))})
}

func (h *FocusHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	blocks, err := h.service.ListFocusBlocks(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listFocusBlocksResponse{
		FocusBlocks: toFocusBlockDTOs(blocks, LocationFromContext(r.Context())),
	})
}

type focusBlockRequest struct {
	Title      string         `json:"title"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Policy     string         `json:"policy"`
	Priority   int            `json:"priority"`
	Recurrence *recurrenceDTO `json:"recurrence"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// toInput converts the request. Unknown weekday names make the request malformed.
func (r focusBlockRequest) toInput() (application.FocusBlockInput, bool) {
	input := application.FocusBlockInput{
		Title:    strings.TrimSpace(r.Title),
		Start:    parseTime(r.Start),
		End:      parseTime(r.End),
		Policy:   scheduler.InterruptionPolicy(strings.ToLower(strings.TrimSpace(r.Policy))),
		Priority: r.Priority,
	}
	if rec := r.Recurrence; rec != nil {
		in := &application.RecurrenceInput{
			RRule:     strings.TrimSpace(rec.RRule),
			Frequency: rec.Frequency,
			Interval:  rec.Interval,
			Until:     parseOptionalTime(rec.Until),
		}
		for _, name := range rec.Weekdays {
			day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return application.FocusBlockInput{}, false
			}
			in.Weekdays = append(in.Weekdays, day)
		}
		input.Recurrence = in
	}
	return input, true
}

type focusBlockResponse struct {
	FocusBlock focusBlockDTO `json:"focus_block"`
	Change     changeDTO     `json:"change"`
}

type listFocusBlocksResponse struct {
	FocusBlocks []focusBlockDTO `json:"focus_blocks"`
}
