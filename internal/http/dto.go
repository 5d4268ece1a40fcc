package http

import (
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/application"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// Times are rendered as RFC 3339 in the request's presentation zone.

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time, loc *time.Location) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t, loc)
	return &s
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

func parseOptionalTime(value *string) *time.Time {
	if value == nil {
		return nil
	}
	ts := parseTime(*value)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

type windowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toWindowDTO(w timewindow.Window, loc *time.Location) windowDTO {
	return windowDTO{Start: formatTime(w.Start(), loc), End: formatTime(w.End(), loc)}
}

type fixedEventDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Source      string `json:"source"`
	CalendarID  string `json:"calendar_id,omitempty"`
	ExternalUID string `json:"external_uid,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toFixedEventDTO(event scheduler.FixedEvent, loc *time.Location) fixedEventDTO {
	return fixedEventDTO{
		ID:          event.ID,
		Title:       event.Title,
		Start:       formatTime(event.Window.Start(), loc),
		End:         formatTime(event.Window.End(), loc),
		Source:      string(event.Source),
		CalendarID:  event.CalendarID,
		ExternalUID: event.ExternalUID,
		CreatedAt:   formatTime(event.CreatedAt, loc),
		UpdatedAt:   formatTime(event.UpdatedAt, loc),
	}
}

func toFixedEventDTOs(events []scheduler.FixedEvent, loc *time.Location) []fixedEventDTO {
	out := make([]fixedEventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, toFixedEventDTO(event, loc))
	}
	return out
}

type recurrenceDTO struct {
	RRule     string   `json:"rrule,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	Interval  int      `json:"interval,omitempty"`
	Weekdays  []string `json:"weekdays,omitempty"`
	Until     *string  `json:"until,omitempty"`
}

type focusBlockDTO struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Policy     string         `json:"policy"`
	Priority   int            `json:"priority"`
	Recurrence *recurrenceDTO `json:"recurrence,omitempty"`
}

func toFocusBlockDTO(block scheduler.FocusBlock, loc *time.Location) focusBlockDTO {
	dto := focusBlockDTO{
		ID:       block.ID,
		Title:    block.Title,
		Start:    formatTime(block.Window.Start(), loc),
		End:      formatTime(block.Window.End(), loc),
		Policy:   string(block.Policy),
		Priority: block.Priority,
	}
	if rule := block.Recurrence; rule != nil {
		rec := &recurrenceDTO{
			RRule:    rule.RRule,
			Interval: rule.Interval,
			Until:    formatOptionalTime(rule.EndsOn, loc),
		}
		if rule.RRule == "" {
			rec.Frequency = rule.Frequency.String()
		}
		for _, day := range rule.Weekdays {
			rec.Weekdays = append(rec.Weekdays, strings.ToLower(day.String()))
		}
		dto.Recurrence = rec
	}
	return dto
}

func toFocusBlockDTOs(blocks []scheduler.FocusBlock, loc *time.Location) []focusBlockDTO {
	out := make([]focusBlockDTO, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, toFocusBlockDTO(block, loc))
	}
	return out
}

type focusWindowDTO struct {
	BlockID  string `json:"block_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Policy   string `json:"policy"`
	Priority int    `json:"priority"`
}

type taskDTO struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Category           string     `json:"category,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	MinDurationMinutes int        `json:"min_duration_minutes,omitempty"`
	Deadline           *string    `json:"deadline,omitempty"`
	EarliestStart      *string    `json:"earliest_start,omitempty"`
	Priority           int        `json:"priority"`
	TimeFlexible       bool       `json:"time_flexible"`
	DurationFlexible   bool       `json:"duration_flexible"`
	AllowFocusOverride bool       `json:"allow_focus_override"`
	Confidence         float64    `json:"confidence"`
	Status             string     `json:"status"`
	Assigned           *windowDTO `json:"assigned,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	OverriddenFocus    []string   `json:"overridden_focus,omitempty"`
	CreatedAt          string     `json:"created_at"`
	UpdatedAt          string     `json:"updated_at"`
}

func toTaskDTO(task scheduler.Task, loc *time.Location) taskDTO {
	dto := taskDTO{
		ID:                 task.ID,
		Title:              task.Title,
		Category:           string(task.Category),
		DurationMinutes:    int(task.Duration / time.Minute),
		MinDurationMinutes: int(task.MinDuration / time.Minute),
		Deadline:           formatOptionalTime(task.Deadline, loc),
		EarliestStart:      formatOptionalTime(task.EarliestStart, loc),
		Priority:           task.Priority,
		TimeFlexible:       task.TimeFlexible,
		DurationFlexible:   task.DurationFlexible,
		AllowFocusOverride: task.AllowFocusOverride,
		Confidence:         task.Confidence,
		Status:             string(task.Status),
		Reason:             string(task.Reason),
		OverriddenFocus:    append([]string(nil), task.OverriddenFocus...),
		CreatedAt:          formatTime(task.CreatedAt, loc),
		UpdatedAt:          formatTime(task.UpdatedAt, loc),
	}
	if task.Assigned != nil {
		w := toWindowDTO(*task.Assigned, loc)
		dto.Assigned = &w
	}
	return dto
}

func toTaskDTOs(tasks []scheduler.Task, loc *time.Location) []taskDTO {
	out := make([]taskDTO, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, toTaskDTO(task, loc))
	}
	return out
}

type alternativeDTO struct {
	TaskID          string    `json:"task_id"`
	Window          windowDTO `json:"window"`
	OverriddenFocus []string  `json:"overridden_focus"`
}

func toAlternativeDTO(alt scheduler.Alternative, loc *time.Location) alternativeDTO {
	return alternativeDTO{
		TaskID:          alt.TaskID,
		Window:          toWindowDTO(alt.Window, loc),
		OverriddenFocus: append([]string(nil), alt.OverriddenFocus...),
	}
}

type changeDTO struct {
	Changed      []string         `json:"changed_task_ids"`
	Unscheduled  []string         `json:"unscheduled_task_ids"`
	Demoted      []string         `json:"demoted_task_ids,omitempty"`
	Alternatives []alternativeDTO `json:"alternatives,omitempty"`
	Partial      bool             `json:"partial,omitempty"`
}

func toChangeDTO(change application.ChangeResult, loc *time.Location) changeDTO {
	dto := changeDTO{
		Changed:     nonNil(change.Changed),
		Unscheduled: nonNil(change.Unscheduled),
		Demoted:     change.Demoted,
		Partial:     change.Partial,
	}
	for _, alt := range change.Alternatives {
		dto.Alternatives = append(dto.Alternatives, toAlternativeDTO(alt, loc))
	}
	return dto
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

type attemptDTO struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"task_id"`
	Type          string     `json:"type"`
	Trigger       string     `json:"trigger"`
	AttemptedAt   string     `json:"attempted_at"`
	OldWindow     windowDTO  `json:"old_window"`
	NewWindow     *windowDTO `json:"new_window,omitempty"`
	Success       bool       `json:"success"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

func toAttemptDTOs(attempts []scheduler.RescheduleAttempt, loc *time.Location) []attemptDTO {
	out := make([]attemptDTO, 0, len(attempts))
	for _, a := range attempts {
		dto := attemptDTO{
			ID:            a.ID,
			TaskID:        a.TaskID,
			Type:          string(a.Type),
			Trigger:       string(a.Trigger),
			AttemptedAt:   formatTime(a.AttemptedAt, loc),
			OldWindow:     toWindowDTO(a.OldWindow, loc),
			Success:       a.Success,
			FailureReason: string(a.FailureReason),
		}
		if a.NewWindow != nil {
			w := toWindowDTO(*a.NewWindow, loc)
			dto.NewWindow = &w
		}
		out = append(out, dto)
	}
	return out
}
