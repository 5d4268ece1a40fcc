package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/calendar"
	"github.com/example/visionary-scheduler/internal/categorize"
	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

// ImportCalendar brings the user's events from calendarID in line with an
// ICS feed. Instances overlapping an existing fixed event are reported as
// conflicts and skipped; the rest of the feed is still applied.
func (s *PlannerService) ImportCalendar(ctx context.Context, userID, calendarID string, body []byte) (report ImportReport, err error) {
	logger := s.loggerWith(ctx, "ImportCalendar", "user_id", userID, "calendar_id", calendarID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to import calendar", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"created", report.Created,
			"updated", report.Updated,
			"removed", report.Removed,
			"conflicts", len(report.Conflicts),
		).InfoContext(ctx, "calendar imported")
	}()

	vErr := &ValidationError{}
	if e := requireUser(userID); e != nil {
		vErr.merge(e.(*ValidationError))
	}
	calendarID = strings.TrimSpace(calendarID)
	if calendarID == "" {
		vErr.add("calendar_id", "calendar id is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	parsed, perr := calendar.ParseICS(body, s.feedLocation)
	if perr != nil {
		vErr.add("body", perr.Error())
		err = vErr
		return
	}

	syncRange := s.syncRange()
	expanded := calendar.Expand(parsed.Events, calendar.ExpandOptions{Range: syncRange, MaxPerEvent: s.maxOccurrences})

	report = ImportReport{
		CalendarID:  calendarID,
		Events:      len(parsed.Events),
		Occurrences: len(expanded.Occurrences),
		Truncated:   expanded.Truncated,
	}
	for _, e := range parsed.Skipped {
		report.Skipped = append(report.Skipped, e.Error())
	}
	for _, e := range expanded.Invalid {
		report.Skipped = append(report.Skipped, e.Error())
	}

	report.Change, err = s.mutate(ctx, userID, func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error) {
		disruptions := calendar.Diff(userID, calendarID, store.FixedEvents(), expanded.Occurrences, syncRange)
		outcomes := make([]scheduler.Outcome, 0, len(disruptions))
		for _, d := range disruptions {
			outcome, err := s.handler.Handle(ctx, store, d)
			var overlap *scheduler.OverlapError
			switch {
			case errors.As(err, &overlap):
				report.Conflicts = append(report.Conflicts, ImportConflict{
					UID:           d.FixedEvent.ExternalUID,
					EventID:       d.FixedEvent.ID,
					ConflictingID: overlap.ConflictingID,
					Window:        d.FixedEvent.Window,
				})
				continue
			case errors.Is(err, scheduler.ErrInvalid):
				report.Skipped = append(report.Skipped, fmt.Sprintf("event %s: %v", d.FixedEvent.ExternalUID, err))
				continue
			case err != nil:
				return nil, err
			}
			switch d.Kind {
			case scheduler.DisruptionFixedEventAdded:
				report.Created++
			case scheduler.DisruptionFixedEventUpdated:
				report.Updated++
			case scheduler.DisruptionFixedEventRemoved:
				report.Removed++
			}
			outcomes = append(outcomes, outcome)
		}
		return outcomes, nil
	})
	return
}

// ImportFeed adapts ImportCalendar to the periodic calendar syncer.
func (s *PlannerService) ImportFeed(ctx context.Context, src calendar.Source, body []byte) error {
	_, err := s.ImportCalendar(ctx, src.UserID, src.ID, body)
	return err
}

// syncRange starts at midnight UTC today so events earlier today still
// block time, and ends with the planning horizon.
func (s *PlannerService) syncRange() timewindow.Window {
	horizon := s.handler.Solver().Horizon()
	start := s.now().UTC().Truncate(24 * time.Hour)
	return timewindow.MustNew(start, horizon.End())
}

// ExportCalendar writes the user's fixed events and placed tasks as ICS.
func (s *PlannerService) ExportCalendar(ctx context.Context, userID string, w io.Writer) error {
	store, err := s.readStore(ctx, userID)
	if err != nil {
		return err
	}
	if err := calendar.ExportICS(w, store.FixedEvents(), store.Tasks(), s.now()); err != nil {
		s.loggerWith(ctx, "ExportCalendar", "user_id", userID).
			ErrorContext(ctx, "failed to export calendar", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	return nil
}

// IngestContent turns free text into tasks through the categorizer and
// places them. The categorizer's confidence is kept on each task.
func (s *PlannerService) IngestContent(ctx context.Context, userID, content string) (result IntakeResult, err error) {
	logger := s.loggerWith(ctx, "IngestContent", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to ingest content", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("tasks", len(result.Tasks), "unscheduled", len(result.Change.Unscheduled)).InfoContext(ctx, "content ingested")
	}()

	if err = requireUser(userID); err != nil {
		return
	}
	if s.categorizer == nil {
		err = fmt.Errorf("%w: categorizer", ErrNotConfigured)
		return
	}

	suggestions, cerr := s.categorizer.Categorize(ctx, content)
	if cerr != nil {
		if errors.Is(cerr, categorize.ErrEmptyContent) {
			vErr := &ValidationError{}
			vErr.add("content", "content is required")
			err = vErr
			return
		}
		err = fmt.Errorf("categorize content: %w", cerr)
		return
	}
	result.Suggestions = suggestions

	drafts := categorize.ToTaskDrafts(suggestions)
	if len(drafts) == 0 {
		return
	}
	for i := range drafts {
		drafts[i].ID = s.idGenerator()
		drafts[i].UserID = userID
	}

	result.Change, err = s.mutate(ctx, userID, func(ctx context.Context, store *scheduler.ConstraintStore) ([]scheduler.Outcome, error) {
		outcomes := make([]scheduler.Outcome, 0, len(drafts))
		for _, draft := range drafts {
			outcome, err := s.handler.Handle(ctx, store, scheduler.Disruption{Kind: scheduler.DisruptionTaskAdded, Task: draft})
			if err != nil {
				return nil, err
			}
			outcomes = append(outcomes, outcome)
		}
		result.Tasks = result.Tasks[:0]
		for _, draft := range drafts {
			task, _ := store.Task(draft.ID)
			result.Tasks = append(result.Tasks, task)
		}
		return outcomes, nil
	})
	return
}
