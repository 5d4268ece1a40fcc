// Package categorize turns free text into tagged action items that can be
// created as tasks.
package categorize

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

// ErrEmptyContent is returned when there is nothing to categorize.
var ErrEmptyContent = errors.New("categorize: empty content")

// Suggestion is one action item extracted from content.
type Suggestion struct {
	Title    string
	Category scheduler.Category
	Duration time.Duration
	Deadline *time.Time
	Priority int
	// Confidence in [0, 1] is reported by the categorizer and carried unchanged.
	Confidence float64
}

// Categorizer extracts suggestions from uploaded text.
type Categorizer interface {
	Categorize(ctx context.Context, text string) ([]Suggestion, error)
}

// DefaultDuration is used for suggestions that carry no duration.
const DefaultDuration = 30 * time.Minute

// ToTaskDrafts converts suggestions into unsaved tasks. Ids, owners and
// timestamps are left for the caller.
func ToTaskDrafts(suggestions []Suggestion) []scheduler.Task {
	drafts := make([]scheduler.Task, 0, len(suggestions))
	for _, s := range suggestions {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		duration := s.Duration
		if duration <= 0 {
			duration = DefaultDuration
		}
		var deadline *time.Time
		if s.Deadline != nil {
			d := s.Deadline.UTC()
			deadline = &d
		}
		drafts = append(drafts, scheduler.Task{
			Title:        title,
			Category:     s.Category,
			Duration:     duration,
			Deadline:     deadline,
			Priority:     s.Priority,
			TimeFlexible: true,
			Confidence:   s.Confidence,
			Status:       scheduler.StatusUnscheduled,
		})
	}
	return drafts
}
