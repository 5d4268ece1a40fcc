package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/visionary-scheduler/internal/timewindow"
)

const defaultMaxOccurrencesPerEvent = 5000

// Occurrence is one concrete instance of an imported event.
type Occurrence struct {
	UID string
	// InstanceKey identifies the instance within its series: the original
	// start in UTC for recurring events, empty for single events.
	InstanceKey string
	Summary     string
	Window      timewindow.Window
	AllDay      bool
}

// ExpandOptions bounds the expansion.
type ExpandOptions struct {
	Range       timewindow.Window
	MaxPerEvent int
}

// ExpandResult lists occurrences sorted by start and the series that hit
// the per-event cap or carried an unusable RRULE.
type ExpandResult struct {
	Occurrences []Occurrence
	Truncated   []string
	Invalid     []error
}

// Expand turns parsed events into occurrences intersecting opts.Range.
// Cancelled and transparent events occupy no time and are dropped. An
// override (RECURRENCE-ID) replaces the series instance it names.
func Expand(events []ParsedEvent, opts ExpandOptions) ExpandResult {
	if opts.MaxPerEvent <= 0 {
		opts.MaxPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridden := make(map[string]bool)
	var result ExpandResult
	for _, ev := range events {
		if ev.RecurrenceID == nil {
			continue
		}
		key := instanceKey(*ev.RecurrenceID)
		overridden[ev.UID+"|"+key] = true
		if occ, ok := occurrenceOf(ev, ev.Start, ev.End, key, opts.Range); ok {
			result.Occurrences = append(result.Occurrences, occ)
		}
	}

	for _, ev := range events {
		if ev.RecurrenceID != nil {
			continue
		}
		if ev.RRule == "" {
			if occ, ok := occurrenceOf(ev, ev.Start, ev.End, "", opts.Range); ok {
				result.Occurrences = append(result.Occurrences, occ)
			}
			continue
		}
		occs, truncated, err := expandSeries(ev, overridden, opts)
		if err != nil {
			result.Invalid = append(result.Invalid, err)
			continue
		}
		if truncated {
			result.Truncated = append(result.Truncated, ev.UID)
		}
		result.Occurrences = append(result.Occurrences, occs...)
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		a, b := result.Occurrences[i], result.Occurrences[j]
		if !a.Window.Start().Equal(b.Window.Start()) {
			return a.Window.Start().Before(b.Window.Start())
		}
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		return a.InstanceKey < b.InstanceKey
	})
	return result
}

func expandSeries(ev ParsedEvent, overridden map[string]bool, opts ExpandOptions) ([]Occurrence, bool, error) {
	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, false, fmt.Errorf("calendar: event %s RRULE %q: %w", ev.UID, ev.RRule, err)
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	length := ev.End.Sub(ev.Start)
	// Instances starting before the range may still reach into it.
	from := opts.Range.Start().Add(-length).In(ev.Start.Location())
	to := opts.Range.End().In(ev.Start.Location())
	starts := set.Between(from, to, true)

	truncated := false
	if len(starts) > opts.MaxPerEvent {
		starts = starts[:opts.MaxPerEvent]
		truncated = true
	}

	var out []Occurrence
	for _, start := range starts {
		key := instanceKey(start)
		if overridden[ev.UID+"|"+key] {
			continue
		}
		end := start.Add(length)
		if ev.AllDay {
			// Keep all-day instances on local day boundaries across DST changes.
			end = start.AddDate(0, 0, int(length/(24*time.Hour)))
		}
		if occ, ok := occurrenceOf(ev, start, end, key, opts.Range); ok {
			out = append(out, occ)
		}
	}
	return out, truncated, nil
}

func occurrenceOf(ev ParsedEvent, start, end time.Time, key string, bounds timewindow.Window) (Occurrence, bool) {
	if ev.Cancelled || ev.Transparent {
		return Occurrence{}, false
	}
	w, err := timewindow.New(start, end)
	if err != nil || !timewindow.Overlaps(w, bounds) {
		return Occurrence{}, false
	}
	return Occurrence{UID: ev.UID, InstanceKey: key, Summary: ev.Summary, Window: w, AllDay: ev.AllDay}, true
}

func instanceKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
