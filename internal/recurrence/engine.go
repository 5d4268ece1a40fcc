package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const defaultMaxOccurrences = 5000

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily generates occurrences for each day within the range.
	FrequencyDaily
	// FrequencyWeekly generates occurrences for the selected weekdays.
	FrequencyWeekly
)

// String returns the lower-case name used in persistence and the API.
func (f Frequency) String() string {
	switch f {
	case FrequencyDaily:
		return "daily"
	case FrequencyWeekly:
		return "weekly"
	default:
		return ""
	}
}

// ParseFrequency maps the textual form back to a Frequency.
func ParseFrequency(value string) Frequency {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "daily":
		return FrequencyDaily
	case "weekly":
		return FrequencyWeekly
	default:
		return FrequencyUnspecified
	}
}

// Rule describes how a protected window repeats.
//
// When RRule is set it is interpreted as an RFC 5545 recurrence rule body
// (for example "FREQ=WEEKLY;BYDAY=MO,WE") and takes precedence over
// Frequency/Weekdays/Interval.
type Rule struct {
	ID        string
	OwnerID   string
	RRule     string
	Frequency Frequency
	Interval  int
	Weekdays  []time.Weekday
	StartsOn  time.Time
	EndsOn    *time.Time
	ExDates   []time.Time
}

// GenerateOptions defines optional range bounds for occurrence generation.
type GenerateOptions struct {
	RangeStart *time.Time
	RangeEnd   *time.Time
	// MaxOccurrences caps expansion; zero means the package default. Ranges
	// holding more fail with ErrTooManyOccurrences.
	MaxOccurrences int
}

// Occurrence represents a generated instance of a recurrence rule.
type Occurrence struct {
	OwnerID string
	RuleID  string
	Start   time.Time
	End     time.Time
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that evaluates wall-clock recurrences in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the zone recurrences are evaluated in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the generation window is unbounded.
var ErrInvalidWindow = errors.New("recurrence: generation window requires an end bound")

// ErrInvalidDuration indicates the base window duration is invalid.
var ErrInvalidDuration = errors.New("recurrence: duration must be positive")

// ErrTooManyOccurrences is returned when a range holds more occurrences
// than the cap. Results are never silently truncated.
var ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")

// ErrInvalidRule indicates the RRULE text could not be parsed.
var ErrInvalidRule = errors.New("recurrence: invalid rule")

// Validate checks that the rule can be expanded without a range.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.RRule) != "" {
		if _, err := rrule.StrToROption(normalizeRRule(r.RRule)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		return nil
	}
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly:
	default:
		return ErrInvalidFrequency
	}
	if r.StartsOn.IsZero() {
		return fmt.Errorf("%w: starts_on is required", ErrInvalidRule)
	}
	if r.EndsOn != nil && r.EndsOn.Before(r.StartsOn) {
		return fmt.Errorf("%w: ends_on precedes starts_on", ErrInvalidRule)
	}
	return nil
}

// GenerateOccurrences produces occurrences whose [Start, End) overlaps the
// generation window.
//
// The engine enforces the following semantics:
//   - baseStart/baseEnd give the wall-clock time of day and duration of each
//     occurrence; they are interpreted in the engine's location so that a
//     09:00 block stays at 09:00 across DST changes.
//   - The generation window is bounded by the rule's EndsOn and the optional
//     range end; one of the two is required.
//   - Weekly rules without weekdays produce nothing; daily rules may filter
//     by weekdays when provided.
//   - Results are ordered by start. A range holding more than
//     MaxOccurrences fails with ErrTooManyOccurrences.
func (e *Engine) GenerateOccurrences(rule Rule, baseStart, baseEnd time.Time, opts GenerateOptions) ([]Occurrence, error) {
	loc := e.Location()

	baseStart = baseStart.In(loc)
	baseEnd = baseEnd.In(loc)
	if !baseEnd.After(baseStart) {
		return nil, ErrInvalidDuration
	}
	duration := baseEnd.Sub(baseStart)

	var upper time.Time
	if rule.EndsOn != nil {
		upper = rule.EndsOn.In(loc)
	}
	if opts.RangeEnd != nil {
		rangeEnd := opts.RangeEnd.In(loc)
		if upper.IsZero() || rangeEnd.Before(upper) {
			upper = rangeEnd
		}
	}
	if upper.IsZero() {
		return nil, ErrInvalidWindow
	}

	lower := time.Time{}
	if opts.RangeStart != nil {
		// Occurrences that started earlier may still overlap the range.
		lower = opts.RangeStart.In(loc).Add(-duration)
	}

	set, err := e.buildSet(rule, baseStart)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, nil
	}

	from := baseStart
	if lower.After(from) {
		from = lower
	}
	if from.After(upper) {
		return nil, nil
	}

	limit := opts.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrences
	}

	starts := set.Between(from, upper, true)
	occurrences := make([]Occurrence, 0, len(starts))
	for _, start := range starts {
		end := start.Add(duration)
		if opts.RangeStart != nil && !end.After(*opts.RangeStart) {
			continue
		}
		if opts.RangeEnd != nil && !start.Before(*opts.RangeEnd) {
			continue
		}
		if len(occurrences) == limit {
			return nil, fmt.Errorf("%w: more than %d in range", ErrTooManyOccurrences, limit)
		}
		occurrences = append(occurrences, Occurrence{
			OwnerID: rule.OwnerID,
			RuleID:  rule.ID,
			Start:   start,
			End:     end,
		})
	}

	return occurrences, nil
}

func (e *Engine) buildSet(rule Rule, dtstart time.Time) (*rrule.Set, error) {
	loc := e.Location()

	var option rrule.ROption
	if text := strings.TrimSpace(rule.RRule); text != "" {
		parsed, err := rrule.StrToROption(normalizeRRule(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		option = *parsed
	} else {
		switch rule.Frequency {
		case FrequencyDaily:
			option.Freq = rrule.DAILY
		case FrequencyWeekly:
			if len(rule.Weekdays) == 0 {
				return nil, nil
			}
			option.Freq = rrule.WEEKLY
		default:
			return nil, ErrInvalidFrequency
		}
		option.Interval = rule.Interval
		option.Byweekday = toRRuleWeekdays(rule.Weekdays)
		if !rule.StartsOn.IsZero() {
			dtstart = combineDateTime(rule.StartsOn, dtstart, loc)
		}
	}

	option.Dtstart = dtstart
	if option.Interval <= 0 {
		option.Interval = 1
	}
	if rule.EndsOn != nil && option.Until.IsZero() && option.Count == 0 {
		option.Until = rule.EndsOn.In(loc)
	}

	r, err := rrule.NewRRule(option)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range rule.ExDates {
		set.ExDate(combineDateTime(ex, dtstart, loc))
	}
	return set, nil
}

// normalizeRRule strips an optional "RRULE:" prefix.
func normalizeRRule(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 6 && strings.EqualFold(text[:6], "RRULE:") {
		return text[6:]
	}
	return text
}

func combineDateTime(dateSource, template time.Time, loc *time.Location) time.Time {
	y, m, d := dateSource.In(loc).Date()
	tpl := template.In(loc)
	return time.Date(y, m, d, tpl.Hour(), tpl.Minute(), tpl.Second(), tpl.Nanosecond(), loc)
}

func toRRuleWeekdays(days []time.Weekday) []rrule.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]rrule.Weekday, 0, len(days))
	seen := make(map[time.Weekday]struct{}, len(days))
	for _, day := range days {
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		switch day {
		case time.Monday:
			out = append(out, rrule.MO)
		case time.Tuesday:
			out = append(out, rrule.TU)
		case time.Wednesday:
			out = append(out, rrule.WE)
		case time.Thursday:
			out = append(out, rrule.TH)
		case time.Friday:
			out = append(out, rrule.FR)
		case time.Saturday:
			out = append(out, rrule.SA)
		case time.Sunday:
			out = append(out, rrule.SU)
		}
	}
	return out
}
