// Package calendar imports external iCalendar feeds as fixed events and
// exports the planned schedule as a feed.
package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ErrEmptyFeed is returned for an empty ICS payload.
var ErrEmptyFeed = errors.New("calendar: empty ICS body")

// ParsedEvent is a normalized VEVENT before recurrence expansion.
type ParsedEvent struct {
	UID         string
	Sequence    int
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on VEVENTs that override one instance of a series.
	RecurrenceID *time.Time

	Cancelled bool
	// Transparent events do not occupy time (TRANSP:TRANSPARENT).
	Transparent bool
}

// ParseResult carries the parsed events and the VEVENTs that were skipped.
type ParseResult struct {
	Events  []ParsedEvent
	Skipped []error
}

// ParseICS parses body. Floating times and dates are interpreted in loc.
// Malformed VEVENTs are skipped and reported rather than failing the feed.
func ParseICS(body []byte, loc *time.Location) (ParseResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return ParseResult{}, ErrEmptyFeed
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return ParseResult{}, fmt.Errorf("calendar: parse ICS: %w", err)
	}

	var result ParseResult
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			result.Skipped = append(result.Skipped, err)
			continue
		}
		result.Events = append(result.Events, ev)
	}
	return result, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, errors.New("calendar: VEVENT without UID")
	}
	out.UID = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Sequence = n
		}
	}
	out.Summary = propertyValue(ve, ical.ComponentPropertySummary)
	out.Description = propertyValue(ve, ical.ComponentPropertyDescription)
	out.Location = propertyValue(ve, ical.ComponentPropertyLocation)
	out.Cancelled = strings.EqualFold(propertyValue(ve, ical.ComponentProperty("STATUS")), "CANCELLED")
	out.Transparent = strings.EqualFold(propertyValue(ve, ical.ComponentProperty("TRANSP")), "TRANSPARENT")

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("calendar: VEVENT %s without DTSTART", out.UID)
	}
	start, allDay, err := propertyTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("calendar: VEVENT %s DTSTART: %w", out.UID, err)
	}
	out.Start, out.AllDay = start, allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		if out.End, _, err = propertyTime(p.Value, p.ICalParameters, loc); err != nil {
			return out, fmt.Errorf("calendar: VEVENT %s DTEND: %w", out.UID, err)
		}
	case ve.GetProperty(ical.ComponentProperty("DURATION")) != nil:
		d, err := parseICSDuration(propertyValue(ve, ical.ComponentProperty("DURATION")))
		if err != nil {
			return out, fmt.Errorf("calendar: VEVENT %s DURATION: %w", out.UID, err)
		}
		out.End = out.Start.Add(d)
	case allDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}

	out.RRule = strings.TrimPrefix(propertyValue(ve, ical.ComponentPropertyRrule), "RRULE:")

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			if t, _, err := propertyTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		t, _, err := propertyTime(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("calendar: VEVENT %s RECURRENCE-ID: %w", out.UID, err)
		}
		out.RecurrenceID = &t
	}
	return out, nil
}

func propertyValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// propertyTime parses DATE and DATE-TIME values honoring a TZID parameter.
func propertyTime(value string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if tzid := firstParam(params, "TZID"); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	dateOnly := strings.EqualFold(firstParam(params, "VALUE"), "DATE") || !strings.Contains(value, "T")

	switch {
	case dateOnly:
		t, err := time.ParseInLocation("20060102", value, loc)
		return t, true, err
	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse("20060102T150405Z", value)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102T150405", value, loc)
		return t, false, err
	}
}

func firstParam(params map[string][]string, key string) string {
	if vs := params[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseICSDuration parses RFC 5545 durations such as "PT1H30M" or "P1D".
func parseICSDuration(value string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(value)))
	if m == nil || value == "P" || value == "PT" {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, err
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}
