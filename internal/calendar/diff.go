package calendar

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:visionary:calendar-instance"))

// EventID returns the stable fixed event id of one imported instance, so
// re-importing a feed updates events instead of duplicating them.
func EventID(userID, calendarID, uid, instanceKey string) string {
	name := strings.Join([]string{userID, calendarID, uid, instanceKey}, "\x00")
	return uuid.NewSHA1(instanceNamespace, []byte(name)).String()
}

// Diff compares the occurrences of a feed with the user's stored events
// from that calendar and returns the disruptions that bring the store in
// line: removals first, then updates, then additions. Stored events that
// end before syncRange starts are history and are never removed.
func Diff(userID, calendarID string, existing []scheduler.FixedEvent, occurrences []Occurrence, syncRange timewindow.Window) []scheduler.Disruption {
	current := make(map[string]scheduler.FixedEvent)
	for _, ev := range existing {
		if ev.Source == scheduler.SourceExternalCalendar && ev.CalendarID == calendarID {
			current[ev.ID] = ev
		}
	}

	incoming := make(map[string]scheduler.FixedEvent, len(occurrences))
	for _, occ := range occurrences {
		ev := scheduler.FixedEvent{
			ID:          EventID(userID, calendarID, occ.UID, occ.InstanceKey),
			UserID:      userID,
			Title:       occ.Summary,
			Window:      occ.Window,
			Source:      scheduler.SourceExternalCalendar,
			CalendarID:  calendarID,
			ExternalUID: occ.UID,
		}
		incoming[ev.ID] = ev
	}

	var removals, updates, additions []scheduler.Disruption
	for id, ev := range current {
		if _, ok := incoming[id]; ok || !ev.Window.End().After(syncRange.Start()) {
			continue
		}
		removals = append(removals, scheduler.Disruption{Kind: scheduler.DisruptionFixedEventRemoved, TargetID: id, FixedEvent: ev})
	}
	for id, ev := range incoming {
		prev, ok := current[id]
		switch {
		case !ok:
			additions = append(additions, scheduler.Disruption{Kind: scheduler.DisruptionFixedEventAdded, FixedEvent: ev})
		case !prev.Window.Equal(ev.Window) || prev.Title != ev.Title:
			ev.CreatedAt = prev.CreatedAt
			updates = append(updates, scheduler.Disruption{Kind: scheduler.DisruptionFixedEventUpdated, FixedEvent: ev})
		}
	}

	sortDisruptions(removals)
	sortDisruptions(updates)
	sortDisruptions(additions)

	out := make([]scheduler.Disruption, 0, len(removals)+len(updates)+len(additions))
	out = append(out, removals...)
	out = append(out, updates...)
	return append(out, additions...)
}

func sortDisruptions(ds []scheduler.Disruption) {
	sort.Slice(ds, func(i, j int) bool {
		a, b := ds[i].FixedEvent, ds[j].FixedEvent
		if !a.Window.Start().Equal(b.Window.Start()) {
			return a.Window.Start().Before(b.Window.Start())
		}
		return a.ID < b.ID
	})
}
