package calendar

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

const productID = "-//Visionary//Schedule Export//EN"

// ExportICS writes fixed events and placed tasks as an iCalendar feed.
// Unscheduled and finished tasks are omitted.
func ExportICS(w io.Writer, events []scheduler.FixedEvent, tasks []scheduler.Task, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		vevent := cal.AddEvent(ev.ID + "@visionary")
		vevent.SetDtStampTime(now.UTC())
		vevent.SetStartAt(ev.Window.Start())
		vevent.SetEndAt(ev.Window.End())
		vevent.SetSummary(ev.Title)
		vevent.SetProperty(ical.ComponentProperty("X-VISIONARY-KIND"), "fixed-event")
	}
	for _, task := range tasks {
		if !task.Scheduled() {
			continue
		}
		vevent := cal.AddEvent(task.ID + "@visionary")
		vevent.SetDtStampTime(now.UTC())
		vevent.SetStartAt(task.Assigned.Start())
		vevent.SetEndAt(task.Assigned.End())
		vevent.SetSummary(task.Title)
		vevent.SetProperty(ical.ComponentProperty("X-VISIONARY-KIND"), "task")
		if task.Category != "" {
			vevent.SetProperty(ical.ComponentProperty("CATEGORIES"), string(task.Category))
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
