package timewindow

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidWindow is returned when a window's start is not strictly before its end.
var ErrInvalidWindow = errors.New("timewindow: start must be before end")

// Window is an immutable half-open interval [start, end) stored in UTC.
type Window struct {
	start time.Time
	end   time.Time
}

// New validates and constructs a window. Both bounds are normalized to UTC.
func New(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, fmt.Errorf("%w: bounds are required", ErrInvalidWindow)
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: %s >= %s", ErrInvalidWindow, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	return Window{start: start.UTC(), end: end.UTC()}, nil
}

// MustNew is like New but panics on invalid input. Intended for tests and constants.
func MustNew(start, end time.Time) Window {
	w, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

// FromDuration builds a window starting at start and lasting d.
func FromDuration(start time.Time, d time.Duration) (Window, error) {
	return New(start, start.Add(d))
}

// Start returns the inclusive lower bound.
func (w Window) Start() time.Time { return w.start }

// End returns the exclusive upper bound.
func (w Window) End() time.Time { return w.end }

// Duration returns the span covered by the window.
func (w Window) Duration() time.Duration { return w.end.Sub(w.start) }

// IsZero reports whether the window was never initialized.
func (w Window) IsZero() bool { return w.start.IsZero() && w.end.IsZero() }

// Equal reports whether both windows cover the same instants.
func (w Window) Equal(other Window) bool {
	return w.start.Equal(other.start) && w.end.Equal(other.end)
}

// Contains reports whether t lies within [start, end).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.end)
}

// Encloses reports whether other lies entirely within w.
func (w Window) Encloses(other Window) bool {
	return !other.start.Before(w.start) && !other.end.After(w.end)
}

// Shift moves the window by d, preserving its duration.
func (w Window) Shift(d time.Duration) Window {
	return Window{start: w.start.Add(d), end: w.end.Add(d)}
}

// In returns the bounds converted to loc. Only presentation code should need this.
func (w Window) In(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	return w.start.In(loc), w.end.In(loc)
}

// String renders the window in RFC3339.
func (w Window) String() string {
	return w.start.Format(time.RFC3339) + "/" + w.end.Format(time.RFC3339)
}

// Overlaps reports strict overlap. Windows that only touch at an endpoint do not overlap.
func Overlaps(a, b Window) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// Intersect returns the overlapping part of a and b, if any.
func Intersect(a, b Window) (Window, bool) {
	if !Overlaps(a, b) {
		return Window{}, false
	}
	start := a.start
	if b.start.After(start) {
		start = b.start
	}
	end := a.end
	if b.end.Before(end) {
		end = b.end
	}
	return Window{start: start, end: end}, true
}

// Merge returns the union of the provided windows as a sorted list of
// non-overlapping windows. Touching windows are joined.
func Merge(windows []Window) []Window {
	if len(windows) == 0 {
		return nil
	}
	sorted := make([]Window, 0, len(windows))
	for _, w := range windows {
		if !w.IsZero() {
			sorted = append(sorted, w)
		}
	}
	SortByStart(sorted)

	merged := make([]Window, 0, len(sorted))
	for _, w := range sorted {
		if n := len(merged); n > 0 && !w.start.After(merged[n-1].end) {
			if w.end.After(merged[n-1].end) {
				merged[n-1].end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// SortByStart orders windows by start, then end.
func SortByStart(windows []Window) {
	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].start.Equal(windows[j].start) {
			return windows[i].end.Before(windows[j].end)
		}
		return windows[i].start.Before(windows[j].start)
	})
}

// RoundUp returns the first multiple of quantum (measured from the Unix epoch)
// that is not before t. A non-positive quantum returns t unchanged.
func RoundUp(t time.Time, quantum time.Duration) time.Time {
	if quantum <= 0 {
		return t.UTC()
	}
	t = t.UTC()
	truncated := t.Truncate(quantum)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(quantum)
}
