package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/visionary-scheduler/internal/timewindow"
)

// ConflictType describes what a candidate window collides with.
type ConflictType string

const (
	// ConflictTypeFixedEvent indicates overlap with a fixed event.
	ConflictTypeFixedEvent ConflictType = "fixed_event"
	// ConflictTypeAssignment indicates overlap with another task's assignment.
	ConflictTypeAssignment ConflictType = "assignment"
	// ConflictTypeFocusBlock indicates overlap with a focus block that may not be overridden.
	ConflictTypeFocusBlock ConflictType = "focus_block"
)

// Conflict details the first blocking window found for a candidate.
type Conflict struct {
	WithID string
	Type   ConflictType
	Window timewindow.Window
}

// FocusOverride decides which focus blocks a placement may overlap.
// The zero value permits none. Blocks with PolicyBlock are never permitted.
type FocusOverride struct {
	Enabled bool
	// MaxPriority, when set, restricts the override to blocks whose
	// priority is at most this value.
	MaxPriority *int
}

// OverrideAll permits every block whose policy allows an override.
func OverrideAll() FocusOverride { return FocusOverride{Enabled: true} }

// OverrideUpTo permits overridable blocks with priority <= priority.
func OverrideUpTo(priority int) FocusOverride {
	return FocusOverride{Enabled: true, MaxPriority: &priority}
}

// Permits reports whether fw may be overlapped under this override.
func (o FocusOverride) Permits(fw FocusWindow) bool {
	if !o.Enabled || fw.Policy == PolicyBlock {
		return false
	}
	if o.MaxPriority != nil && fw.Priority > *o.MaxPriority {
		return false
	}
	return true
}

func (o FocusOverride) key() string {
	switch {
	case !o.Enabled:
		return "none"
	case o.MaxPriority == nil:
		return "all"
	default:
		return fmt.Sprintf("<=%d", *o.MaxPriority)
	}
}

// FirstConflict scans the inputs linearly and returns the first window that
// blocks candidate. Fixed events are checked first, then assignments, then
// focus blocks.
func FirstConflict(candidate timewindow.Window, assignments []Assignment, fixed []FixedEvent, focus []FocusWindow, override FocusOverride) (Conflict, bool) {
	for _, event := range fixed {
		if timewindow.Overlaps(candidate, event.Window) {
			return Conflict{WithID: event.ID, Type: ConflictTypeFixedEvent, Window: event.Window}, true
		}
	}
	for _, a := range assignments {
		if a.Window == nil {
			continue
		}
		if timewindow.Overlaps(candidate, *a.Window) {
			return Conflict{WithID: a.TaskID, Type: ConflictTypeAssignment, Window: *a.Window}, true
		}
	}
	for _, fw := range focus {
		if override.Permits(fw) {
			continue
		}
		if timewindow.Overlaps(candidate, fw.Window) {
			return Conflict{WithID: fw.BlockID, Type: ConflictTypeFocusBlock, Window: fw.Window}, true
		}
	}
	return Conflict{}, false
}

// IsFeasible reports whether candidate overlaps none of the inputs.
// It has no side effects.
func IsFeasible(candidate timewindow.Window, assignments []Assignment, fixed []FixedEvent, focus []FocusWindow, override FocusOverride) bool {
	_, found := FirstConflict(candidate, assignments, fixed, focus, override)
	return !found
}

// indexEntry is one window of an intervalIndex.
type indexEntry struct {
	id     string
	kind   ConflictType
	window timewindow.Window
}

// intervalIndex keeps non-overlapping windows sorted by start so that the
// only entry that can overlap a candidate is the last one starting before
// the candidate ends.
type intervalIndex struct {
	entries []indexEntry
}

// newIntervalIndex sorts entries and coalesces overlapping ones. A merged
// entry keeps the id of its first member.
func newIntervalIndex(entries []indexEntry) *intervalIndex {
	sorted := append([]indexEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].window, sorted[j].window
		if !a.Start().Equal(b.Start()) {
			return a.Start().Before(b.Start())
		}
		return sorted[i].id < sorted[j].id
	})

	merged := make([]indexEntry, 0, len(sorted))
	for _, e := range sorted {
		if n := len(merged); n > 0 && e.window.Start().Before(merged[n-1].window.End()) {
			if e.window.End().After(merged[n-1].window.End()) {
				merged[n-1].window = timewindow.MustNew(merged[n-1].window.Start(), e.window.End())
			}
			continue
		}
		merged = append(merged, e)
	}
	return &intervalIndex{entries: merged}
}

func (idx *intervalIndex) find(candidate timewindow.Window) (indexEntry, bool) {
	end := candidate.End()
	i := sort.Search(len(idx.entries), func(i int) bool {
		return !idx.entries[i].window.Start().Before(end)
	})
	if i == 0 {
		return indexEntry{}, false
	}
	prev := idx.entries[i-1]
	if prev.window.End().After(candidate.Start()) {
		return prev, true
	}
	return indexEntry{}, false
}

// insert adds a window that does not overlap any existing entry.
func (idx *intervalIndex) insert(e indexEntry) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return !idx.entries[i].window.Start().Before(e.window.Start())
	})
	idx.entries = append(idx.entries, indexEntry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
}

// Detector answers conflict queries against a fixed snapshot of a store in
// logarithmic time. Assignments committed through Commit become visible to
// later queries.
type Detector struct {
	fixed    *intervalIndex
	assigned *intervalIndex
	focus    []FocusWindow
	blocking map[string]*intervalIndex
}

// NewDetector snapshots the constraints of store overlapping horizon.
func NewDetector(store *ConstraintStore, horizon timewindow.Window) (*Detector, error) {
	constraints, err := store.ListActiveConstraints(horizon)
	if err != nil {
		return nil, err
	}

	var fixed, assigned []indexEntry
	var focus []FocusWindow
	for _, c := range constraints {
		switch c.Kind {
		case KindFixedEvent:
			fixed = append(fixed, indexEntry{id: c.ID, kind: ConflictTypeFixedEvent, window: c.Window})
		case KindAssignment:
			assigned = append(assigned, indexEntry{id: c.ID, kind: ConflictTypeAssignment, window: c.Window})
		case KindFocusBlock:
			focus = append(focus, FocusWindow{BlockID: c.ID, Window: c.Window, Policy: c.Policy, Priority: c.Priority})
		}
	}

	return &Detector{
		fixed:    newIntervalIndex(fixed),
		assigned: newIntervalIndex(assigned),
		focus:    focus,
		blocking: make(map[string]*intervalIndex),
	}, nil
}

// Check returns a conflict for candidate, if any. When several windows
// collide the one ending last is reported, so callers can skip past it.
func (d *Detector) Check(candidate timewindow.Window, override FocusOverride) (Conflict, bool) {
	var (
		best  indexEntry
		found bool
	)
	for _, idx := range [3]*intervalIndex{d.fixed, d.assigned, d.blockingIndex(override)} {
		e, ok := idx.find(candidate)
		if !ok {
			continue
		}
		if !found || e.window.End().After(best.window.End()) {
			best, found = e, true
		}
	}
	if !found {
		return Conflict{}, false
	}
	return Conflict{WithID: best.id, Type: best.kind, Window: best.window}, true
}

// Overridden lists the focus blocks candidate overlaps that override permits.
func (d *Detector) Overridden(candidate timewindow.Window, override FocusOverride) []string {
	if !override.Enabled {
		return nil
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, fw := range d.focus {
		if !fw.Window.Start().Before(candidate.End()) {
			break
		}
		if !override.Permits(fw) || !timewindow.Overlaps(fw.Window, candidate) {
			continue
		}
		if _, ok := seen[fw.BlockID]; ok {
			continue
		}
		seen[fw.BlockID] = struct{}{}
		ids = append(ids, fw.BlockID)
	}
	sort.Strings(ids)
	return ids
}

// Commit records a new assignment. The window must already be conflict free.
func (d *Detector) Commit(taskID string, w timewindow.Window) {
	d.assigned.insert(indexEntry{id: taskID, kind: ConflictTypeAssignment, window: w})
}

// LowestOverridablePriority returns the smallest priority among focus
// windows that some override could permit.
func (d *Detector) LowestOverridablePriority() (int, bool) {
	var (
		lowest int
		found  bool
	)
	for _, fw := range d.focus {
		if fw.Policy == PolicyBlock {
			continue
		}
		if !found || fw.Priority < lowest {
			lowest, found = fw.Priority, true
		}
	}
	return lowest, found
}

func (d *Detector) blockingIndex(override FocusOverride) *intervalIndex {
	key := override.key()
	if idx, ok := d.blocking[key]; ok {
		return idx
	}
	entries := make([]indexEntry, 0, len(d.focus))
	for _, fw := range d.focus {
		if override.Permits(fw) {
			continue
		}
		entries = append(entries, indexEntry{id: fw.BlockID, kind: ConflictTypeFocusBlock, window: fw.Window})
	}
	idx := newIntervalIndex(entries)
	d.blocking[key] = idx
	return idx
}

// nextCandidate returns the earliest grid-aligned start after a conflict.
func nextCandidate(current time.Time, conflict Conflict, quantum time.Duration) time.Time {
	next := timewindow.RoundUp(conflict.Window.End(), quantum)
	if floor := current.Add(quantum); next.Before(floor) {
		next = floor
	}
	return next
}
