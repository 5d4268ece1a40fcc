package application

import (
	"sync"
	"time"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

// scheduleCache stores recently built schedule views so repeated reads do
// not reload and expand a user's constraints while nothing changed.
type scheduleCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]scheduleCacheEntry
}

type scheduleCacheEntry struct {
	view      ScheduleView
	expiresAt time.Time
}

func newScheduleCache(ttl time.Duration, maxEntries int, now func() time.Time) *scheduleCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &scheduleCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]scheduleCacheEntry),
	}
}

func (c *scheduleCache) Get(userID string) (ScheduleView, bool) {
	if c == nil {
		return ScheduleView{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return ScheduleView{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, userID)
		c.mu.Unlock()
		return ScheduleView{}, false
	}
	return cloneView(entry.view), true
}

func (c *scheduleCache) Store(userID string, view ScheduleView) {
	if c == nil {
		return
	}
	cloned := cloneView(view)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[userID] = scheduleCacheEntry{view: cloned, expiresAt: expiry}
}

func (c *scheduleCache) Invalidate(userID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *scheduleCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOneLocked drops the entry closest to expiry.
func (c *scheduleCache) evictOneLocked() {
	var (
		victim string
		oldest time.Time
	)
	for key, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(oldest) {
			victim, oldest = key, entry.expiresAt
		}
	}
	delete(c.entries, victim)
}

func cloneView(view ScheduleView) ScheduleView {
	out := view
	out.FixedEvents = append([]scheduler.FixedEvent(nil), view.FixedEvents...)
	out.Focus = append([]scheduler.FocusWindow(nil), view.Focus...)
	out.Scheduled = cloneTasks(view.Scheduled)
	out.Unscheduled = cloneTasks(view.Unscheduled)
	return out
}

func cloneTasks(tasks []scheduler.Task) []scheduler.Task {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]scheduler.Task, len(tasks))
	for i, task := range tasks {
		out[i] = task
		if task.Assigned != nil {
			w := *task.Assigned
			out[i].Assigned = &w
		}
		out[i].OverriddenFocus = append([]string(nil), task.OverriddenFocus...)
	}
	return out
}
