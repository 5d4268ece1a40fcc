package application

import (
	"testing"
	"time"

	"github.com/example/visionary-scheduler/internal/scheduler"
	"github.com/example/visionary-scheduler/internal/timewindow"
)

func sampleView(userID string) ScheduleView {
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	w := timewindow.MustNew(start, start.Add(time.Hour))
	return ScheduleView{
		UserID:    userID,
		Scheduled: []scheduler.Task{{ID: "task-1", Status: scheduler.StatusScheduled, Assigned: &w}},
	}
}

func TestScheduleCacheStoresAndReturnsCopies(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cache := newScheduleCache(time.Minute, 4, func() time.Time { return fixed })

	original := sampleView("user-1")
	cache.Store("user-1", original)

	// Mutating the original view should not affect the cached copy.
	original.Scheduled[0].ID = "mutated"

	cached, ok := cache.Get("user-1")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if cached.Scheduled[0].ID != "task-1" {
		t.Fatalf("expected cached task id to remain unchanged, got %s", cached.Scheduled[0].ID)
	}

	// Mutating the returned view should not be visible on subsequent reads.
	moved := timewindow.MustNew(fixed, fixed.Add(time.Minute))
	*cached.Scheduled[0].Assigned = moved
	cachedAgain, _ := cache.Get("user-1")
	if cachedAgain.Scheduled[0].Assigned.Equal(moved) {
		t.Fatalf("expected cache to return independent copy")
	}
}

func TestScheduleCacheExpiresEntries(t *testing.T) {
	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cache := newScheduleCache(time.Second, 4, func() time.Time { return current })

	cache.Store("user-1", sampleView("user-1"))
	if _, ok := cache.Get("user-1"); !ok {
		t.Fatalf("expected cache hit before expiry")
	}

	current = current.Add(2 * time.Second)
	if _, ok := cache.Get("user-1"); ok {
		t.Fatalf("expected cache entry to expire")
	}
}

func TestScheduleCacheInvalidateIsPerUser(t *testing.T) {
	cache := newScheduleCache(time.Minute, 4, time.Now)
	cache.Store("user-1", sampleView("user-1"))
	cache.Store("user-2", sampleView("user-2"))
	cache.Invalidate("user-1")
	if _, ok := cache.Get("user-1"); ok {
		t.Fatalf("expected user-1 to be invalidated")
	}
	if _, ok := cache.Get("user-2"); !ok {
		t.Fatalf("expected user-2 to survive")
	}
}

func TestScheduleCacheEvictsWhenFull(t *testing.T) {
	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cache := newScheduleCache(time.Minute, 2, func() time.Time { return current })

	cache.Store("a", sampleView("a"))
	current = current.Add(time.Second)
	cache.Store("b", sampleView("b"))
	current = current.Add(time.Second)
	cache.Store("c", sampleView("c"))

	if _, ok := cache.Get("a"); ok {
		t.Fatalf("expected the oldest entry to be evicted")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Fatalf("expected newest entry to be cached")
	}
}
