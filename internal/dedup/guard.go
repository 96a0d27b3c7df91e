// Package dedup makes inbound event processing idempotent under the
// at-least-once delivery of the Slack Events API.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Guard admits each event id at most once within its retention window.
//
// ShouldProcess returns true the first time it sees id and marks it seen in
// the same atomic step; every later call with the same id returns false
// until the id is evicted or forgotten. An empty id is always admitted.
//
// Forget releases an admitted id so a redelivery is admitted again; it is
// used when an admitted event could not be handed off for processing.
type Guard interface {
	ShouldProcess(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type seenID struct {
	id string
	at time.Time
}

// MemoryGuard is a process-local Guard bounded both by age and by count.
// Ids older than window are evicted on access; when capacity is exceeded the
// oldest id is dropped first. A clock that steps backwards never stamps an
// id earlier than the newest one already held, so such an id is retained
// somewhat longer than window instead of breaking eviction order.
type MemoryGuard struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	now      func() time.Time

	seen  map[string]time.Time
	order []seenID
}

// MemoryOption configures a MemoryGuard.
type MemoryOption func(*MemoryGuard)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(g *MemoryGuard) { g.now = now }
}

// NewMemoryGuard returns a guard that remembers ids for window, holding at
// most capacity of them. capacity <= 0 means unbounded by count.
func NewMemoryGuard(window time.Duration, capacity int, opts ...MemoryOption) *MemoryGuard {
	g := &MemoryGuard{
		window:   window,
		capacity: capacity,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *MemoryGuard) ShouldProcess(_ context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if n := len(g.order); n > 0 && now.Before(g.order[n-1].at) {
		now = g.order[n-1].at
	}
	g.evictExpired(now)

	if _, ok := g.seen[id]; ok {
		return false, nil
	}

	g.seen[id] = now
	g.order = append(g.order, seenID{id: id, at: now})
	for g.capacity > 0 && len(g.order) > g.capacity {
		g.dropOldest()
	}
	return true, nil
}

func (g *MemoryGuard) Forget(_ context.Context, id string) error {
	if id == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; !ok {
		return nil
	}
	delete(g.seen, id)
	for i, s := range g.order {
		if s.id == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of ids currently retained.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// order is kept in non-decreasing stamp order, so expired ids are always a
// prefix.
func (g *MemoryGuard) evictExpired(now time.Time) {
	cutoff := now.Add(-g.window)
	for len(g.order) > 0 && !g.order[0].at.After(cutoff) {
		g.dropOldest()
	}
}

func (g *MemoryGuard) dropOldest() {
	delete(g.seen, g.order[0].id)
	g.order[0] = seenID{}
	g.order = g.order[1:]
}
