// Package ledger records when each employee last submitted a status update.
//
// The ingestion pipeline is the only writer; the reminder scheduler only
// reads. Writers and readers are not mutually excluded beyond the
// per-operation lock: the grace window absorbs the race between an update
// landing and a concurrent overdue evaluation.
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the most recent submission time for one employee.
type Record struct {
	Email        string    `json:"email"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// Reader is the read side used by the reminder scheduler.
type Reader interface {
	LastUpdate(email string) (at time.Time, ok bool, err error)
}

// Writer is the write side used by the ingestion pipeline.
type Writer interface {
	RecordUpdate(email string, at time.Time) error
}

// Ledger is the full update ledger.
type Ledger interface {
	Reader
	Writer
	Snapshot() ([]Record, error)
}

// IsOverdue reports whether an employee needs a nudge at now: they never
// submitted, or their last submission is older than grace.
func IsOverdue(last time.Time, ok bool, now time.Time, grace time.Duration) bool {
	if !ok {
		return true
	}
	return last.Before(now.Add(-grace))
}

// Memory is a volatile, process-local Ledger.
type Memory struct {
	mu      sync.RWMutex
	updates map[string]time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{updates: make(map[string]time.Time)}
}

// RecordUpdate stores at for email unless a later timestamp is already held.
func (m *Memory) RecordUpdate(email string, at time.Time) error {
	key := normalize(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.updates[key]; ok && prev.After(at) {
		return nil
	}
	m.updates[key] = at
	return nil
}

func (m *Memory) LastUpdate(email string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.updates[normalize(email)]
	return at, ok, nil
}

// Snapshot returns all records ordered by email.
func (m *Memory) Snapshot() ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.updates))
	for email, at := range m.updates {
		out = append(out, Record{Email: email, LastUpdateAt: at})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
