// Package killmemory remembers where recent kills happened so that follow-up
// requests can refer to a kill by id alone.
package killmemory

import (
	"sync"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// DefaultCapacity bounds the history when no capacity is configured.
const DefaultCapacity = 1000

// Entry associates a kill with the system it happened in.
type Entry struct {
	KillID   int64
	SystemID int32
}

// Memory is an append-only, fixed-capacity history of kill locations. Once
// full, the oldest entry is overwritten. Lookups prefer the newest entry for
// a kill id.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	next    int // ring write position once full
	full    bool
}

// New creates a memory holding at most capacity entries.
func New(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{entries: make([]Entry, 0, capacity)}
}

// Remember appends an association. Entries for an already known kill id are
// appended too, not merged.
func (m *Memory) Remember(killID int64, systemID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := Entry{KillID: killID, SystemID: systemID}
	if !m.full {
		m.entries = append(m.entries, e)
		if len(m.entries) == cap(m.entries) {
			m.full = true
		}
		return
	}
	m.entries[m.next] = e
	m.next = (m.next + 1) % len(m.entries)
}

// LocationOf returns the most recently remembered system of a kill.
func (m *Memory) LocationOf(killID int64) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	// Walk newest to oldest. Once full, the newest entry sits just before next.
	for i := 0; i < n; i++ {
		idx := n - 1 - i
		if m.full {
			idx = (m.next - 1 - i + 2*n) % n
		}
		if e := m.entries[idx]; e.KillID == killID {
			return e.SystemID, true
		}
	}
	return 0, false
}

// Lookup is LocationOf reporting a missing kill as models.ErrKillNotFound.
func (m *Memory) Lookup(killID int64) (int32, error) {
	if id, ok := m.LocationOf(killID); ok {
		return id, nil
	}
	return 0, models.ErrKillNotFound
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Capacity returns the maximum number of stored entries.
func (m *Memory) Capacity() int {
	return cap(m.entries)
}
