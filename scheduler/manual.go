package scheduler

import (
	"sync"
	"time"
)

// ManualHost is a TimerHost with a simulated clock: time only moves when
// the test calls Advance or FireNext. Callbacks run synchronously on the
// calling goroutine, in due order, with the clock set to each callback's
// registration instant.
type ManualHost struct {
	mu      sync.Mutex
	now     time.Time
	lastID  TimerID
	pending []*manualEntry
}

type manualEntry struct {
	id TimerID
	at time.Time
	fn func()
}

// NewManualHost creates a host whose clock reads start.
func NewManualHost(start time.Time) *ManualHost {
	return &ManualHost{now: start}
}

// RegisterTimer arms fn to run once at the given instant.
func (m *ManualHost) RegisterTimer(at time.Time, fn func()) TimerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	m.pending = append(m.pending, &manualEntry{id: m.lastID, at: at, fn: fn})
	return m.lastID
}

// CancelTimer revokes a pending registration.
func (m *ManualHost) CancelTimer(id TimerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// Now returns the simulated clock.
func (m *ManualHost) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of registrations that have not fired.
func (m *ManualHost) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Advance moves the clock forward by d, firing every registration that
// falls due along the way. A callback that registers a new timer inside the
// window keeps the chain going within the same Advance call. It returns the
// number of callbacks fired.
func (m *ManualHost) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	fired := 0
	for {
		entry := m.earliestLocked()
		if entry == nil || entry.at.After(target) {
			break
		}
		if entry.at.After(m.now) {
			m.now = entry.at
		}
		m.removeLocked(entry.id)
		m.mu.Unlock()
		entry.fn()
		fired++
		m.mu.Lock()
	}
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
	return fired
}

// FireNext fires the earliest pending registration no matter how far away
// it is, advancing the clock to its instant. It reports whether anything
// was pending.
func (m *ManualHost) FireNext() bool {
	m.mu.Lock()
	entry := m.earliestLocked()
	if entry == nil {
		m.mu.Unlock()
		return false
	}
	if entry.at.After(m.now) {
		m.now = entry.at
	}
	m.removeLocked(entry.id)
	m.mu.Unlock()

	entry.fn()
	return true
}

// earliestLocked returns the pending entry with the smallest due instant,
// ties broken by registration order. The caller holds m.mu.
func (m *ManualHost) earliestLocked() *manualEntry {
	var best *manualEntry
	for _, entry := range m.pending {
		if best == nil || entry.at.Before(best.at) ||
			(entry.at.Equal(best.at) && entry.id < best.id) {
			best = entry
		}
	}
	return best
}

func (m *ManualHost) removeLocked(id TimerID) bool {
	for i, entry := range m.pending {
		if entry.id == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}
