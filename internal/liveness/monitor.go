// Package liveness tracks runtime heartbeats and answers whether a runtime
// instance is currently alive and in good standing.
package liveness

import (
	"errors"
	"sync"
	"time"
)

// Declared heartbeat statuses. A runtime reports one of these with each beat.
const (
	StatusBlessed  = "blessed"
	StatusDegraded = "degraded"
	StatusOffline  = "offline"
)

// DefaultStalenessWindow is the age beyond which a heartbeat is treated as
// offline regardless of its declared status.
const DefaultStalenessWindow = 15 * time.Minute

var (
	// ErrUnknownStatus is returned when a heartbeat declares a status outside
	// the allowed set.
	ErrUnknownStatus = errors.New("unknown heartbeat status")

	// ErrStaleSequence is returned when a heartbeat arrives with a sequence
	// number that is not strictly greater than the last recorded one.
	ErrStaleSequence = errors.New("heartbeat sequence is not greater than last recorded")
)

// ValidStatuses defines the allowed declared statuses for heartbeats.
var ValidStatuses = map[string]bool{
	StatusBlessed:  true,
	StatusDegraded: true,
	StatusOffline:  true,
}

// HeartbeatRecord is the single process-wide record kept per runtime instance.
type HeartbeatRecord struct {
	RuntimeID string    `json:"runtime_id"`
	Status    string    `json:"status"`
	Sequence  int64     `json:"sequence"`
	LastSeen  time.Time `json:"last_seen"`
}

// Monitor tracks heartbeat records per runtime id. Thread-safe via RWMutex.
//
// The monitor is an injected dependency rather than a process-wide global so
// multiple runtimes can be tested independently.
type Monitor struct {
	mu        sync.RWMutex
	records   map[string]*HeartbeatRecord
	staleness time.Duration
	now       func() time.Time
}

// NewMonitor creates a Monitor with the given staleness window.
// A zero or negative window falls back to DefaultStalenessWindow.
func NewMonitor(staleness time.Duration) *Monitor {
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	return &Monitor{
		records:   make(map[string]*HeartbeatRecord),
		staleness: staleness,
		now:       time.Now,
	}
}

// NewMonitorWithClock creates a Monitor with an injected clock for tests.
func NewMonitorWithClock(staleness time.Duration, now func() time.Time) *Monitor {
	m := NewMonitor(staleness)
	if now != nil {
		m.now = now
	}
	return m
}

// Record ingests a heartbeat for a runtime. The sequence must be strictly
// greater than the last recorded value for that runtime; out-of-order beats
// are rejected with ErrStaleSequence and leave the record untouched.
func (m *Monitor) Record(runtimeID, status string, sequence int64) error {
	if !ValidStatuses[status] {
		return ErrUnknownStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[runtimeID]; ok && sequence <= existing.Sequence {
		return ErrStaleSequence
	}

	m.records[runtimeID] = &HeartbeatRecord{
		RuntimeID: runtimeID,
		Status:    status,
		Sequence:  sequence,
		LastSeen:  m.now().UTC(),
	}
	return nil
}

// IsLive reports whether the runtime's most recent heartbeat is within the
// staleness window and declared blessed. A runtime with no recorded heartbeat
// is not live (fail closed).
func (m *Monitor) IsLive(runtimeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[runtimeID]
	if !ok {
		return false
	}
	if m.now().Sub(rec.LastSeen) > m.staleness {
		return false
	}
	return rec.Status == StatusBlessed
}

// Snapshot returns a copy of the heartbeat record for a runtime, or nil if
// none has been recorded.
func (m *Monitor) Snapshot(runtimeID string) *HeartbeatRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[runtimeID]
	if !ok {
		return nil
	}
	recCopy := *rec
	return &recCopy
}
