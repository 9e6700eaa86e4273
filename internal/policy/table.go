package policy

import (
	"sort"
	"sync"
	"time"
)

// InMemoryTable implements Table with in-memory storage. Thread-safe.
type InMemoryTable struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewInMemoryTable creates a new in-memory policy table.
func NewInMemoryTable() *InMemoryTable {
	return &InMemoryTable{
		entries: make(map[string]*Entry),
	}
}

// Get retrieves the policy entry for an action kind.
func (t *InMemoryTable) Get(actionKind string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[actionKind]
	if !ok {
		return nil, ErrNotFound
	}
	return t.copyEntry(e), nil
}

// Set creates or replaces the entry for an action kind.
func (t *InMemoryTable) Set(entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry.UpdatedAt = time.Now().UTC()
	t.entries[entry.ActionKind] = t.copyEntry(entry)
	return nil
}

// Disable blocks future approvals for the action kind.
func (t *InMemoryTable) Disable(actionKind string) error {
	return t.setEnabled(actionKind, false)
}

// Enable re-enables a previously disabled action kind.
func (t *InMemoryTable) Enable(actionKind string) error {
	return t.setEnabled(actionKind, true)
}

func (t *InMemoryTable) setEnabled(actionKind string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[actionKind]
	if !ok {
		return ErrNotFound
	}
	e.Enabled = enabled
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns all entries ordered by action kind.
func (t *InMemoryTable) List() ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *t.copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionKind < out[j].ActionKind })
	return out, nil
}

// copyEntry deep-copies an entry so callers cannot mutate stored state.
func (t *InMemoryTable) copyEntry(e *Entry) *Entry {
	copied := *e
	if e.Capabilities != nil {
		copied.Capabilities = make([]string, len(e.Capabilities))
		copy(copied.Capabilities, e.Capabilities)
	}
	return &copied
}
