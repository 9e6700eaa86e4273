package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAnchorNotFound is returned when no snapshot exists under a reference.
var ErrAnchorNotFound = errors.New("anchor not found")

// AnchorStore persists committed snapshots in durable storage.
type AnchorStore interface {
	// Commit durably stores the snapshot and returns its anchor reference.
	Commit(ctx context.Context, snap *Snapshot) (string, error)

	// Get retrieves a previously committed snapshot by reference.
	Get(ctx context.Context, ref string) (*Snapshot, error)
}

// InMemoryAnchorStore implements AnchorStore with a mutex-guarded map. Used
// in tests and single-node deployments without external storage.
type InMemoryAnchorStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot

	// failures makes the next N commits fail; negative means fail until
	// reset. For tests.
	failures int
}

// NewInMemoryAnchorStore creates an empty in-memory anchor store.
func NewInMemoryAnchorStore() *InMemoryAnchorStore {
	return &InMemoryAnchorStore{snaps: make(map[string]*Snapshot)}
}

// Commit stores the snapshot under a sequence-derived reference.
func (s *InMemoryAnchorStore) Commit(ctx context.Context, snap *Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return "", errors.New("anchor store unavailable")
	}

	ref := fmt.Sprintf("mem/%08d-%s", snap.Sequence, snap.ContentHash[:12])
	cp := *snap
	cp.Payload = append([]byte(nil), snap.Payload...)
	s.snaps[ref] = &cp
	return ref, nil
}

// Get retrieves a committed snapshot.
func (s *InMemoryAnchorStore) Get(ctx context.Context, ref string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[ref]
	if !ok {
		return nil, ErrAnchorNotFound
	}
	cp := *snap
	cp.Payload = append([]byte(nil), snap.Payload...)
	return &cp, nil
}

// FailNext makes the next n Commit calls fail; pass a negative n to fail
// every commit until reset with 0. For tests.
func (s *InMemoryAnchorStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Len returns the number of committed snapshots. For tests.
func (s *InMemoryAnchorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}
