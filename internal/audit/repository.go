package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Appends are serialized under the mutex so the hash chain never forks.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append writes a new entry to the log.
func (r *InMemoryRepository) Append(e Entry) (*Entry, error) {
	if !ValidKinds[e.Kind] {
		return nil, ErrInvalidKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()
	if len(r.entries) > 0 {
		e.PreviousHash = r.entries[len(r.entries)-1].EntryHash
	}
	e.EntryHash = ComputeHash(&e)

	stored := e
	r.entries = append(r.entries, &stored)

	entryCopy := stored
	return &entryCopy, nil
}

// QueryByPrincipal retrieves entries for a principal, newest first.
func (r *InMemoryRepository) QueryByPrincipal(principalID string, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool { return e.PrincipalID == principalID }, limit)
}

// QueryByKind retrieves entries of a given kind, newest first.
func (r *InMemoryRepository) QueryByKind(kind string, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool { return e.Kind == kind }, limit)
}

func (r *InMemoryRepository) query(match func(*Entry) bool, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if match(r.entries[i]) {
			entryCopy := *r.entries[i]
			results = append(results, &entryCopy)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// Head returns the hash of the most recent entry.
func (r *InMemoryRepository) Head() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return "", nil
	}
	return r.entries[len(r.entries)-1].EntryHash, nil
}

// Len returns the number of entries in the log. For tests.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// VerifyChain recomputes every hash from genesis.
func (r *InMemoryRepository) VerifyChain() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prev := ""
	for i, e := range r.entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d previous hash mismatch", ErrChainBroken, i)
		}
		if ComputeHash(e) != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		prev = e.EntryHash
	}
	return nil
}

// tamper overwrites a stored entry field. Test hook for chain verification.
func (r *InMemoryRepository) tamper(index int, mutate func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index >= 0 && index < len(r.entries) {
		mutate(r.entries[index])
	}
}
