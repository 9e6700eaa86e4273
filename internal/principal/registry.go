package principal

import (
	"sync"
	"time"
)

// InMemoryRegistry implements Registry with in-memory storage.
// Used for testing, development, and database-less deployments.
type InMemoryRegistry struct {
	mu         sync.RWMutex
	principals map[string]*Principal
}

// NewInMemoryRegistry creates a new in-memory principal registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		principals: make(map[string]*Principal),
	}
}

// Lookup retrieves a principal by id.
func (r *InMemoryRegistry) Lookup(id string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external mutation
	pCopy := *p
	return &pCopy, nil
}

// Create registers a new principal.
func (r *InMemoryRegistry) Create(p *Principal) error {
	if p.Standing == "" {
		p.Standing = StandingActive
	}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.principals[p.ID]; exists {
		return ErrAlreadyExists
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	pCopy := *p
	r.principals[p.ID] = &pCopy
	return nil
}

// UpdateStanding changes a principal's standing, enforcing transition rules.
func (r *InMemoryRegistry) UpdateStanding(id, newStanding string) error {
	if !ValidStandings[newStanding] {
		return ErrInvalidStanding
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(p.Standing, newStanding) {
		return ErrInvalidTransition
	}

	p.Standing = newStanding
	return nil
}

// VerifyLineage walks the lineage chain toward the root.
func (r *InMemoryRegistry) VerifyLineage(id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[id]
	if !ok {
		return false, ErrNotFound
	}

	seen := map[string]bool{id: true}
	current := p
	for depth := 0; depth < MaxLineageDepth; depth++ {
		if current.LineageRef == "" {
			return true, nil
		}
		if seen[current.LineageRef] {
			// Cycle in the lineage chain
			return false, nil
		}
		parent, ok := r.principals[current.LineageRef]
		if !ok {
			return false, nil
		}
		seen[parent.ID] = true
		current = parent
	}

	// Chain did not terminate within the depth bound
	return false, nil
}

// All returns a copy of every registered principal. Used by the ledger
// synchronizer when exporting live-store state.
func (r *InMemoryRegistry) All() ([]Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Principal, 0, len(r.principals))
	for _, p := range r.principals {
		out = append(out, *p)
	}
	return out, nil
}
