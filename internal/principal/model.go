// Package principal provides the registry of known actors, their tiers,
// standing, and lineage references.
package principal

import (
	"errors"
	"time"
)

// Standing values for a principal.
const (
	StandingActive    = "active"
	StandingSuspended = "suspended"
	StandingRevoked   = "revoked"
)

// Tier bounds. Tiers are ordinal; higher means more privileged.
const (
	MinTier = 0
	MaxTier = 10
)

// MaxLineageDepth bounds lineage chain walks to guard against cycles and
// runaway chains.
const MaxLineageDepth = 16

var (
	// ErrNotFound is returned when a principal id is unknown.
	ErrNotFound = errors.New("principal not found")

	// ErrAlreadyExists is returned when creating a principal with an id that
	// is already registered.
	ErrAlreadyExists = errors.New("principal already exists")

	// ErrInvalidTier is returned when a tier is outside [MinTier, MaxTier].
	ErrInvalidTier = errors.New("invalid tier: must be between 0 and 10")

	// ErrInvalidStanding is returned for a standing outside the allowed set.
	ErrInvalidStanding = errors.New("invalid standing: must be active, suspended, or revoked")

	// ErrInvalidTransition is returned when a standing change violates the
	// transition rules. Revoked is terminal.
	ErrInvalidTransition = errors.New("invalid standing transition")
)

// ValidStandings defines the allowed standing values.
var ValidStandings = map[string]bool{
	StandingActive:    true,
	StandingSuspended: true,
	StandingRevoked:   true,
}

// Principal identifies an actor (user or service).
type Principal struct {
	ID        string    `json:"id"`
	Tier      int       `json:"tier"`
	Standing  string    `json:"standing"`
	CreatedAt time.Time `json:"created_at"`

	// LineageRef is an optional weak back-reference to a parent principal.
	// It expresses provenance only, never ownership.
	LineageRef string `json:"lineage_ref,omitempty"`
}

// Validate checks tier and standing bounds.
func (p *Principal) Validate() error {
	if p.Tier < MinTier || p.Tier > MaxTier {
		return ErrInvalidTier
	}
	if !ValidStandings[p.Standing] {
		return ErrInvalidStanding
	}
	return nil
}

// CanTransition reports whether a standing change from current to next is
// allowed. Allowed moves: active<->suspended, and active or suspended to
// revoked. Revoked principals can never be re-activated under the same id.
func CanTransition(current, next string) bool {
	if !ValidStandings[current] || !ValidStandings[next] {
		return false
	}
	if current == StandingRevoked {
		return false
	}
	if current == next {
		return false
	}
	return true
}

// Registry defines lookup and mutation operations for principals.
type Registry interface {
	// Lookup retrieves a principal by id. Returns ErrNotFound if unknown.
	Lookup(id string) (*Principal, error)

	// Create registers a new principal. Returns ErrAlreadyExists on
	// duplicate id, or a validation error for bad tier/standing.
	Create(p *Principal) error

	// UpdateStanding changes a principal's standing, enforcing the
	// transition rules. Returns ErrInvalidTransition on a disallowed move.
	UpdateStanding(id, newStanding string) error

	// VerifyLineage walks the lineage chain from the given principal toward
	// its root. Returns true iff every referenced ancestor exists and the
	// chain terminates within MaxLineageDepth without a cycle. A principal
	// with no lineage reference trivially verifies.
	VerifyLineage(id string) (bool, error)
}
