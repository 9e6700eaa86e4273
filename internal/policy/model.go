// Package policy maps action kinds to the minimum tier, required
// capabilities, and enablement needed for approval.
package policy

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no policy entry exists for an action kind.
	ErrNotFound = errors.New("policy entry not found")

	// ErrInvalidActionKind is returned for an empty action kind.
	ErrInvalidActionKind = errors.New("action kind cannot be empty")

	// ErrInvalidMinimumTier is returned when the minimum tier is out of range.
	ErrInvalidMinimumTier = errors.New("minimum tier must be between 0 and 10")
)

// Entry is the policy record for one action kind.
type Entry struct {
	ActionKind   string    `json:"action_kind"`
	MinimumTier  int       `json:"minimum_tier"`
	Capabilities []string  `json:"capabilities"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the entry's fields.
func (e *Entry) Validate() error {
	if e.ActionKind == "" {
		return ErrInvalidActionKind
	}
	if e.MinimumTier < 0 || e.MinimumTier > 10 {
		return ErrInvalidMinimumTier
	}
	return nil
}

// MissingCapability returns the first required capability absent from the
// claimed set, or "" if all requirements are met.
func (e *Entry) MissingCapability(claimed []string) string {
	if len(e.Capabilities) == 0 {
		return ""
	}
	have := make(map[string]bool, len(claimed))
	for _, c := range claimed {
		have[c] = true
	}
	for _, required := range e.Capabilities {
		if !have[required] {
			return required
		}
	}
	return ""
}

// Table defines policy lookup and administrative mutation.
//
// Mutations are out of the hot authorization path and do not require runtime
// liveness; the API layer audit-logs every mutation.
type Table interface {
	// Get retrieves the policy entry for an action kind.
	// Returns ErrNotFound if no entry exists.
	Get(actionKind string) (*Entry, error)

	// Set creates or replaces the entry for an action kind.
	Set(entry *Entry) error

	// Disable immediately blocks all future approvals for the action kind.
	// In-flight approved tokens remain valid until their own expiry.
	Disable(actionKind string) error

	// Enable re-enables a previously disabled action kind.
	Enable(actionKind string) error

	// List returns all entries ordered by action kind.
	List() ([]Entry, error)
}
