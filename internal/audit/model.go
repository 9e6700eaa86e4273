// Package audit provides the append-only, hash-chained record of every
// authorization decision, execution outcome, policy mutation, and sync event.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Entry kinds.
const (
	KindDecision      = "decision"
	KindExecution     = "execution"
	KindSync          = "sync"
	KindPolicyChange  = "policy_change"
	KindSecurityAlert = "security_alert"
)

// Outcome values.
const (
	OutcomeApproved = "approved"
	OutcomeDenied   = "denied"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
)

var (
	// ErrInvalidKind is returned when an entry declares an unknown kind.
	ErrInvalidKind = errors.New("invalid audit entry kind")

	// ErrChainBroken is returned by chain verification when an entry's
	// previous-hash link or recomputed hash does not match.
	ErrChainBroken = errors.New("audit hash chain broken")
)

// ValidKinds defines the allowed entry kinds.
var ValidKinds = map[string]bool{
	KindDecision:      true,
	KindExecution:     true,
	KindSync:          true,
	KindPolicyChange:  true,
	KindSecurityAlert: true,
}

// Entry is a single record in the audit log. Entries are never mutated after
// creation; the log owns them exclusively once written.
type Entry struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	PrincipalID string    `json:"principal_id,omitempty"`
	ActionKind  string    `json:"action_kind,omitempty"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	TokenID     string    `json:"token_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Emergency   bool      `json:"emergency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Tamper detection: each entry hashes its body together with the
	// previous entry's hash, forming an append-only chain.
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// hashBody is the canonical hashed form of an entry. All fields are scalars
// in a fixed struct so json.Marshal field order is deterministic and the
// hash is reproducible.
type hashBody struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	PrincipalID  string `json:"principal_id"`
	ActionKind   string `json:"action_kind"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason"`
	RequestID    string `json:"request_id"`
	TokenID      string `json:"token_id"`
	Detail       string `json:"detail"`
	Emergency    bool   `json:"emergency"`
	CreatedAt    string `json:"created_at"`
	PreviousHash string `json:"previous_hash"`
}

// ComputeHash returns the SHA-256 hash of the entry body chained to the
// previous entry's hash.
func ComputeHash(e *Entry) string {
	body := hashBody{
		ID:           e.ID,
		Kind:         e.Kind,
		PrincipalID:  e.PrincipalID,
		ActionKind:   e.ActionKind,
		Outcome:      e.Outcome,
		Reason:       e.Reason,
		RequestID:    e.RequestID,
		TokenID:      e.TokenID,
		Detail:       e.Detail,
		Emergency:    e.Emergency,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		PreviousHash: e.PreviousHash,
	}
	// Marshal of a flat struct cannot fail
	data, _ := json.Marshal(body)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Repository defines the interface for audit log persistence.
type Repository interface {
	// Append writes a new entry to the log, linking it to the current head
	// of the hash chain. The entry's id, timestamp, previous hash, and
	// entry hash are assigned by the repository. Returns the stored entry.
	Append(e Entry) (*Entry, error)

	// QueryByPrincipal retrieves entries for a principal, newest first.
	// Limit 0 means no limit.
	QueryByPrincipal(principalID string, limit int) ([]*Entry, error)

	// QueryByKind retrieves entries of a given kind, newest first.
	// Limit 0 means no limit.
	QueryByKind(kind string, limit int) ([]*Entry, error)

	// Head returns the hash of the most recent entry, or "" for an empty log.
	Head() (string, error)

	// VerifyChain recomputes every entry hash from genesis and checks the
	// previous-hash links. Returns ErrChainBroken on the first mismatch.
	VerifyChain() error
}
