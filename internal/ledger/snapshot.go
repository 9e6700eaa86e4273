// Package ledger synchronizes the live authorization state into durable,
// tamper-evident snapshots anchored in external storage.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrEmptySigningSecret is returned when a signer is built without a
	// secret.
	ErrEmptySigningSecret = errors.New("signing secret cannot be empty")

	// ErrSignatureMismatch is returned when a snapshot's runtime signature
	// does not verify against its content hash.
	ErrSignatureMismatch = errors.New("snapshot signature mismatch")
)

// State is the exported live-store state captured by a snapshot. The CBOR
// encoding is canonical, so equal states always produce identical payloads.
type State struct {
	RuntimeID  string        `cbor:"runtime_id"`
	Principals []StatePrin   `cbor:"principals"`
	Policies   []StatePolicy `cbor:"policies"`
	StampCount int64         `cbor:"stamp_count"`
	HeadHash   string        `cbor:"head_hash"`
}

// StatePrin is a principal as exported into the ledger.
type StatePrin struct {
	ID       string `cbor:"id"`
	Tier     int    `cbor:"tier"`
	Standing string `cbor:"standing"`
}

// StatePolicy is a policy entry as exported into the ledger.
type StatePolicy struct {
	ActionKind   string   `cbor:"action_kind"`
	MinimumTier  int      `cbor:"minimum_tier"`
	Capabilities []string `cbor:"capabilities"`
	Enabled      bool     `cbor:"enabled"`
}

// Snapshot is one link in the durable chain. The content hash covers the
// payload and the previous committed hash but not the timestamp, so an
// unchanged store produces the same content hash on every cycle.
type Snapshot struct {
	Sequence     int64     `json:"sequence"`
	TakenAt      time.Time `json:"taken_at"`
	PreviousHash string    `json:"previous_hash"`
	ContentHash  string    `json:"content_hash"`
	Payload      []byte    `json:"payload"`
	Signature    string    `json:"signature"`
	AnchorRef    string    `json:"anchor_ref,omitempty"`
	CommittedAt  time.Time `json:"committed_at,omitzero"`
}

// encMode is the canonical CBOR encoder shared by all snapshot builds.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: cbor encoder init: " + err.Error())
	}
}

// EncodeState renders a state into its canonical CBOR payload.
func EncodeState(s *State) ([]byte, error) {
	return encMode.Marshal(s)
}

// DecodeState parses a snapshot payload back into a state.
func DecodeState(payload []byte) (*State, error) {
	var s State
	if err := cbor.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ContentHash computes the snapshot chain hash: SHA-256 over the payload
// followed by the previous committed hash.
func ContentHash(payload []byte, previousHash string) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Signer produces and checks runtime signatures over snapshot content hashes.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the runtime signing secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySigningSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the hex HMAC-SHA256 of the content hash.
func (s *Signer) Sign(contentHash string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(contentHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a snapshot's signature against its content hash.
func (s *Signer) Verify(snap *Snapshot) error {
	want, err := hex.DecodeString(snap.Signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(snap.ContentHash))
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrSignatureMismatch
	}
	return nil
}
