package ledger

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/policy"
	"github.com/openclavis/authbridge/internal/principal"
)

// AnchorRecord is the live-side pointer to a committed snapshot.
type AnchorRecord struct {
	Sequence    int64     `json:"sequence"`
	Ref         string    `json:"ref"`
	CommittedAt time.Time `json:"committed_at"`
}

// PrincipalSource lists every registered principal.
type PrincipalSource interface {
	All() ([]principal.Principal, error)
}

// BridgeStore implements LiveStore over the bridge's authoritative state:
// the principal registry, the policy table, and the audit log. Exported
// states are deterministic because the underlying listings are ordered.
type BridgeStore struct {
	runtimeID  string
	principals PrincipalSource
	policies   policy.Table
	auditRepo  audit.Repository
	db         *sql.DB

	mu      sync.RWMutex
	anchors []AnchorRecord
}

// NewBridgeStore creates a BridgeStore for the given runtime.
func NewBridgeStore(runtimeID string, principals PrincipalSource, policies policy.Table, auditRepo audit.Repository) *BridgeStore {
	return &BridgeStore{
		runtimeID:  runtimeID,
		principals: principals,
		policies:   policies,
		auditRepo:  auditRepo,
	}
}

// ExportState captures the current principals, policies, and audit head.
func (b *BridgeStore) ExportState() (*State, error) {
	prins, err := b.principals.All()
	if err != nil {
		return nil, err
	}
	statePrins := make([]StatePrin, 0, len(prins))
	for _, p := range prins {
		statePrins = append(statePrins, StatePrin{
			ID:       p.ID,
			Tier:     p.Tier,
			Standing: p.Standing,
		})
	}
	// Registry listing order is not guaranteed; canonical encoding needs a
	// stable order.
	sort.Slice(statePrins, func(i, j int) bool { return statePrins[i].ID < statePrins[j].ID })

	entries, err := b.policies.List()
	if err != nil {
		return nil, err
	}
	statePolicies := make([]StatePolicy, 0, len(entries))
	for _, e := range entries {
		statePolicies = append(statePolicies, StatePolicy{
			ActionKind:   e.ActionKind,
			MinimumTier:  e.MinimumTier,
			Capabilities: e.Capabilities,
			Enabled:      e.Enabled,
		})
	}

	stamps, err := b.auditRepo.QueryByKind(audit.KindExecution, 0)
	if err != nil {
		return nil, err
	}
	head, err := b.auditRepo.Head()
	if err != nil {
		return nil, err
	}

	return &State{
		RuntimeID:  b.runtimeID,
		Principals: statePrins,
		Policies:   statePolicies,
		StampCount: int64(len(stamps)),
		HeadHash:   head,
	}, nil
}

// WithDB persists anchor records to the ledger_anchors table so the anchor
// history survives restarts. Without a database the records are kept in
// memory only.
func (b *BridgeStore) WithDB(db *sql.DB) *BridgeStore {
	b.db = db
	return b
}

// SetAnchorRef records the anchor reference for a committed snapshot.
func (b *BridgeStore) SetAnchorRef(sequence int64, ref string, committedAt time.Time) error {
	b.mu.Lock()
	b.anchors = append(b.anchors, AnchorRecord{
		Sequence:    sequence,
		Ref:         ref,
		CommittedAt: committedAt,
	})
	b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	_, err := b.db.Exec(`
		INSERT INTO ledger_anchors (sequence, anchor_ref, committed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (sequence) DO UPDATE
		SET anchor_ref = EXCLUDED.anchor_ref, committed_at = EXCLUDED.committed_at`,
		sequence, ref, committedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist anchor record: %w", err)
	}
	return nil
}

// LatestAnchor returns the most recently committed anchor record, or nil
// when nothing has been anchored yet. With a database the persisted table
// is consulted, so the record survives process restarts.
func (b *BridgeStore) LatestAnchor() (*AnchorRecord, error) {
	if b.db != nil {
		var rec AnchorRecord
		err := b.db.QueryRow(`
			SELECT sequence, anchor_ref, committed_at
			FROM ledger_anchors
			ORDER BY sequence DESC
			LIMIT 1`).Scan(&rec.Sequence, &rec.Ref, &rec.CommittedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load latest anchor record: %w", err)
		}
		return &rec, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.anchors) == 0 {
		return nil, nil
	}
	rec := b.anchors[len(b.anchors)-1]
	return &rec, nil
}

// AnchorRecords returns a copy of the recorded anchor references, oldest
// first.
func (b *BridgeStore) AnchorRecords() []AnchorRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]AnchorRecord, len(b.anchors))
	copy(out, b.anchors)
	return out
}
