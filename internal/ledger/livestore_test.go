package ledger

import (
	"testing"
	"time"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/policy"
	"github.com/openclavis/authbridge/internal/principal"
)

func newBridgeFixture(t *testing.T) (*BridgeStore, *principal.InMemoryRegistry, *policy.InMemoryTable, *audit.InMemoryRepository) {
	t.Helper()
	registry := principal.NewInMemoryRegistry()
	policies := policy.NewInMemoryTable()
	repo := audit.NewInMemoryRepository()
	return NewBridgeStore("runtime-1", registry, policies, repo), registry, policies, repo
}

func TestExportStateIsDeterministic(t *testing.T) {
	store, registry, policies, _ := newBridgeFixture(t)

	// Insertion order differs from id order on purpose.
	for _, id := range []string{"p-c", "p-a", "p-b"} {
		if err := registry.Create(&principal.Principal{ID: id, Tier: 2}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := policies.Set(&policy.Entry{ActionKind: "grant_credit", MinimumTier: 1, Enabled: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	first, err := store.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}
	second, err := store.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}

	firstPayload, err := EncodeState(first)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	secondPayload, err := EncodeState(second)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	if string(firstPayload) != string(secondPayload) {
		t.Error("unchanged store must export byte-identical payloads")
	}

	if len(first.Principals) != 3 || first.Principals[0].ID != "p-a" {
		t.Errorf("expected principals ordered by id, got %+v", first.Principals)
	}
}

func TestExportStateCountsExecutionStamps(t *testing.T) {
	store, _, _, repo := newBridgeFixture(t)

	for i := 0; i < 2; i++ {
		if _, err := repo.Append(audit.Entry{Kind: audit.KindExecution, Outcome: audit.OutcomeSuccess}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := repo.Append(audit.Entry{Kind: audit.KindDecision, Outcome: audit.OutcomeApproved}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	state, err := store.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}
	if state.StampCount != 2 {
		t.Errorf("expected 2 execution stamps, got %d", state.StampCount)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if state.HeadHash != head {
		t.Error("exported head hash must match the audit chain head")
	}
}

func TestSetAnchorRefAccumulates(t *testing.T) {
	store, _, _, _ := newBridgeFixture(t)

	now := time.Now().UTC()
	if err := store.SetAnchorRef(1, "mem/00000001-abc", now); err != nil {
		t.Fatalf("SetAnchorRef: %v", err)
	}
	if err := store.SetAnchorRef(2, "mem/00000002-def", now); err != nil {
		t.Fatalf("SetAnchorRef: %v", err)
	}

	records := store.AnchorRecords()
	if len(records) != 2 {
		t.Fatalf("expected 2 anchor records, got %d", len(records))
	}
	if records[1].Sequence != 2 || records[1].Ref != "mem/00000002-def" {
		t.Errorf("unexpected record: %+v", records[1])
	}
}

func TestLatestAnchor(t *testing.T) {
	store, _, _, _ := newBridgeFixture(t)

	rec, err := store.LatestAnchor()
	if err != nil {
		t.Fatalf("LatestAnchor: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record before any anchor, got %+v", rec)
	}

	now := time.Now().UTC()
	if err := store.SetAnchorRef(1, "mem/00000001-abc", now); err != nil {
		t.Fatalf("SetAnchorRef: %v", err)
	}
	if err := store.SetAnchorRef(2, "mem/00000002-def", now); err != nil {
		t.Fatalf("SetAnchorRef: %v", err)
	}

	rec, err = store.LatestAnchor()
	if err != nil {
		t.Fatalf("LatestAnchor: %v", err)
	}
	if rec == nil || rec.Sequence != 2 || rec.Ref != "mem/00000002-def" {
		t.Errorf("unexpected latest record: %+v", rec)
	}
}
