package audit

import (
	"errors"
	"testing"
)

func TestAppendAssignsChainFields(t *testing.T) {
	repo := NewInMemoryRepository()

	first, err := repo.Append(Entry{Kind: KindDecision, PrincipalID: "p-1", Outcome: OutcomeApproved})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.ID == "" || first.EntryHash == "" || first.CreatedAt.IsZero() {
		t.Errorf("Append() did not assign id/hash/timestamp: %+v", first)
	}
	if first.PreviousHash != "" {
		t.Errorf("genesis entry PreviousHash = %q, want empty", first.PreviousHash)
	}

	second, err := repo.Append(Entry{Kind: KindExecution, PrincipalID: "p-1", Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if second.PreviousHash != first.EntryHash {
		t.Errorf("second entry PreviousHash = %q, want %q", second.PreviousHash, first.EntryHash)
	}
}

func TestAppendRejectsUnknownKind(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.Append(Entry{Kind: "gossip", Outcome: OutcomeDenied}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Append() error = %v, want ErrInvalidKind", err)
	}
}

func TestVerifyChain(t *testing.T) {
	repo := NewInMemoryRepository()
	for i := 0; i < 5; i++ {
		if _, err := repo.Append(Entry{Kind: KindDecision, PrincipalID: "p-1", Outcome: OutcomeDenied, Reason: "insufficient_tier"}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := repo.VerifyChain(); err != nil {
		t.Fatalf("VerifyChain() on intact log error = %v", err)
	}

	// Tampering with any field breaks verification.
	repo.tamper(2, func(e *Entry) { e.Reason = "doctored" })
	if err := repo.VerifyChain(); !errors.Is(err, ErrChainBroken) {
		t.Errorf("VerifyChain() after tamper error = %v, want ErrChainBroken", err)
	}
}

func TestVerifyChainDetectsRelink(t *testing.T) {
	repo := NewInMemoryRepository()
	for i := 0; i < 3; i++ {
		repo.Append(Entry{Kind: KindSync, Outcome: OutcomeSuccess})
	}

	// Rewriting an entry and its hash to look self-consistent still breaks
	// the successor's previous-hash link.
	repo.tamper(1, func(e *Entry) {
		e.Detail = "rewritten"
		e.EntryHash = ComputeHash(e)
	})
	if err := repo.VerifyChain(); !errors.Is(err, ErrChainBroken) {
		t.Errorf("VerifyChain() after relink error = %v, want ErrChainBroken", err)
	}
}

func TestQueries(t *testing.T) {
	repo := NewInMemoryRepository()
	repo.Append(Entry{Kind: KindDecision, PrincipalID: "p-1", Outcome: OutcomeApproved})
	repo.Append(Entry{Kind: KindDecision, PrincipalID: "p-2", Outcome: OutcomeDenied})
	repo.Append(Entry{Kind: KindExecution, PrincipalID: "p-1", Outcome: OutcomeSuccess})

	byPrincipal, err := repo.QueryByPrincipal("p-1", 0)
	if err != nil {
		t.Fatalf("QueryByPrincipal() error = %v", err)
	}
	if len(byPrincipal) != 2 {
		t.Fatalf("QueryByPrincipal() returned %d entries, want 2", len(byPrincipal))
	}
	// Newest first
	if byPrincipal[0].Kind != KindExecution {
		t.Errorf("QueryByPrincipal()[0].Kind = %q, want execution", byPrincipal[0].Kind)
	}

	byKind, err := repo.QueryByKind(KindDecision, 1)
	if err != nil {
		t.Fatalf("QueryByKind() error = %v", err)
	}
	if len(byKind) != 1 || byKind[0].PrincipalID != "p-2" {
		t.Errorf("QueryByKind(limit=1) = %+v, want single newest decision", byKind)
	}
}

func TestHead(t *testing.T) {
	repo := NewInMemoryRepository()

	head, err := repo.Head()
	if err != nil || head != "" {
		t.Errorf("Head() on empty log = %q, %v, want empty, nil", head, err)
	}

	stored, _ := repo.Append(Entry{Kind: KindSync, Outcome: OutcomeSuccess})
	head, err = repo.Head()
	if err != nil || head != stored.EntryHash {
		t.Errorf("Head() = %q, %v, want %q, nil", head, err, stored.EntryHash)
	}
}
