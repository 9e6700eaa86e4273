package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openclavis/authbridge/internal/audit"
)

// fakeLiveStore is a LiveStore with a settable state.
type fakeLiveStore struct {
	mu      sync.Mutex
	state   State
	anchors map[int64]string
}

func newFakeLiveStore() *fakeLiveStore {
	return &fakeLiveStore{
		state: State{
			RuntimeID: "runtime-1",
			Principals: []StatePrin{
				{ID: "p-1", Tier: 5, Standing: "active"},
			},
			Policies: []StatePolicy{
				{ActionKind: "grant_credit", MinimumTier: 3, Enabled: true},
			},
			StampCount: 7,
			HeadHash:   "abc123",
		},
		anchors: make(map[int64]string),
	}
}

func (f *fakeLiveStore) ExportState() (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.state
	return &cp, nil
}

func (f *fakeLiveStore) SetAnchorRef(sequence int64, ref string, committedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchors[sequence] = ref
	return nil
}

func (f *fakeLiveStore) mutate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.StampCount++
	f.state.HeadHash = "def456"
}

func newTestSynchronizer(t *testing.T, store LiveStore, anchors AnchorStore) (*Synchronizer, *audit.InMemoryRepository) {
	t.Helper()

	signer, err := NewSigner("ledger-test-secret-k2j9x7q4")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	auditRepo := audit.NewInMemoryRepository()
	auditLog, err := audit.NewLog(auditRepo)
	if err != nil {
		t.Fatalf("NewLog() error = %v", err)
	}

	job := NewSynchronizer(SynchronizerConfig{
		Interval:    time.Hour,
		Timeout:     2 * time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}, store, anchors, signer, auditLog)

	return job, auditRepo
}

func TestForceSyncChainsSnapshots(t *testing.T) {
	store := newFakeLiveStore()
	anchors := NewInMemoryAnchorStore()
	job, auditRepo := newTestSynchronizer(t, store, anchors)
	ctx := context.Background()

	first, err := job.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}
	if first.PreviousHash != "" {
		t.Errorf("first snapshot PreviousHash = %q, want empty", first.PreviousHash)
	}
	if first.AnchorRef == "" || first.CommittedAt.IsZero() {
		t.Errorf("first snapshot not committed: %+v", first)
	}
	if store.anchors[first.Sequence] != first.AnchorRef {
		t.Errorf("anchor ref not written back to live store")
	}

	store.mutate()
	second, err := job.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}
	if second.PreviousHash != first.ContentHash {
		t.Errorf("second snapshot PreviousHash = %q, want %q", second.PreviousHash, first.ContentHash)
	}
	if second.ContentHash == first.ContentHash {
		t.Error("mutated store produced identical content hash")
	}

	// Both cycles are audit-logged.
	events, _ := auditRepo.QueryByKind(audit.KindSync, 0)
	if len(events) != 2 {
		t.Errorf("sync audit entries = %d, want 2", len(events))
	}
}

func TestResumeContinuesChainAcrossRestart(t *testing.T) {
	store := newFakeLiveStore()
	anchors := NewInMemoryAnchorStore()
	ctx := context.Background()

	job, _ := newTestSynchronizer(t, store, anchors)
	first, err := job.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}

	// A restarted process builds a fresh synchronizer over the same anchor
	// store and seeds it from the last committed snapshot.
	restored, err := anchors.Get(ctx, first.AnchorRef)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	restarted, _ := newTestSynchronizer(t, store, anchors)
	restarted.Resume(restored)

	store.mutate()
	second, err := restarted.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}
	if second.PreviousHash != first.ContentHash {
		t.Errorf("post-restart PreviousHash = %q, want %q", second.PreviousHash, first.ContentHash)
	}
	if second.Sequence != first.Sequence+1 {
		t.Errorf("post-restart Sequence = %d, want %d", second.Sequence, first.Sequence+1)
	}
	if got := restarted.LastCommitted(); got == nil || got.ContentHash != second.ContentHash {
		t.Error("restarted synchronizer must track the new chain head")
	}
}

func TestResumeWithNilSnapshotStartsAtGenesis(t *testing.T) {
	store := newFakeLiveStore()
	anchors := NewInMemoryAnchorStore()
	job, _ := newTestSynchronizer(t, store, anchors)

	job.Resume(nil)

	snap, err := job.ForceSync(context.Background())
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}
	if snap.Sequence != 1 || snap.PreviousHash != "" {
		t.Errorf("genesis snapshot = seq %d prev %q, want seq 1 and empty prev", snap.Sequence, snap.PreviousHash)
	}
}

func TestUnchangedStoreProducesSameContentHash(t *testing.T) {
	store := newFakeLiveStore()

	stateA, err := store.ExportState()
	if err != nil {
		t.Fatalf("ExportState() error = %v", err)
	}
	stateB, err := store.ExportState()
	if err != nil {
		t.Fatalf("ExportState() error = %v", err)
	}

	payloadA, err := EncodeState(stateA)
	if err != nil {
		t.Fatalf("EncodeState() error = %v", err)
	}
	payloadB, err := EncodeState(stateB)
	if err != nil {
		t.Fatalf("EncodeState() error = %v", err)
	}

	if ContentHash(payloadA, "prev") != ContentHash(payloadB, "prev") {
		t.Error("identical states produced different content hashes")
	}
}

func TestFailedCyclesChainToLastCommitted(t *testing.T) {
	store := newFakeLiveStore()
	anchors := NewInMemoryAnchorStore()
	job, _ := newTestSynchronizer(t, store, anchors)
	ctx := context.Background()

	committed, err := job.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}

	// Three cycles against an unreachable anchor store. The 2s cycle
	// timeout bounds the millisecond-scale retries.
	anchors.FailNext(-1)
	for i := 0; i < 3; i++ {
		store.mutate()
		if _, err := job.ForceSync(ctx); err == nil {
			t.Fatal("ForceSync() succeeded against failing anchor store")
		}
	}

	anchors.FailNext(0)
	recovered, err := job.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() after recovery error = %v", err)
	}
	if recovered.PreviousHash != committed.ContentHash {
		t.Errorf("recovered PreviousHash = %q, want last committed %q", recovered.PreviousHash, committed.ContentHash)
	}
	if job.LastCommitted().ContentHash != recovered.ContentHash {
		t.Errorf("LastCommitted() not updated after recovery")
	}
}

func TestSnapshotSignature(t *testing.T) {
	store := newFakeLiveStore()
	job, _ := newTestSynchronizer(t, store, NewInMemoryAnchorStore())

	snap, err := job.ForceSync(context.Background())
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}

	signer, _ := NewSigner("ledger-test-secret-k2j9x7q4")
	if err := signer.Verify(snap); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	other, _ := NewSigner("a-different-secret")
	if err := other.Verify(snap); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrSignatureMismatch", err)
	}
}

func TestForceSyncSingleFlight(t *testing.T) {
	store := newFakeLiveStore()
	anchors := &blockingAnchorStore{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	job, _ := newTestSynchronizer(t, store, anchors)
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := job.ForceSync(ctx)
		done <- err
	}()

	<-started
	<-anchors.entered

	if _, err := job.ForceSync(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent ForceSync() error = %v, want ErrSyncInProgress", err)
	}

	close(anchors.release)
	if err := <-done; err != nil {
		t.Fatalf("first ForceSync() error = %v", err)
	}
}

// blockingAnchorStore parks Commit until released, to hold the single-flight
// lock open.
type blockingAnchorStore struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAnchorStore) Commit(ctx context.Context, snap *Snapshot) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return "blocked/1", nil
}

func (b *blockingAnchorStore) Get(ctx context.Context, ref string) (*Snapshot, error) {
	return nil, ErrAnchorNotFound
}
