package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openclavis/authbridge/internal/audit"
)

// Default cadence and retry policy for anchor commits.
const (
	DefaultSyncInterval = 5 * time.Minute
	DefaultSyncTimeout  = 2 * time.Minute
	DefaultBackoffBase  = 30 * time.Second
	DefaultBackoffCap   = 30 * time.Minute
)

// ErrSyncInProgress is returned by ForceSync when a cycle is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// LiveStore exposes the authoritative runtime state to the synchronizer.
type LiveStore interface {
	// ExportState captures the current live state.
	ExportState() (*State, error)

	// SetAnchorRef records the durable anchor reference for a committed
	// snapshot so operators can locate it from the live side.
	SetAnchorRef(sequence int64, ref string, committedAt time.Time) error
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// SynchronizerConfig configures the snapshot synchronizer.
type SynchronizerConfig struct {
	// Interval is the duration between sync cycles.
	Interval time.Duration
	// Timeout bounds a single cycle including its retries.
	Timeout time.Duration
	// BackoffBase is the initial retry delay for anchor commits.
	BackoffBase time.Duration
	// BackoffCap is the maximum retry delay.
	BackoffCap time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

const jobType = "ledger_sync"

// Synchronizer periodically snapshots the live store, signs the snapshot,
// and anchors it durably. Each snapshot chains to the last snapshot that
// actually committed, so failed cycles leave no gaps in the chain.
type Synchronizer struct {
	config  SynchronizerConfig
	store   LiveStore
	anchors AnchorStore
	signer  *Signer
	audit   *audit.Log

	// runMu enforces single-flight: a timer cycle and a manual trigger can
	// never run concurrently.
	runMu sync.Mutex

	chainMu       sync.Mutex
	lastCommitted *Snapshot
	sequence      int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSynchronizer creates a snapshot synchronizer.
func NewSynchronizer(
	config SynchronizerConfig,
	store LiveStore,
	anchors AnchorStore,
	signer *Signer,
	auditLog *audit.Log,
) *Synchronizer {
	if config.Interval == 0 {
		config.Interval = DefaultSyncInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSyncTimeout
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.BackoffCap == 0 {
		config.BackoffCap = DefaultBackoffCap
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Synchronizer{
		config:  config,
		store:   store,
		anchors: anchors,
		signer:  signer,
		audit:   auditLog,
	}
}

// Start begins the periodic sync job.
// Returns immediately; the job runs in a background goroutine.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop signals the sync job to stop and waits for it to finish.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (s *Synchronizer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceSync runs one sync cycle immediately. It shares the single-flight
// guard with the periodic job; if a cycle is already in progress it returns
// ErrSyncInProgress rather than queueing.
func (s *Synchronizer) ForceSync(ctx context.Context) (*Snapshot, error) {
	if !s.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.runMu.Unlock()
	return s.syncOnce(ctx)
}

// Resume seeds the chain head from a snapshot committed by a previous
// process, so the chain continues where it left off instead of restarting
// at genesis. Call before Start; a nil snapshot is a no-op.
func (s *Synchronizer) Resume(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.chainMu.Lock()
	s.lastCommitted = snap
	s.sequence = snap.Sequence
	s.chainMu.Unlock()
}

// LastCommitted returns the most recently anchored snapshot, or nil.
func (s *Synchronizer) LastCommitted() *Snapshot {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	return s.lastCommitted
}

func (s *Synchronizer) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("ledger sync job stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.config.Logger.Info("ledger sync job stopping due to stop signal")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Synchronizer) runCycle(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	_, err := s.syncOnce(ctx)
	duration := time.Since(start).Seconds()

	if s.config.JobMetrics != nil {
		s.config.JobMetrics.ObserveJobDuration(jobType, duration)
		if err != nil {
			s.config.JobMetrics.IncJobsTotal(jobType, "error")
			s.config.JobMetrics.IncJobErrors(jobType, "anchor_commit")
		} else {
			s.config.JobMetrics.IncJobsTotal(jobType, "success")
		}
	}
	if err != nil {
		s.config.Logger.Error("ledger sync cycle failed", "error", err)
	}
}

// syncOnce builds, signs, and anchors one snapshot. Callers must hold runMu.
func (s *Synchronizer) syncOnce(parentCtx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(parentCtx, s.config.Timeout)
	defer cancel()

	snap, err := s.buildSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}

	ref, err := s.commitWithRetry(ctx, snap)
	if err != nil {
		s.logSyncEvent(snap, audit.OutcomeFailure, err.Error())
		return nil, fmt.Errorf("failed to anchor snapshot %d: %w", snap.Sequence, err)
	}

	snap.AnchorRef = ref
	snap.CommittedAt = time.Now().UTC()

	s.chainMu.Lock()
	s.lastCommitted = snap
	s.chainMu.Unlock()

	if err := s.store.SetAnchorRef(snap.Sequence, ref, snap.CommittedAt); err != nil {
		// The anchor itself is durable; the write-back is advisory.
		s.config.Logger.Error("failed to record anchor ref on live store",
			"sequence", snap.Sequence,
			"anchor_ref", ref,
			"error", err,
		)
	}

	s.logSyncEvent(snap, audit.OutcomeSuccess, "")
	s.config.Logger.Info("ledger snapshot anchored",
		"sequence", snap.Sequence,
		"content_hash", snap.ContentHash,
		"anchor_ref", ref,
	)
	return snap, nil
}

// buildSnapshot exports the live state and chains it to the last committed
// snapshot. Callers must hold runMu.
func (s *Synchronizer) buildSnapshot() (*Snapshot, error) {
	state, err := s.store.ExportState()
	if err != nil {
		return nil, err
	}
	payload, err := EncodeState(state)
	if err != nil {
		return nil, err
	}

	s.chainMu.Lock()
	previousHash := ""
	if s.lastCommitted != nil {
		previousHash = s.lastCommitted.ContentHash
	}
	s.sequence++
	seq := s.sequence
	s.chainMu.Unlock()

	contentHash := ContentHash(payload, previousHash)
	return &Snapshot{
		Sequence:     seq,
		TakenAt:      time.Now().UTC(),
		PreviousHash: previousHash,
		ContentHash:  contentHash,
		Payload:      payload,
		Signature:    s.signer.Sign(contentHash),
	}, nil
}

// commitWithRetry anchors the snapshot, retrying with exponential backoff
// until the cycle timeout expires.
func (s *Synchronizer) commitWithRetry(ctx context.Context, snap *Snapshot) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.BackoffBase
	policy.MaxInterval = s.config.BackoffCap
	policy.MaxElapsedTime = 0 // bounded by ctx, not elapsed time

	var ref string
	operation := func() error {
		var err error
		ref, err = s.anchors.Commit(ctx, snap)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Synchronizer) logSyncEvent(snap *Snapshot, outcome, reason string) {
	if s.audit == nil {
		return
	}
	entry := audit.Entry{
		Kind:    audit.KindSync,
		Outcome: outcome,
		Reason:  reason,
		Detail:  fmt.Sprintf("sequence=%d content_hash=%s anchor_ref=%s", snap.Sequence, snap.ContentHash, snap.AnchorRef),
	}
	if _, err := s.audit.Append(entry); err != nil {
		s.config.Logger.Error("failed to append sync audit entry",
			"sequence", snap.Sequence,
			"error", err,
		)
	}
}
