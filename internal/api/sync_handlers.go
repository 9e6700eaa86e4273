package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/ledger"
	"github.com/openclavis/authbridge/internal/middleware"
)

// SyncResponse reports a completed manual sync cycle. The payload itself is
// omitted; the content hash and anchor reference identify the snapshot.
type SyncResponse struct {
	Sequence    int64  `json:"sequence"`
	ContentHash string `json:"content_hash"`
	AnchorRef   string `json:"anchor_ref"`
	CommittedAt string `json:"committed_at"`
}

// SyncHandlers holds dependencies for the manual ledger sync endpoint.
type SyncHandlers struct {
	synchronizer *ledger.Synchronizer
	rootKey      *authz.RootKey
}

// NewSyncHandlers creates a new SyncHandlers instance.
func NewSyncHandlers(synchronizer *ledger.Synchronizer, rootKey *authz.RootKey) *SyncHandlers {
	return &SyncHandlers{synchronizer: synchronizer, rootKey: rootKey}
}

// ForceSync handles POST /v1/sync.
// Runs one sync cycle immediately, sharing the single-flight guard with the
// periodic job; a cycle already in progress yields 409.
func (h *SyncHandlers) ForceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	if !verifyRootRequest(r, h.rootKey, nil) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeAuthFailed, "Root signature verification failed")
		return
	}

	snap, err := h.synchronizer.ForceSync(r.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrSyncInProgress) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeSyncInProgress)
			WriteError(w, ctx, http.StatusConflict, ErrCodeSyncInProgress, "A sync cycle is already in progress")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Sync cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Sequence:    snap.Sequence,
		ContentHash: snap.ContentHash,
		AnchorRef:   snap.AnchorRef,
		CommittedAt: snap.CommittedAt.UTC().Format(time.RFC3339),
	})
}
