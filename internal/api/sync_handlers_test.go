package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openclavis/authbridge/internal/ledger"
)

type stubLiveStore struct{}

func (s *stubLiveStore) ExportState() (*ledger.State, error) {
	return &ledger.State{RuntimeID: testRuntimeID, StampCount: 1}, nil
}

func (s *stubLiveStore) SetAnchorRef(sequence int64, ref string, committedAt time.Time) error {
	return nil
}

func newTestSyncHandler(t *testing.T, stack *testStack) *SyncHandlers {
	t.Helper()
	signer, err := ledger.NewSigner(testSigningSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	synchronizer := ledger.NewSynchronizer(ledger.SynchronizerConfig{
		Interval:    time.Hour,
		Timeout:     2 * time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}, &stubLiveStore{}, ledger.NewInMemoryAnchorStore(), signer, stack.auditLog)
	return NewSyncHandlers(synchronizer, stack.rootKey)
}

func TestForceSyncEndpoint(t *testing.T) {
	stack := newTestStack(t)
	handler := newTestSyncHandler(t, stack)

	w := httptest.NewRecorder()
	handler.ForceSync(w, signedRequest(t, stack, "POST", "/v1/sync", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Sequence != 1 || resp.ContentHash == "" || resp.AnchorRef == "" {
		t.Errorf("unexpected sync response: %+v", resp)
	}
}

func TestForceSyncRequiresRootSignature(t *testing.T) {
	stack := newTestStack(t)
	handler := newTestSyncHandler(t, stack)

	req := httptest.NewRequest("POST", "/v1/sync", nil)
	w := httptest.NewRecorder()
	handler.ForceSync(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != ErrCodeAuthFailed {
		t.Errorf("expected code %q, got %q", ErrCodeAuthFailed, resp.Error.Code)
	}
}
