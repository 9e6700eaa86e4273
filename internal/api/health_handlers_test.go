package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) HealthCheck(ctx context.Context) error {
	return f.err
}

func TestHealthAlwaysOK(t *testing.T) {
	handler := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
}

func TestReadyWithHealthyDependencies(t *testing.T) {
	handler := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:    &fakeChecker{},
		RedisChecker: &fakeChecker{},
	})

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	handler.Ready(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyWithFailingDatabase(t *testing.T) {
	handler := NewHealthHandlers(HealthHandlersConfig{
		DBChecker: &fakeChecker{err: errors.New("connection refused")},
	})

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	handler.Ready(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Checks["database"] != "error" {
		t.Errorf("expected database check error, got %q", resp.Checks["database"])
	}
}
