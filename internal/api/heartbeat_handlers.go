package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openclavis/authbridge/internal/liveness"
	"github.com/openclavis/authbridge/internal/middleware"
)

// HeartbeatRequest is the body of POST /v1/heartbeat.
type HeartbeatRequest struct {
	RuntimeID string `json:"runtime_id"`
	Status    string `json:"status"`
	Sequence  int64  `json:"sequence"`
}

// HeartbeatResponse reports the runtime's recorded state after ingestion.
type HeartbeatResponse struct {
	RuntimeID string `json:"runtime_id"`
	Status    string `json:"status"`
	Sequence  int64  `json:"sequence"`
	Live      bool   `json:"live"`
}

// HeartbeatHandlers holds dependencies for the liveness endpoint.
type HeartbeatHandlers struct {
	monitor *liveness.Monitor
}

// NewHeartbeatHandlers creates a new HeartbeatHandlers instance.
func NewHeartbeatHandlers(monitor *liveness.Monitor) *HeartbeatHandlers {
	return &HeartbeatHandlers{monitor: monitor}
}

// Heartbeat handles POST /v1/heartbeat.
// Records a runtime heartbeat. A sequence at or below the last recorded one
// is rejected with 409 and leaves the stored record untouched.
func (h *HeartbeatHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if strings.TrimSpace(req.RuntimeID) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "runtime_id is required")
		return
	}

	if err := h.monitor.Record(req.RuntimeID, req.Status, req.Sequence); err != nil {
		switch {
		case errors.Is(err, liveness.ErrStaleSequence):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeStaleSequence)
			WriteError(w, ctx, http.StatusConflict, ErrCodeStaleSequence, "Heartbeat sequence is not greater than the last recorded")
		case errors.Is(err, liveness.ErrUnknownStatus):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "status must be blessed, degraded, or offline")
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record heartbeat")
		}
		return
	}

	writeJSON(w, http.StatusOK, HeartbeatResponse{
		RuntimeID: req.RuntimeID,
		Status:    req.Status,
		Sequence:  req.Sequence,
		Live:      h.monitor.IsLive(req.RuntimeID),
	})
}
