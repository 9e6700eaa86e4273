package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/gate"
	"github.com/openclavis/authbridge/internal/middleware"
)

// PerformActionRequest is the body of POST /v1/actions/{kind}.
type PerformActionRequest struct {
	PrincipalID         string          `json:"principal_id"`
	RuntimeID           string          `json:"runtime_id"`
	RequestNonce        string          `json:"request_nonce"`
	CapabilitiesClaimed []string        `json:"capabilities_claimed,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// ActionHandlers holds dependencies for gate-wrapped action endpoints.
type ActionHandlers struct {
	gate *gate.Gate
}

// NewActionHandlers creates a new ActionHandlers instance.
func NewActionHandlers(g *gate.Gate) *ActionHandlers {
	return &ActionHandlers{gate: g}
}

// PerformAction handles POST /v1/actions/{kind}.
// The full guarded path: authorize, consume the approval token, execute, and
// stamp the execution in the audit log. The action itself records the request
// payload; its digest lands in the signature stamp.
func (h *ActionHandlers) PerformAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	// Expected: /v1/actions/{kind}
	kind := strings.TrimPrefix(r.URL.Path, "/v1/actions/")
	if kind == "" || strings.Contains(kind, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	var req PerformActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	authzReq := authz.Request{
		PrincipalID:         req.PrincipalID,
		ActionKind:          kind,
		RuntimeID:           req.RuntimeID,
		RequestNonce:        req.RequestNonce,
		CapabilitiesClaimed: req.CapabilitiesClaimed,
	}
	if msg := validateAuthzRequest(&authzReq); msg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	ctx := middleware.SetPrincipalID(r.Context(), req.PrincipalID)
	middleware.UpdateResponseContext(w, ctx)

	outcome, err := h.gate.Perform(ctx, authzReq, func(ctx context.Context) ([]byte, error) {
		return req.Payload, nil
	})
	if err != nil {
		var denied *gate.DeniedError
		switch {
		case errors.As(err, &denied):
			ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
			WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Action denied: "+denied.Reason)
		case errors.Is(err, gate.ErrReplayRejected):
			ctx = middleware.SetErrorCode(ctx, ErrCodeReplayRejected)
			WriteError(w, ctx, http.StatusConflict, ErrCodeReplayRejected, "Approval token already consumed or expired")
		default:
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to perform action")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}
