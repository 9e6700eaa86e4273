// Package api provides HTTP API handlers for the bridge server.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/middleware"
)

// AuthorizeHandlers holds dependencies for the authorization endpoints.
type AuthorizeHandlers struct {
	engine *authz.Engine
}

// NewAuthorizeHandlers creates a new AuthorizeHandlers instance.
func NewAuthorizeHandlers(engine *authz.Engine) *AuthorizeHandlers {
	return &AuthorizeHandlers{engine: engine}
}

// Authorize handles POST /v1/authorize.
// Evaluates an authorization request and returns the decision. Denials are
// 200 responses with approved=false; only malformed requests and
// infrastructure failures produce error statuses.
func (h *AuthorizeHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req authz.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if msg := validateAuthzRequest(&req); msg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	ctx := middleware.SetPrincipalID(r.Context(), req.PrincipalID)
	middleware.UpdateResponseContext(w, ctx)

	decision, err := h.engine.Authorize(ctx, req)
	if err != nil {
		if errors.Is(err, authz.ErrEmptyNonce) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "request_nonce is required")
			return
		}
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to evaluate request")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// Override handles POST /v1/override.
// The emergency path: the body is the authorization request and the
// X-Root-Signature header carries the root-key signature over the raw
// request body, byte for byte as transmitted.
func (h *AuthorizeHandlers) Override(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	var req authz.Request
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if msg := validateAuthzRequest(&req); msg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	ctx := middleware.SetPrincipalID(r.Context(), req.PrincipalID)
	middleware.UpdateResponseContext(w, ctx)

	decision, err := h.engine.Override(ctx, req, body, r.Header.Get(RootSignatureHeader))
	if err != nil {
		if errors.Is(err, authz.ErrRootSignature) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusForbidden, ErrCodeAuthFailed, "Root signature verification failed")
			return
		}
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to process override")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// validateAuthzRequest checks the required request fields. Returns an error
// message, or empty when valid.
func validateAuthzRequest(req *authz.Request) string {
	if strings.TrimSpace(req.PrincipalID) == "" {
		return "principal_id is required"
	}
	if strings.TrimSpace(req.ActionKind) == "" {
		return "action_kind is required"
	}
	if strings.TrimSpace(req.RuntimeID) == "" {
		return "runtime_id is required"
	}
	if strings.TrimSpace(req.RequestNonce) == "" {
		return "request_nonce is required"
	}
	return ""
}
