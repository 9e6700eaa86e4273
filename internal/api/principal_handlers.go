package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/middleware"
	"github.com/openclavis/authbridge/internal/principal"
)

// CreatePrincipalRequest is the body of POST /v1/principals.
type CreatePrincipalRequest struct {
	ID         string `json:"id"`
	Tier       int    `json:"tier"`
	LineageRef string `json:"lineage_ref,omitempty"`
}

// UpdateStandingRequest is the body of PUT /v1/principals/{id}/standing.
type UpdateStandingRequest struct {
	Standing string `json:"standing"`
}

// PrincipalHandlers holds dependencies for principal administration.
// Mutations require a root-key signature.
type PrincipalHandlers struct {
	registry principal.Registry
	rootKey  *authz.RootKey
}

// NewPrincipalHandlers creates a new PrincipalHandlers instance.
func NewPrincipalHandlers(registry principal.Registry, rootKey *authz.RootKey) *PrincipalHandlers {
	return &PrincipalHandlers{registry: registry, rootKey: rootKey}
}

// CreatePrincipal handles POST /v1/principals.
func (h *PrincipalHandlers) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
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

	if !verifyRootRequest(r, h.rootKey, body) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeAuthFailed, "Root signature verification failed")
		return
	}

	var req CreatePrincipalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if strings.TrimSpace(req.ID) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "id is required")
		return
	}

	p := &principal.Principal{
		ID:         req.ID,
		Tier:       req.Tier,
		LineageRef: req.LineageRef,
	}
	if err := h.registry.Create(p); err != nil {
		switch {
		case errors.Is(err, principal.ErrAlreadyExists):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Principal already exists")
		case errors.Is(err, principal.ErrInvalidTier), errors.Is(err, principal.ErrInvalidStanding):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create principal")
		}
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// GetPrincipal handles GET /v1/principals/{id}.
func (h *PrincipalHandlers) GetPrincipal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/principals/")
	if id == "" || strings.Contains(id, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	p, err := h.registry.Lookup(id)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Principal not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to look up principal")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// UpdateStanding handles PUT /v1/principals/{id}/standing.
// Revocation is terminal: once revoked, a principal's standing can never
// change again.
func (h *PrincipalHandlers) UpdateStanding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	// Expected: /v1/principals/{id}/standing
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/principals/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] != "standing" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}
	id := pathParts[0]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	if !verifyRootRequest(r, h.rootKey, body) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeAuthFailed, "Root signature verification failed")
		return
	}

	var req UpdateStandingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if err := h.registry.UpdateStanding(id, req.Standing); err != nil {
		switch {
		case errors.Is(err, principal.ErrNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Principal not found")
		case errors.Is(err, principal.ErrInvalidStanding):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, principal.ErrInvalidTransition):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Standing transition not allowed")
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update standing")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "standing": req.Standing})
}
