package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/authz"
	"github.com/openclavis/authbridge/internal/middleware"
	"github.com/openclavis/authbridge/internal/policy"
)

// UpsertPolicyRequest is the body of PUT /v1/policies/{kind}.
type UpsertPolicyRequest struct {
	MinimumTier  int      `json:"minimum_tier"`
	Capabilities []string `json:"capabilities,omitempty"`
	Enabled      bool     `json:"enabled"`
}

// PolicyHandlers holds dependencies for policy administration endpoints.
// All mutations require a root-key signature; policy administration does not
// flow through the engine it configures.
type PolicyHandlers struct {
	table    policy.Table
	rootKey  *authz.RootKey
	auditLog *audit.Log
}

// NewPolicyHandlers creates a new PolicyHandlers instance.
func NewPolicyHandlers(table policy.Table, rootKey *authz.RootKey, auditLog *audit.Log) *PolicyHandlers {
	return &PolicyHandlers{
		table:    table,
		rootKey:  rootKey,
		auditLog: auditLog,
	}
}

// UpsertPolicy handles PUT /v1/policies/{kind}.
func (h *PolicyHandlers) UpsertPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	kind := strings.TrimPrefix(r.URL.Path, "/v1/policies/")
	if kind == "" || strings.Contains(kind, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	if !verifyRootRequest(r, h.rootKey, body) {
		h.rejectRoot(w, r, kind, "upsert")
		return
	}

	var req UpsertPolicyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	entry := &policy.Entry{
		ActionKind:   kind,
		MinimumTier:  req.MinimumTier,
		Capabilities: req.Capabilities,
		Enabled:      req.Enabled,
	}
	if err := h.table.Set(entry); err != nil {
		if errors.Is(err, policy.ErrInvalidMinimumTier) || errors.Is(err, policy.ErrInvalidActionKind) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to store policy")
		return
	}

	h.logPolicyChange(kind, fmt.Sprintf("upsert minimum_tier=%d enabled=%t capabilities=%s",
		req.MinimumTier, req.Enabled, strings.Join(req.Capabilities, ",")))

	writeJSON(w, http.StatusOK, entry)
}

// DisablePolicy handles POST /v1/policies/{kind}/disable.
// Disabling an unknown action kind succeeds: the action was already
// unauthorized and stays that way.
func (h *PolicyHandlers) DisablePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	// Expected: /v1/policies/{kind}/disable
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/policies/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] != "disable" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}
	kind := pathParts[0]

	if !verifyRootRequest(r, h.rootKey, nil) {
		h.rejectRoot(w, r, kind, "disable")
		return
	}

	if err := h.table.Disable(kind); err != nil && !errors.Is(err, policy.ErrNotFound) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to disable policy")
		return
	}

	h.logPolicyChange(kind, "disable")

	writeJSON(w, http.StatusOK, map[string]any{"action_kind": kind, "enabled": false})
}

// rejectRoot raises a security alert for a failed root-key check and writes
// the 403.
func (h *PolicyHandlers) rejectRoot(w http.ResponseWriter, r *http.Request, kind, operation string) {
	entry := audit.Entry{
		Kind:       audit.KindSecurityAlert,
		ActionKind: kind,
		Outcome:    audit.OutcomeDenied,
		Reason:     authz.ReasonRootSignature,
		Detail:     "policy " + operation,
		RequestID:  middleware.GetRequestID(r.Context()),
	}
	if _, err := h.auditLog.Append(entry); err != nil {
		slog.Error("failed to log policy security alert", "error", err)
	}

	ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
	WriteError(w, ctx, http.StatusForbidden, ErrCodeAuthFailed, "Root signature verification failed")
}

func (h *PolicyHandlers) logPolicyChange(kind, detail string) {
	entry := audit.Entry{
		Kind:       audit.KindPolicyChange,
		ActionKind: kind,
		Outcome:    audit.OutcomeSuccess,
		Detail:     detail,
	}
	if _, err := h.auditLog.Append(entry); err != nil {
		slog.Error("failed to log policy change", "action_kind", kind, "error", err)
	}
}
