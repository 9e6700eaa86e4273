package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/openclavis/authbridge/internal/audit"
	"github.com/openclavis/authbridge/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The tail endpoint is an operator surface behind the deployment's
		// ingress; origin policy belongs there.
		return true
	},
}

// AuditHandlers holds dependencies for audit log endpoints.
type AuditHandlers struct {
	repo        audit.Repository
	broadcaster *audit.Broadcaster
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(repo audit.Repository, broadcaster *audit.Broadcaster) *AuditHandlers {
	return &AuditHandlers{repo: repo, broadcaster: broadcaster}
}

// Tail handles GET /v1/audit/tail.
// Upgrades to a WebSocket and streams audit entries as they are appended.
func (h *AuditHandlers) Tail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.broadcaster == nil {
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeInternal, "Audit tail is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.WarnContext(ctx, "audit tail upgrade failed", "error", err)
		return
	}

	h.broadcaster.Subscribe(conn)
	slog.InfoContext(ctx, "audit tail subscriber connected",
		"subscribers", h.broadcaster.ConnectionCount(),
	)

	go func() {
		defer func() {
			h.broadcaster.Unsubscribe(conn)
			conn.Close()
		}()
		// Drain control frames; any read error means the client is gone.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// QueryByPrincipal handles GET /v1/audit/{principal_id}?limit=N.
// Returns the principal's audit entries, newest first.
func (h *AuditHandlers) QueryByPrincipal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	principalID := strings.TrimPrefix(r.URL.Path, "/v1/audit/")
	if principalID == "" || strings.Contains(principalID, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.repo.QueryByPrincipal(principalID, limit)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query audit log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"principal_id": principalID,
		"entries":      entries,
	})
}
