package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclavis/authbridge/internal/middleware"
)

// RouterConfig carries the handler groups and cross-cutting pieces the
// router composes.
type RouterConfig struct {
	Authorize  *AuthorizeHandlers
	Actions    *ActionHandlers
	Heartbeat  *HeartbeatHandlers
	Policies   *PolicyHandlers
	Principals *PrincipalHandlers
	Sync       *SyncHandlers
	Audit      *AuditHandlers
	Health     *HealthHandlers

	Logger         *slog.Logger
	Metrics        *middleware.Metrics
	Registry       *prometheus.Registry
	TracingEnabled bool
	ServiceName    string
}

// NewRouter builds the HTTP handler tree with the middleware chain
// RequestID -> Tracing -> Logging -> HTTP metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/authorize", cfg.Authorize.Authorize)
	mux.HandleFunc("/v1/override", cfg.Authorize.Override)
	mux.HandleFunc("/v1/actions/", cfg.Actions.PerformAction)
	mux.HandleFunc("/v1/heartbeat", cfg.Heartbeat.Heartbeat)
	mux.HandleFunc("/v1/sync", cfg.Sync.ForceSync)

	mux.HandleFunc("/v1/policies/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/disable") {
			cfg.Policies.DisablePolicy(w, r)
			return
		}
		cfg.Policies.UpsertPolicy(w, r)
	})

	mux.HandleFunc("/v1/principals", cfg.Principals.CreatePrincipal)
	mux.HandleFunc("/v1/principals/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/standing") {
			cfg.Principals.UpdateStanding(w, r)
			return
		}
		cfg.Principals.GetPrincipal(w, r)
	})

	mux.HandleFunc("/v1/audit/tail", cfg.Audit.Tail)
	mux.HandleFunc("/v1/audit/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/audit/tail" {
			cfg.Audit.Tail(w, r)
			return
		}
		cfg.Audit.QueryByPrincipal(w, r)
	})

	mux.HandleFunc("/health", cfg.Health.Health)
	mux.HandleFunc("/ready", cfg.Health.Ready)

	if cfg.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"service": "authbridge", "version": "0.0.1"})
	})

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	}
	handler = middleware.Logging(cfg.Logger)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing(cfg.ServiceName)(handler)
	}
	handler = middleware.RequestID(handler)

	return handler
}
