package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. This maps paths like
// /v1/policies/grant_credit to /v1/policies/{kind}.
func normalizePath(path string) string {
	staticRoutes := map[string]bool{
		"/v1/authorize":  true,
		"/v1/heartbeat":  true,
		"/v1/override":   true,
		"/v1/sync":       true,
		"/v1/principals": true,
		"/v1/policies":   true,
		"/v1/audit/tail": true,
		"/health":        true,
		"/ready":         true,
		"/metrics":       true,
	}

	if staticRoutes[path] {
		return path
	}

	// /v1/actions/{kind}
	if strings.HasPrefix(path, "/v1/actions/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] != "" {
			return "/v1/actions/{kind}"
		}
	}

	// /v1/policies/{kind} and /v1/policies/{kind}/disable
	if strings.HasPrefix(path, "/v1/policies/") {
		parts := strings.Split(path, "/")
		if len(parts) == 5 && (parts[4] == "disable" || parts[4] == "enable") {
			return "/v1/policies/{kind}/" + parts[4]
		}
		if len(parts) == 4 && parts[3] != "" {
			return "/v1/policies/{kind}"
		}
	}

	// /v1/principals/{id} and /v1/principals/{id}/standing
	if strings.HasPrefix(path, "/v1/principals/") {
		parts := strings.Split(path, "/")
		if len(parts) == 5 && parts[4] == "standing" {
			return "/v1/principals/{id}/standing"
		}
		if len(parts) == 4 && parts[3] != "" {
			return "/v1/principals/{id}"
		}
	}

	// /v1/audit/{principal_id}
	if strings.HasPrefix(path, "/v1/audit/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] != "" {
			return "/v1/audit/{principal_id}"
		}
	}

	// Fallback: return as-is for unknown patterns
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer so context propagation can reach the
// logging middleware's writer through this one.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded from metrics to avoid cardinality issues.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			duration := time.Since(start).Seconds()
			normalizedPath := normalizePath(r.URL.Path)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizedPath,
				strconv.Itoa(mrw.statusCode),
				duration,
				requestSize,
				mrw.size,
			)
		})
	}
}
