// Package api provides the control-plane HTTP surface: node registration,
// job scheduling and inspection, health probes and metrics.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/replicator-dev/replicator/internal/logger"
	"github.com/replicator-dev/replicator/internal/metrics"
	"github.com/replicator-dev/replicator/pkg/controlplane/api/handlers"
	"github.com/replicator-dev/replicator/pkg/controlplane/store"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - POST /nodes/register - Register or update a data-plane node
//   - GET  /nodes - List registered nodes
//   - POST /jobs/migrate - Enqueue a migration job
//   - GET  /jobs - List jobs (?status=, ?limit=)
//   - GET  /jobs/{jobID} - Inspect one job
//   - GET  /health - Liveness probe
//   - GET  /health/ready - Readiness probe
//   - GET  /metrics - Prometheus exposition
func NewRouter(s *store.Store, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	metrics.NewControlPlaneCollector(reg, s)

	nodeHandler := handlers.NewNodeHandler(s)
	jobHandler := handlers.NewJobHandler(s)
	healthHandler := handlers.NewHealthHandler(s)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/nodes", func(r chi.Router) {
		r.Post("/register", nodeHandler.Register)
		r.Get("/", nodeHandler.List)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/migrate", jobHandler.Migrate)
		r.Get("/", jobHandler.List)
		r.Get("/{jobID}", jobHandler.Get)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests using the internal logger. Healthcheck requests
// are logged at DEBUG level to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
