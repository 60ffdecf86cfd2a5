// Package api provides the data-plane HTTP surface: chunk transfer, object
// ingest and download, manifest exchange, health probes and metrics.
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
	"github.com/replicator-dev/replicator/pkg/dataplane/api/handlers"
	"github.com/replicator-dev/replicator/pkg/dataplane/chunkstore"
	"github.com/replicator-dev/replicator/pkg/dataplane/object"
)

// RouterConfig carries the handler-level knobs for a data-plane node.
type RouterConfig struct {
	// DefaultChunkSize applies to ingest requests without an X-Chunk-Size
	// header.
	DefaultChunkSize int64

	// VerifyChunks enables SHA-256 verification of chunk PUT bodies.
	VerifyChunks bool
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - HEAD   /chunks/{hash} - Chunk presence probe
//   - GET    /chunks/{hash} - Raw chunk bytes
//   - PUT    /chunks/{hash} - Store a chunk (idempotent)
//   - POST   /objects/{objectID}/ingest - Ingest an object body
//   - GET    /objects/{objectID} - Download a reassembled object
//   - GET    /objects/{objectID}/manifest - Fetch the manifest
//   - PUT    /objects/{objectID}/manifest - Install a manifest
//   - GET    /health - Liveness probe
//   - GET    /health/ready - Readiness probe
//   - GET    /metrics - Prometheus exposition
func NewRouter(store *chunkstore.Store, service *object.Service, reg *prometheus.Registry, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	dpMetrics := metrics.NewDataPlane(reg)

	chunkHandler := handlers.NewChunkHandler(store, dpMetrics, cfg.VerifyChunks)
	objectHandler := handlers.NewObjectHandler(service, dpMetrics, cfg.DefaultChunkSize)
	healthHandler := handlers.NewHealthHandler(store)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/chunks/{hash}", func(r chi.Router) {
		r.Head("/", chunkHandler.Head)
		r.Get("/", chunkHandler.Get)
		r.Put("/", chunkHandler.Put)
	})

	r.Route("/objects/{objectID}", func(r chi.Router) {
		r.Post("/ingest", objectHandler.Ingest)
		r.Get("/", objectHandler.Download)
		r.Get("/manifest", objectHandler.GetManifest)
		r.Put("/manifest", objectHandler.PutManifest)
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
