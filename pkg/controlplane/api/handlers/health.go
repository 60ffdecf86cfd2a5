package handlers

import (
	"net/http"

	"github.com/replicator-dev/replicator/internal/webutil"
	"github.com/replicator-dev/replicator/pkg/controlplane/store"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store *store.Store
}

// NewHealthHandler creates the health endpoints.
func NewHealthHandler(s *store.Store) *HealthHandler {
	return &HealthHandler{store: s}
}

// Liveness reports process liveness. Always 200 while the server runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	webutil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// Readiness reports whether the database answers queries.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.CountNodes(r.Context()); err != nil {
		webutil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"detail": err.Error(),
		})
		return
	}
	webutil.WriteJSONOK(w, map[string]string{"status": "ready"})
}
