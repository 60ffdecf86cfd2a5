package handlers

import (
	"net/http"
	"os"

	"github.com/replicator-dev/replicator/internal/webutil"
	"github.com/replicator-dev/replicator/pkg/dataplane/chunkstore"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store *chunkstore.Store
}

// NewHealthHandler creates the health endpoints.
func NewHealthHandler(store *chunkstore.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness reports process liveness. Always 200 while the server runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	webutil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// Readiness reports whether the blob root is reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(h.store.Root()); err != nil {
		webutil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"detail": err.Error(),
		})
		return
	}
	webutil.WriteJSONOK(w, map[string]string{"status": "ready"})
}
