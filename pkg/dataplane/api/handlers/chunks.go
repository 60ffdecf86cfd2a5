// Package handlers implements the data-plane HTTP endpoints.
package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/replicator-dev/replicator/internal/metrics"
	"github.com/replicator-dev/replicator/internal/webutil"
	"github.com/replicator-dev/replicator/pkg/dataplane/chunkstore"
	"github.com/replicator-dev/replicator/pkg/dataplane/object"
)

const hashHexLength = 64

// validateHash enforces the chunk identity format: 64 lowercase hex chars.
func validateHash(h string) error {
	if len(h) != hashHexLength {
		return fmt.Errorf("invalid hash length: %d", len(h))
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid hash format")
		}
	}
	return nil
}

// ChunkHandler serves the /chunks endpoints.
type ChunkHandler struct {
	store   *chunkstore.Store
	metrics *metrics.DataPlane

	// verify controls SHA-256 verification of PUT bodies against the
	// declared hash. On by default; disable for senders that stream bodies
	// they have already hashed.
	verify bool
}

// NewChunkHandler creates the chunk endpoints over a store.
func NewChunkHandler(store *chunkstore.Store, m *metrics.DataPlane, verify bool) *ChunkHandler {
	return &ChunkHandler{store: store, metrics: m, verify: verify}
}

// Head responds 200 if the chunk is present, 404 otherwise. No body.
func (h *ChunkHandler) Head(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := validateHash(hash); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.metrics.ChunksHead.Inc()

	if h.store.Exists(hash) {
		h.metrics.DedupeHits.Inc()
		w.WriteHeader(http.StatusOK)
	} else {
		h.metrics.DedupeMisses.Inc()
		w.WriteHeader(http.StatusNotFound)
	}
}

// Get streams the raw chunk bytes.
func (h *ChunkHandler) Get(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := validateHash(hash); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}
	h.metrics.ChunksGet.Inc()

	data, err := h.store.Read(hash)
	if err != nil {
		if err == chunkstore.ErrChunkNotFound {
			webutil.NotFound(w, "chunk not found")
			return
		}
		webutil.InternalServerError(w, err.Error())
		return
	}

	h.metrics.BytesOut.Add(float64(len(data)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Put stores a chunk idempotently. An already-present hash is a dedupe hit
// and the body is discarded without rewriting the stored bytes.
func (h *ChunkHandler) Put(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := validateHash(hash); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}
	h.metrics.ChunksPut.Inc()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		webutil.BadRequest(w, "failed to read request body")
		return
	}
	h.metrics.BytesIn.Add(float64(len(data)))

	if h.store.Exists(hash) {
		h.metrics.DedupeHits.Inc()
		webutil.WriteJSONOK(w, map[string]any{
			"status": "exists",
			"hash":   hash,
			"bytes":  len(data),
		})
		return
	}

	if h.verify {
		if actual := object.HashHex(data); actual != hash {
			webutil.BadRequest(w, fmt.Sprintf("body hash %s does not match declared hash", actual))
			return
		}
	}

	if err := h.store.Write(hash, data); err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}
	h.metrics.DedupeMisses.Inc()

	webutil.WriteJSONOK(w, map[string]any{
		"status": "stored",
		"hash":   hash,
		"bytes":  len(data),
	})
}
