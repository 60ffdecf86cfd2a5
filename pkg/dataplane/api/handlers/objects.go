package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/replicator-dev/replicator/internal/metrics"
	"github.com/replicator-dev/replicator/internal/webutil"
	"github.com/replicator-dev/replicator/pkg/dataplane/manifest"
	"github.com/replicator-dev/replicator/pkg/dataplane/object"
)

// ChunkSizeHeader lets ingest clients override the chunk size per request.
const ChunkSizeHeader = "X-Chunk-Size"

// ObjectHandler serves whole-object ingest, download and manifest exchange.
type ObjectHandler struct {
	service *object.Service
	metrics *metrics.DataPlane

	// defaultChunkSize applies when the client omits the X-Chunk-Size header.
	defaultChunkSize int64
}

// NewObjectHandler creates the object endpoints over a service.
func NewObjectHandler(service *object.Service, m *metrics.DataPlane, defaultChunkSize int64) *ObjectHandler {
	if defaultChunkSize <= 0 {
		defaultChunkSize = object.DefaultChunkSize
	}
	return &ObjectHandler{service: service, metrics: m, defaultChunkSize: defaultChunkSize}
}

// Ingest splits the request body into chunks, stores them and records the
// manifest. The body may be empty; that yields a zero-chunk object.
func (h *ObjectHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	objectID := chi.URLParam(r, "objectID")
	if err := manifest.ValidateObjectID(objectID); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}

	chunkSize := h.defaultChunkSize
	if raw := r.Header.Get(ChunkSizeHeader); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			webutil.BadRequest(w, fmt.Sprintf("invalid %s header: %q", ChunkSizeHeader, raw))
			return
		}
		chunkSize = parsed
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		webutil.BadRequest(w, "failed to read request body")
		return
	}
	h.metrics.BytesIn.Add(float64(len(data)))

	res, err := h.service.Ingest(r.Context(), objectID, data, chunkSize)
	if err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}

	webutil.WriteJSONOK(w, map[string]any{
		"object_id":  res.ObjectID,
		"size_bytes": res.SizeBytes,
		"chunk_size": res.ChunkSize,
		"chunks":     res.Chunks,
	})
}

// Download reassembles the object and streams its bytes.
func (h *ObjectHandler) Download(w http.ResponseWriter, r *http.Request) {
	objectID := chi.URLParam(r, "objectID")
	if err := manifest.ValidateObjectID(objectID); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}

	data, err := h.service.Download(r.Context(), objectID)
	if err != nil {
		if errors.Is(err, manifest.ErrObjectNotFound) {
			webutil.NotFound(w, "object not found")
			return
		}
		var missing *object.MissingChunkError
		if errors.As(err, &missing) {
			// The node's own invariant is broken, not the client's request.
			webutil.InternalServerError(w, missing.Error())
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

// GetManifest returns the stored manifest as JSON.
func (h *ObjectHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	objectID := chi.URLParam(r, "objectID")
	if err := manifest.ValidateObjectID(objectID); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}

	m, err := h.service.GetManifest(r.Context(), objectID)
	if err != nil {
		if errors.Is(err, manifest.ErrObjectNotFound) {
			webutil.NotFound(w, "object not found")
			return
		}
		webutil.InternalServerError(w, err.Error())
		return
	}
	webutil.WriteJSONOK(w, m)
}

// PutManifest installs a manifest received from a peer node. The object id in
// the URL wins over any id in the body.
func (h *ObjectHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	objectID := chi.URLParam(r, "objectID")
	if err := manifest.ValidateObjectID(objectID); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}

	var m manifest.Manifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		webutil.BadRequest(w, "invalid manifest body: "+err.Error())
		return
	}
	m.ObjectID = objectID
	if m.ChunkSize <= 0 {
		webutil.BadRequest(w, "chunk_size must be > 0")
		return
	}
	if m.SizeBytes < 0 {
		webutil.BadRequest(w, "size_bytes must be >= 0")
		return
	}
	for _, ch := range m.Chunks {
		if err := validateHash(ch); err != nil {
			webutil.BadRequest(w, "invalid chunk hash: "+ch)
			return
		}
	}

	if err := h.service.PutManifest(r.Context(), &m); err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}

	webutil.WriteJSONOK(w, map[string]any{
		"status":    "manifest_saved",
		"object_id": objectID,
		"chunks":    len(m.Chunks),
	})
}
