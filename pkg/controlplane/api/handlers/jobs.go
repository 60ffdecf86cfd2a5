package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/replicator-dev/replicator/internal/webutil"
	"github.com/replicator-dev/replicator/pkg/controlplane/models"
	"github.com/replicator-dev/replicator/pkg/controlplane/store"
)

// JobHandler serves the job queue endpoints.
type JobHandler struct {
	store *store.Store
}

// NewJobHandler creates the job endpoints.
func NewJobHandler(s *store.Store) *JobHandler {
	return &JobHandler{store: s}
}

// MigrateRequest is the body of POST /jobs/migrate.
type MigrateRequest struct {
	SrcNode  string `json:"src_node" validate:"required,max=255"`
	DstNode  string `json:"dst_node" validate:"required,max=255"`
	ObjectID string `json:"object_id" validate:"required,max=256"`
}

// Migrate enqueues a migration job. Node names and the object id are not
// resolved here; the runner surfaces an unknown node or missing object as a
// job failure.
func (h *JobHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		webutil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}

	job, err := h.store.EnqueueMigrate(r.Context(), req.SrcNode, req.DstNode, req.ObjectID)
	if err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}
	webutil.WriteJSON(w, http.StatusCreated, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// List returns jobs newest first. Supports ?status= and ?limit= filters.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			webutil.BadRequest(w, "invalid limit: "+raw)
			return
		}
		limit = parsed
	}

	status := r.URL.Query().Get("status")
	if status != "" && !models.ValidStatus(status) {
		webutil.BadRequest(w, "invalid status filter: "+status)
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), status, limit)
	if err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}
	webutil.WriteJSONOK(w, jobs)
}

// Get returns one job by id.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		webutil.BadRequest(w, "invalid job id")
		return
	}

	job, err := h.store.GetJob(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			webutil.NotFound(w, "job not found")
			return
		}
		webutil.InternalServerError(w, err.Error())
		return
	}
	webutil.WriteJSONOK(w, job)
}
