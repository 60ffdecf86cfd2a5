// Package handlers implements the control-plane HTTP endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/replicator-dev/replicator/internal/webutil"
	"github.com/replicator-dev/replicator/pkg/controlplane/store"
)

var validate = validator.New()

// NodeHandler serves the node registry endpoints.
type NodeHandler struct {
	store *store.Store
}

// NewNodeHandler creates the node endpoints.
func NewNodeHandler(s *store.Store) *NodeHandler {
	return &NodeHandler{store: s}
}

// RegisterNodeRequest is the body of POST /nodes/register.
type RegisterNodeRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	BaseURL string `json:"base_url" validate:"required,url,max=1024"`
}

// Register upserts a node by name. Registering an existing name updates its
// base URL and refreshes the heartbeat.
func (h *NodeHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		webutil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		webutil.BadRequest(w, err.Error())
		return
	}
	if _, err := url.ParseRequestURI(req.BaseURL); err != nil {
		webutil.BadRequest(w, "invalid base_url: "+err.Error())
		return
	}

	node, created, err := h.store.RegisterNode(r.Context(), req.Name, req.BaseURL)
	if err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}

	message := "updated"
	status := http.StatusOK
	if created {
		message = "registered"
		status = http.StatusCreated
	}
	webutil.WriteJSON(w, status, map[string]any{
		"message": message,
		"node": map[string]string{
			"name":     node.Name,
			"base_url": node.BaseURL,
		},
	})
}

// List returns all registered nodes ordered by name.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.ListNodes(r.Context())
	if err != nil {
		webutil.InternalServerError(w, err.Error())
		return
	}
	webutil.WriteJSONOK(w, nodes)
}
