package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
)

// handleListProjects implements GET /v1/projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	projects, err := s.Store.ListProjects(r.Context(), p.TenantID, includeArchived)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

// handleCreateProject implements POST /v1/projects.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Name == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, "name is required"))
		return
	}

	proj := &model.Project{
		ProjectID: uuid.NewString(), TenantID: p.TenantID, Name: req.Name,
		Slug: slugify(req.Name), Environment: req.Environment, CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.CreateProject(r.Context(), proj); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, proj)
}

// handleGetProject implements GET /v1/projects/{id}.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	proj, err := s.Store.GetProject(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proj)
}

type updateProjectRequest struct {
	Name              string `json:"name"`
	Environment       string `json:"environment"`
	NATSMirrorEnabled *bool  `json:"nats_mirror_enabled"`
}

// handleUpdateProject implements PUT /v1/projects/{id}.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]
	proj, err := s.Store.GetProject(r.Context(), p.TenantID, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Name != "" {
		proj.Name = req.Name
	}
	if req.Environment != "" {
		proj.Environment = req.Environment
	}
	if req.NATSMirrorEnabled != nil {
		proj.NATSMirrorEnabled = *req.NATSMirrorEnabled
	}
	if err := s.Store.UpdateProject(r.Context(), proj); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proj)
}

type deleteProjectRequest struct {
	ReassignTo string `json:"reassign_to"`
}

// handleDeleteProject implements DELETE /v1/projects/{id}: the default
// project can never be deleted, and a reassign_to target is required (§6.3).
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	proj, err := s.Store.GetProject(r.Context(), p.TenantID, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if proj.Slug == model.DefaultProjectSlug {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, "the default project cannot be deleted"))
		return
	}

	var req deleteProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.ReassignTo == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, "reassign_to is required"))
		return
	}
	if err := s.Store.DeleteProject(r.Context(), p.TenantID, id, req.ReassignTo); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	p, _ := authctx.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]
	if err := s.Store.ArchiveProject(r.Context(), p.TenantID, id, archived); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArchiveProject implements POST /v1/projects/{id}/archive.
func (s *Server) handleArchiveProject(w http.ResponseWriter, r *http.Request) { s.setArchived(w, r, true) }

// handleUnarchiveProject implements POST /v1/projects/{id}/unarchive.
func (s *Server) handleUnarchiveProject(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, false)
}

type mergeProjectRequest struct {
	TargetSlug string `json:"target_slug"`
}

// handleMergeProject implements POST /v1/projects/{id}/merge: moves events
// and agent associations to target, then archives source (§6.3).
func (s *Server) handleMergeProject(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	sourceID := mux.Vars(r)["id"]

	var req mergeProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	target, err := s.Store.GetProjectBySlug(r.Context(), p.TenantID, req.TargetSlug)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if err := s.Store.MergeProject(r.Context(), p.TenantID, sourceID, target.ProjectID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
