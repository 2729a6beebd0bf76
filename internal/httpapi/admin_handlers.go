package httpapi

import (
	"net/http"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/rollup"
)

// handleRebuildAggregates implements POST /v1/admin/rebuild-aggregates
// (§6.11, §4.5): replays the tenant's stored events through rollup.Apply.
func (s *Server) handleRebuildAggregates(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	n, err := rollup.Rebuild(r.Context(), s.Store, p.TenantID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events_replayed": n})
}

// handleRunRetention implements POST /v1/admin/retention/run (§6.11, §4.8):
// manual trigger for the background sweep.
func (s *Server) handleRunRetention(w http.ResponseWriter, r *http.Request) {
	s.Retention.RunOnce(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleGetNATSMirror implements GET /v1/admin/nats-mirror (§6.11, §3.4).
func (s *Server) handleGetNATSMirror(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := authctx.RequireRole(p.Role, model.RoleAdmin); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	projects, err := s.Store.ListProjects(r.Context(), p.TenantID, true)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	out := make(map[string]bool, len(projects))
	for _, proj := range projects {
		out[proj.ProjectID] = proj.NATSMirrorEnabled
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": out})
}

type natsMirrorRequest struct {
	ProjectID string `json:"project_id"`
	Enabled   bool   `json:"enabled"`
}

// handlePutNATSMirror implements PUT /v1/admin/nats-mirror (§6.11, §3.4).
func (s *Server) handlePutNATSMirror(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := authctx.RequireRole(p.Role, model.RoleAdmin); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	var req natsMirrorRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	proj, err := s.Store.GetProject(r.Context(), p.TenantID, req.ProjectID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	proj.NATSMirrorEnabled = req.Enabled
	if err := s.Store.UpdateProject(r.Context(), proj); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proj)
}
