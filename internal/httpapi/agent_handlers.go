package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
)

// handleListAgents implements GET /v1/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	q := r.URL.Query()
	views, err := s.Query.ListAgents(r.Context(), p.TenantID, q.Get("project_id"), q.Get("environment"), q.Get("group"))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"agents": views})
}

// handleGetAgent implements GET /v1/agents/{id}, including the §4.4.1
// stats_1h rollup.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	view, err := s.Query.GetAgent(r.Context(), p.TenantID, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	stats, err := s.Query.Stats1h(r.Context(), p.TenantID, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"agent": view, "stats_1h": stats})
}

// handleAgentPipeline implements GET /v1/agents/{id}/pipeline (§4.4.4).
func (s *Server) handleAgentPipeline(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	pipeline, err := s.Query.GetPipeline(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline)
}

// handleFleetPipeline implements GET /v1/pipeline (fleet view, §4.4.4).
func (s *Server) handleFleetPipeline(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	fleet, err := s.Query.GetFleetPipeline(r.Context(), p.TenantID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fleet)
}
