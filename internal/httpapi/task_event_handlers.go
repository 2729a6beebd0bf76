package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/query"
	"github.com/hiveboard/server/internal/storage"
)

// handleListTasks implements GET /v1/tasks (§4.4.2 projection).
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	q := r.URL.Query()
	filters := query.TaskFilters{
		AgentID: q.Get("agent_id"), ProjectID: q.Get("project_id"), Environment: q.Get("environment"),
		Status: model.TaskStatus(q.Get("status")),
	}
	tasks, err := s.Query.ListTasks(r.Context(), p.TenantID, filters, parsePage(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// handleTaskTimeline implements GET /v1/tasks/{id}/timeline (§4.4.3):
// returns {events, action_tree, error_chains, plan?}.
func (s *Server) handleTaskTimeline(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	timeline, err := s.Query.GetTimeline(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, timeline)
}

// handleListEvents implements GET /v1/events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	q := r.URL.Query()
	since, until := parseTimeRange(r)

	filters := storage.EventFilters{
		TenantID: p.TenantID, AgentID: q.Get("agent_id"), TaskID: q.Get("task_id"),
		ProjectID: q.Get("project_id"), Environment: q.Get("environment"), Group: q.Get("group"),
		MinSeverity: model.Severity(q.Get("min_severity")), Since: since, Until: until,
	}
	if t := q.Get("event_type"); t != "" {
		filters.EventTypes = []model.EventType{model.EventType(t)}
	}

	events, cursor, err := s.Store.GetEvents(r.Context(), filters, parsePage(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events, "cursor": cursor})
}

// handleGetEvent implements GET /v1/events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	ev, err := s.Store.GetEvent(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}
