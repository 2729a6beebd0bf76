package httpapi

import (
	"net/http"
	"strconv"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/query"
)

func (s *Server) rangeOf(r *http.Request) query.MetricsRange {
	since, until := parseTimeRange(r)
	return query.MetricsRange{Since: since, Until: until}
}

// handleMetrics implements GET /v1/metrics and GET /v1/cost/timeseries.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	points, err := s.Query.GetMetrics(r.Context(), p.TenantID, r.URL.Query().Get("agent_id"), s.rangeOf(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"metrics": points})
}

// handleCostSummary implements GET /v1/cost, grouped by ?group_by=model|agent.
func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	groupBy := query.GroupByAgent
	if r.URL.Query().Get("group_by") == string(query.GroupByModel) {
		groupBy = query.GroupByModel
	}
	groups, err := s.Query.GetCostSummary(r.Context(), p.TenantID, groupBy, s.rangeOf(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cost": groups})
}

// handleCostCalls implements GET /v1/cost/calls and GET /v1/llm-calls.
func (s *Server) handleCostCalls(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	calls, err := s.Query.GetCostCalls(r.Context(), p.TenantID, s.rangeOf(r), limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"calls": calls})
}

func (s *Server) insights(w http.ResponseWriter, r *http.Request) (*query.Insights, bool) {
	p, _ := authctx.PrincipalFrom(r.Context())
	ins, err := s.Query.GetInsights(r.Context(), p.TenantID, s.rangeOf(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return nil, false
	}
	return ins, true
}

// handleInsightsAgents implements GET /v1/insights/agents (§4.5).
func (s *Server) handleInsightsAgents(w http.ResponseWriter, r *http.Request) {
	ins, ok := s.insights(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"most_expensive_agent": ins.MostExpensiveAgent, "agent_cost_share": ins.AgentCostShare,
	})
}

// handleInsightsModels implements GET /v1/insights/models, grouped by model.
func (s *Server) handleInsightsModels(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	groups, err := s.Query.GetCostSummary(r.Context(), p.TenantID, query.GroupByModel, s.rangeOf(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": groups})
}

// handleInsightsTimeseries implements GET /v1/insights/timeseries.
func (s *Server) handleInsightsTimeseries(w http.ResponseWriter, r *http.Request) {
	ins, ok := s.insights(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"timeseries": ins.ErrorTimeseries})
}

// handleInsightsErrors implements GET /v1/insights/errors.
func (s *Server) handleInsightsErrors(w http.ResponseWriter, r *http.Request) {
	ins, ok := s.insights(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"error_timeseries": ins.ErrorTimeseries})
}

// handleInsightsPrompts implements GET /v1/insights/prompts via the
// cost-calls path (§6.6 llm_call kind): "prompt_size_ranking" holds the 20
// most expensive llm_call events, ordered by cost. Prompt size is not used
// for the ranking.
func (s *Server) handleInsightsPrompts(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	calls, err := s.Query.GetCostCalls(r.Context(), p.TenantID, s.rangeOf(r), 20)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"prompt_size_ranking": calls})
}

// handleInsightsActions implements GET /v1/insights/actions.
func (s *Server) handleInsightsActions(w http.ResponseWriter, r *http.Request) {
	ins, ok := s.insights(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"action_usage": ins.ActionUsage})
}
