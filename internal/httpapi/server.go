// Package httpapi wires the REST/WebSocket surface of §6 on top of the
// domain packages (storage, authctx, ingest, query, alerts, hub). Router
// wiring and the security-headers middleware follow the teacher's
// internal/server/server.go + middleware.go; JSON responses follow the
// teacher's respondJSON/respondError pair, generalized to apierr's typed
// error envelope.
package httpapi

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hiveboard/server/internal/alerts"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/hub"
	"github.com/hiveboard/server/internal/ingest"
	"github.com/hiveboard/server/internal/natsmirror"
	"github.com/hiveboard/server/internal/query"
	"github.com/hiveboard/server/internal/retention"
	"github.com/hiveboard/server/internal/storage"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	Store     storage.Backend
	Auth      *authctx.Authenticator
	Ingest    *ingest.Pipeline
	Hub       *hub.Hub
	Alerts    *alerts.Engine
	Query     *query.Engine
	Retention *retention.Sweeper
	Mirror    *natsmirror.Mirror
	Logger    *log.Logger

	IngestLimiter *authctx.Limiters
	QueryLimiter  *authctx.Limiters

	upgrader websocket.Upgrader
}

// New builds a Server and its upgrader. The upgrader's CheckOrigin accepts
// every origin; authentication and rate limiting happen in handleStream.
func New(store storage.Backend, auth *authctx.Authenticator, ing *ingest.Pipeline, h *hub.Hub, al *alerts.Engine, q *query.Engine, ret *retention.Sweeper, mirror *natsmirror.Mirror, logger *log.Logger, ingestLimiter, queryLimiter *authctx.Limiters) *Server {
	return &Server{
		Store: store, Auth: auth, Ingest: ing, Hub: h, Alerts: al, Query: q,
		Retention: ret, Mirror: mirror, Logger: logger,
		IngestLimiter: ingestLimiter, QueryLimiter: queryLimiter,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Router builds the full mux.Router described in §6.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(securityHeadersMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()

	// 6.1 Authentication.
	v1.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	v1.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/auth/check-slug", s.handleCheckSlug).Methods("GET")
	v1.HandleFunc("/auth/invite", s.authed(s.requireWrite(s.handleInvite))).Methods("POST")
	v1.HandleFunc("/auth/accept-invite", s.handleAcceptInvite).Methods("POST")
	v1.HandleFunc("/invites", s.authed(s.handleListInvites)).Methods("GET")
	v1.HandleFunc("/invites/{id}", s.authed(s.requireWrite(s.handleDeleteInvite))).Methods("DELETE")

	// 6.2 API keys.
	v1.HandleFunc("/api-keys", s.authed(s.requireWrite(s.handleCreateAPIKey))).Methods("POST")
	v1.HandleFunc("/api-keys", s.authed(s.handleListAPIKeys)).Methods("GET")
	v1.HandleFunc("/api-keys/{id}", s.authed(s.requireWrite(s.handleRevokeAPIKey))).Methods("DELETE")

	// 6.3 Projects.
	v1.HandleFunc("/projects", s.authed(s.handleListProjects)).Methods("GET")
	v1.HandleFunc("/projects", s.authed(s.requireWrite(s.handleCreateProject))).Methods("POST")
	v1.HandleFunc("/projects/{id}", s.authed(s.handleGetProject)).Methods("GET")
	v1.HandleFunc("/projects/{id}", s.authed(s.requireWrite(s.handleUpdateProject))).Methods("PUT")
	v1.HandleFunc("/projects/{id}", s.authed(s.requireWrite(s.handleDeleteProject))).Methods("DELETE")
	v1.HandleFunc("/projects/{id}/archive", s.authed(s.requireWrite(s.handleArchiveProject))).Methods("POST")
	v1.HandleFunc("/projects/{id}/unarchive", s.authed(s.requireWrite(s.handleUnarchiveProject))).Methods("POST")
	v1.HandleFunc("/projects/{id}/merge", s.authed(s.requireWrite(s.handleMergeProject))).Methods("POST")

	// 6.7 Query endpoints.
	v1.HandleFunc("/agents", s.authed(s.rateLimited(s.QueryLimiter, s.handleListAgents))).Methods("GET")
	v1.HandleFunc("/agents/{id}", s.authed(s.rateLimited(s.QueryLimiter, s.handleGetAgent))).Methods("GET")
	v1.HandleFunc("/agents/{id}/pipeline", s.authed(s.rateLimited(s.QueryLimiter, s.handleAgentPipeline))).Methods("GET")

	v1.HandleFunc("/tasks", s.authed(s.rateLimited(s.QueryLimiter, s.handleListTasks))).Methods("GET")
	v1.HandleFunc("/tasks/{id}/timeline", s.authed(s.rateLimited(s.QueryLimiter, s.handleTaskTimeline))).Methods("GET")

	v1.HandleFunc("/events", s.authed(s.rateLimited(s.QueryLimiter, s.handleListEvents))).Methods("GET")
	v1.HandleFunc("/events/{id}", s.authed(s.rateLimited(s.QueryLimiter, s.handleGetEvent))).Methods("GET")

	v1.HandleFunc("/metrics", s.authed(s.rateLimited(s.QueryLimiter, s.handleMetrics))).Methods("GET")
	v1.HandleFunc("/cost", s.authed(s.rateLimited(s.QueryLimiter, s.handleCostSummary))).Methods("GET")
	v1.HandleFunc("/cost/calls", s.authed(s.rateLimited(s.QueryLimiter, s.handleCostCalls))).Methods("GET")
	v1.HandleFunc("/cost/timeseries", s.authed(s.rateLimited(s.QueryLimiter, s.handleMetrics))).Methods("GET")
	v1.HandleFunc("/llm-calls", s.authed(s.rateLimited(s.QueryLimiter, s.handleCostCalls))).Methods("GET")

	v1.HandleFunc("/pipeline", s.authed(s.rateLimited(s.QueryLimiter, s.handleFleetPipeline))).Methods("GET")

	v1.HandleFunc("/insights/agents", s.authed(s.rateLimited(s.QueryLimiter, s.handleInsightsAgents))).Methods("GET")
	v1.HandleFunc("/insights/models", s.authed(s.rateLimited(s.QueryLimiter, s.handleInsightsModels))).Methods("GET")
	v1.HandleFunc("/insights/timeseries", s.authed(s.rateLimited(s.QueryLimiter, s.handleInsightsTimeseries))).Methods("GET")
	v1.HandleFunc("/insights/errors", s.authed(s.rateLimited(s.QueryLimiter, s.handleInsightsErrors))).Methods("GET")
	v1.HandleFunc("/insights/prompts", s.authed(s.rateLimited(s.QueryLimiter, s.handleInsightsPrompts))).Methods("GET")
	v1.HandleFunc("/insights/actions", s.authed(s.rateLimited(s.QueryLimiter, s.handleInsightsActions))).Methods("GET")

	// Alerts.
	v1.HandleFunc("/alerts/rules", s.authed(s.handleListAlertRules)).Methods("GET")
	v1.HandleFunc("/alerts/rules", s.authed(s.requireWrite(s.handleCreateAlertRule))).Methods("POST")
	v1.HandleFunc("/alerts/rules/{id}", s.authed(s.requireWrite(s.handleUpdateAlertRule))).Methods("PUT")
	v1.HandleFunc("/alerts/rules/{id}", s.authed(s.requireWrite(s.handleDeleteAlertRule))).Methods("DELETE")
	v1.HandleFunc("/alerts/history", s.authed(s.handleAlertHistory)).Methods("GET")

	// Ingest.
	v1.HandleFunc("/ingest", s.authed(s.rateLimited(s.IngestLimiter, s.requireWrite(s.handleIngest)))).Methods("POST")

	// 6.11 Admin.
	v1.HandleFunc("/admin/rebuild-aggregates", s.authed(s.requireOwner(s.handleRebuildAggregates))).Methods("POST")
	v1.HandleFunc("/admin/retention/run", s.authed(s.requireOwner(s.handleRunRetention))).Methods("POST")
	v1.HandleFunc("/admin/nats-mirror", s.authed(s.handleGetNATSMirror)).Methods("GET")
	v1.HandleFunc("/admin/nats-mirror", s.authed(s.requireWrite(s.handlePutNATSMirror))).Methods("PUT")

	// 6.8 WebSocket stream.
	v1.HandleFunc("/stream", s.handleStream)

	return r
}
