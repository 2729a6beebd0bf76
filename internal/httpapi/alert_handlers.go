package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
)

// handleListAlertRules implements GET /v1/alerts/rules.
func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	rules, err := s.Store.ListAlertRules(r.Context(), p.TenantID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

type alertRuleRequest struct {
	Name            string              `json:"name"`
	ConditionKind   model.ConditionKind `json:"condition_kind"`
	ConditionConfig json.RawMessage     `json:"condition_config"`
	Actions         []model.AlertAction `json:"actions"`
	CooldownSeconds int                 `json:"cooldown_seconds"`
	IsEnabled       *bool               `json:"is_enabled"`
}

// handleCreateAlertRule implements POST /v1/alerts/rules.
func (s *Server) handleCreateAlertRule(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	var req alertRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Name == "" || req.ConditionKind == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, "name and condition_kind are required"))
		return
	}

	now := time.Now().UTC()
	rule := &model.AlertRule{
		RuleID: uuid.NewString(), TenantID: p.TenantID, Name: req.Name,
		ConditionKind: req.ConditionKind, ConditionConfig: req.ConditionConfig,
		Actions: req.Actions, CooldownSeconds: req.CooldownSeconds, IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if req.IsEnabled != nil {
		rule.IsEnabled = *req.IsEnabled
	}
	if err := s.Store.CreateAlertRule(r.Context(), rule); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// handleUpdateAlertRule implements PUT /v1/alerts/rules/{id}.
func (s *Server) handleUpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	rule, err := s.Store.GetAlertRule(r.Context(), p.TenantID, id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	var req alertRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.ConditionKind != "" {
		rule.ConditionKind = req.ConditionKind
	}
	if req.ConditionConfig != nil {
		rule.ConditionConfig = req.ConditionConfig
	}
	if req.Actions != nil {
		rule.Actions = req.Actions
	}
	if req.CooldownSeconds != 0 {
		rule.CooldownSeconds = req.CooldownSeconds
	}
	if req.IsEnabled != nil {
		rule.IsEnabled = *req.IsEnabled
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.Store.UpdateAlertRule(r.Context(), rule); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// handleDeleteAlertRule implements DELETE /v1/alerts/rules/{id}.
func (s *Server) handleDeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := s.Store.DeleteAlertRule(r.Context(), p.TenantID, mux.Vars(r)["id"]); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAlertHistory implements GET /v1/alerts/history.
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	history, err := s.Store.ListAlertHistory(r.Context(), p.TenantID, parsePage(r))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}
