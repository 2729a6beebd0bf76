// Package alerts evaluates the 6 alert-rule condition kinds (§4.7) against
// accepted batches, enforces per-rule cooldown (grounded in the teacher's
// internal/metrics.AlertChecker shouldAlert(key) map, generalized from a
// hardcoded 5-minute window to a configurable per-rule cooldown persisted
// in alert history), and delivers webhook/email actions — webhook delivery
// follows the teacher's internal/notifications/external/slack.go
// http.Client-with-timeout pattern.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// WebhookTimeout matches the teacher's SlackNotifier client timeout.
const WebhookTimeout = 5 * time.Second

// Engine evaluates and delivers alerts for every tenant rule.
type Engine struct {
	Store  storage.Backend
	Logger *log.Logger
	client *http.Client
}

// New builds an alert Engine.
func New(store storage.Backend, logger *log.Logger) *Engine {
	return &Engine{
		Store:  store,
		Logger: logger,
		client: &http.Client{Timeout: WebhookTimeout},
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// EvaluateBatch implements ingest.AlertEvaluator (§4.2 stage 12): it is
// best-effort and never returns an error to the caller.
func (e *Engine) EvaluateBatch(ctx context.Context, tenantID string, events []*model.Event) {
	rules, err := e.Store.ListAlertRules(ctx, tenantID)
	if err != nil {
		e.logf("alerts: list rules failed for tenant=%s: %v", tenantID, err)
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		if !rule.IsEnabled {
			continue
		}
		fired, snapshot, relatedAgent, relatedTask := e.evaluate(ctx, tenantID, rule, events, now)
		if !fired {
			continue
		}
		if e.inCooldown(ctx, tenantID, rule, now) {
			continue
		}
		e.fire(ctx, tenantID, rule, now, snapshot, relatedAgent, relatedTask)
	}
}

// inCooldown checks the §4.7 "now - last_fired_at < cooldown_seconds" rule.
func (e *Engine) inCooldown(ctx context.Context, tenantID string, rule *model.AlertRule, now time.Time) bool {
	if rule.CooldownSeconds <= 0 {
		return false
	}
	last, err := e.Store.GetLastAlertForRule(ctx, tenantID, rule.RuleID)
	if err != nil || last == nil {
		return false
	}
	return now.Sub(last.FiredAt) < time.Duration(rule.CooldownSeconds)*time.Second
}

func (e *Engine) fire(ctx context.Context, tenantID string, rule *model.AlertRule, now time.Time, snapshot json.RawMessage, relatedAgent, relatedTask string) {
	history := &model.AlertHistory{
		AlertID:           uuid.NewString(),
		TenantID:          tenantID,
		RuleID:            rule.RuleID,
		RuleName:          rule.Name,
		FiredAt:           now,
		ConditionSnapshot: snapshot,
		RelatedAgentID:    relatedAgent,
		RelatedTaskID:     relatedTask,
	}

	for _, action := range rule.Actions {
		history.Deliveries = append(history.Deliveries, e.deliver(ctx, rule, action, now, snapshot, relatedAgent, relatedTask))
	}

	if err := e.Store.InsertAlert(ctx, history); err != nil {
		e.logf("alerts: failed to record history for rule=%s: %v", rule.RuleID, err)
	}
}

func (e *Engine) deliver(ctx context.Context, rule *model.AlertRule, action model.AlertAction, now time.Time, snapshot json.RawMessage, relatedAgent, relatedTask string) model.DeliveryStatus {
	switch action.Kind {
	case model.ActionWebhook:
		return e.deliverWebhook(ctx, rule, action, now, snapshot, relatedAgent, relatedTask)
	case model.ActionEmail:
		// Email delivery is deliberately out of scope (spec §1, out of scope list);
		// the attempt is recorded so the history is a faithful ledger.
		return model.DeliveryStatus{Kind: action.Kind, Target: action.To, Success: false, Error: "email delivery not implemented", Attempted: now}
	default:
		return model.DeliveryStatus{Kind: action.Kind, Success: false, Error: "unknown action kind", Attempted: now}
	}
}

func (e *Engine) deliverWebhook(ctx context.Context, rule *model.AlertRule, action model.AlertAction, now time.Time, snapshot json.RawMessage, relatedAgent, relatedTask string) model.DeliveryStatus {
	payload := map[string]interface{}{
		"rule_id":            rule.RuleID,
		"rule_name":          rule.Name,
		"condition_snapshot": snapshot,
		"fired_at":           now,
	}
	if relatedAgent != "" {
		payload["related_agent_id"] = relatedAgent
	}
	if relatedTask != "" {
		payload["related_task_id"] = relatedTask
	}
	body, _ := json.Marshal(payload)

	status := model.DeliveryStatus{Kind: action.Kind, Target: action.URL, Attempted: now}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.URL, bytes.NewReader(body))
		if err != nil {
			status.Error = err.Error()
			return status
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(1<<attempt) * 200 * time.Millisecond)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 300 {
			status.Success = true
			return status
		}
		lastErr = fmt.Errorf("webhook responded %d", resp.StatusCode)
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	if lastErr != nil {
		status.Error = lastErr.Error()
	}
	return status
}
