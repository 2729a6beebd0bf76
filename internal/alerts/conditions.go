package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// evaluate dispatches to the condition-specific check and returns whether
// the rule fired, a snapshot of the evaluated state, and the related
// agent/task (if any) for the alert history row (§4.7).
func (e *Engine) evaluate(ctx context.Context, tenantID string, rule *model.AlertRule, batch []*model.Event, now time.Time) (fired bool, snapshot json.RawMessage, agentID, taskID string) {
	switch rule.ConditionKind {
	case model.ConditionAgentStuck:
		return e.evalAgentStuck(ctx, tenantID, rule, batch, now)
	case model.ConditionTaskFailed:
		return e.evalTaskFailed(ctx, tenantID, rule, batch, now)
	case model.ConditionErrorRate:
		return e.evalErrorRate(ctx, tenantID, rule, batch, now)
	case model.ConditionDurationExceeded:
		return e.evalDurationExceeded(rule, batch, now)
	case model.ConditionHeartbeatLost:
		return e.evalHeartbeatLost(ctx, tenantID, rule, now)
	case model.ConditionCostThreshold:
		return e.evalCostThreshold(ctx, tenantID, rule, now)
	default:
		return false, nil, "", ""
	}
}

func snapshotOf(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func (e *Engine) evalAgentStuck(ctx context.Context, tenantID string, rule *model.AlertRule, batch []*model.Event, now time.Time) (bool, json.RawMessage, string, string) {
	var cfg model.AgentStuckConfig
	_ = json.Unmarshal(rule.ConditionConfig, &cfg)

	agentIDs := map[string]bool{}
	if cfg.AgentID != "" {
		agentIDs[cfg.AgentID] = true
	} else {
		for _, ev := range batch {
			agentIDs[ev.AgentID] = true
		}
	}

	for agentID := range agentIDs {
		agent, err := e.Store.GetAgent(ctx, tenantID, agentID)
		if err != nil {
			continue
		}
		if cfg.StuckThresholdSeconds > 0 {
			agent.StuckThresholdSeconds = cfg.StuckThresholdSeconds
		}
		if agent.DeriveStatus(now) == model.StatusStuck {
			return true, snapshotOf(map[string]interface{}{
				"agent_id":              agentID,
				"heartbeat_age_seconds": agent.HeartbeatAgeSeconds(now),
			}), agentID, ""
		}
	}
	return false, nil, "", ""
}

func (e *Engine) evalTaskFailed(ctx context.Context, tenantID string, rule *model.AlertRule, batch []*model.Event, now time.Time) (bool, json.RawMessage, string, string) {
	var cfg model.TaskFailedConfig
	_ = json.Unmarshal(rule.ConditionConfig, &cfg)

	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	threshold := cfg.ThresholdCount
	if threshold <= 0 {
		threshold = 1
	}

	count := 0
	var lastAgent, lastTask string
	for _, ev := range batch {
		if ev.EventType != model.EventTaskFailed {
			continue
		}
		if cfg.AgentID != "" && ev.AgentID != cfg.AgentID {
			continue
		}
		count++
		lastAgent, lastTask = ev.AgentID, ev.TaskID
	}
	if count == 0 {
		return false, nil, "", ""
	}

	filters := storage.EventFilters{
		TenantID:   tenantID,
		AgentID:    cfg.AgentID,
		EventTypes: []model.EventType{model.EventTaskFailed},
		Since:      now.Add(-window),
	}
	events, _, err := e.Store.GetEvents(ctx, filters, storage.Page{Limit: storage.MaxPageLimit})
	total := count
	if err == nil {
		total = len(events)
	}

	if total >= threshold {
		return true, snapshotOf(map[string]interface{}{"failed_count": total, "window_seconds": cfg.WindowSeconds}), lastAgent, lastTask
	}
	return false, nil, "", ""
}

func (e *Engine) evalErrorRate(ctx context.Context, tenantID string, rule *model.AlertRule, batch []*model.Event, now time.Time) (bool, json.RawMessage, string, string) {
	var cfg model.ErrorRateConfig
	_ = json.Unmarshal(rule.ConditionConfig, &cfg)

	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Hour
	}

	filters := storage.EventFilters{TenantID: tenantID, AgentID: cfg.AgentID, Since: now.Add(-window)}
	events, _, err := e.Store.GetEvents(ctx, filters, storage.Page{Limit: storage.MaxPageLimit})
	if err != nil || len(events) == 0 {
		return false, nil, "", ""
	}

	errorCount := 0
	for _, ev := range events {
		if ev.Severity == model.SeverityError || ev.EventType == model.EventTaskFailed || ev.EventType == model.EventActionFailed {
			errorCount++
		}
	}
	rate := float64(errorCount) / float64(len(events)) * 100

	if rate >= cfg.ThresholdPercent {
		return true, snapshotOf(map[string]interface{}{
			"error_rate_percent": rate, "sample_size": len(events),
		}), cfg.AgentID, ""
	}
	return false, nil, "", ""
}

func (e *Engine) evalDurationExceeded(rule *model.AlertRule, batch []*model.Event, now time.Time) (bool, json.RawMessage, string, string) {
	var cfg model.DurationExceededConfig
	_ = json.Unmarshal(rule.ConditionConfig, &cfg)

	for _, ev := range batch {
		if cfg.AgentID != "" && ev.AgentID != cfg.AgentID {
			continue
		}
		if ev.DurationMs != nil && *ev.DurationMs > cfg.ThresholdMs {
			return true, snapshotOf(map[string]interface{}{
				"event_id": ev.EventID, "duration_ms": *ev.DurationMs, "threshold_ms": cfg.ThresholdMs,
			}), ev.AgentID, ev.TaskID
		}
	}
	return false, nil, "", ""
}

func (e *Engine) evalHeartbeatLost(ctx context.Context, tenantID string, rule *model.AlertRule, now time.Time) (bool, json.RawMessage, string, string) {
	var cfg model.HeartbeatLostConfig
	_ = json.Unmarshal(rule.ConditionConfig, &cfg)
	if cfg.AgentID == "" {
		return false, nil, "", ""
	}

	agent, err := e.Store.GetAgent(ctx, tenantID, cfg.AgentID)
	if err != nil {
		return false, nil, "", ""
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	age := now.Sub(agent.LastHeartbeat)
	if agent.LastHeartbeat.IsZero() || age > window {
		return true, snapshotOf(map[string]interface{}{
			"agent_id": cfg.AgentID, "heartbeat_age_seconds": age.Seconds(),
		}), cfg.AgentID, ""
	}
	return false, nil, "", ""
}

func (e *Engine) evalCostThreshold(ctx context.Context, tenantID string, rule *model.AlertRule, now time.Time) (bool, json.RawMessage, string, string) {
	var cfg model.CostThresholdConfig
	_ = json.Unmarshal(rule.ConditionConfig, &cfg)

	window := time.Duration(cfg.WindowHours) * time.Hour
	if window <= 0 {
		window = time.Hour
	}
	since := now.Add(-window)

	scope := cfg.Scope
	if scope == "" {
		scope = model.CostScopeTenant
	}

	var cost float64
	switch scope {
	case model.CostScopeAgent:
		buckets, err := e.Store.ListAgentBuckets(ctx, storage.BucketFilters{TenantID: tenantID, Subject: cfg.ScopeID, Since: since})
		if err == nil {
			for _, b := range buckets {
				cost += b.CostUSD
			}
		}
	case model.CostScopeTenant:
		buckets, err := e.Store.ListAgentBuckets(ctx, storage.BucketFilters{TenantID: tenantID, Since: since})
		if err == nil {
			for _, b := range buckets {
				cost += b.CostUSD
			}
		}
	case model.CostScopeProject:
		events, _, err := e.Store.GetEvents(ctx, storage.EventFilters{TenantID: tenantID, ProjectID: cfg.ScopeID, Since: since}, storage.Page{Limit: storage.MaxPageLimit})
		if err == nil {
			for _, ev := range events {
				if ev.Payload.Kind != model.PayloadLLMCall {
					continue
				}
				var d struct {
					Cost float64 `json:"cost"`
				}
				if json.Unmarshal(ev.Payload.Data, &d) == nil {
					cost += d.Cost
				}
			}
		}
	}

	if cost >= cfg.ThresholdUSD {
		return true, snapshotOf(map[string]interface{}{
			"cost_usd": cost, "threshold_usd": cfg.ThresholdUSD, "scope": scope,
		}), "", ""
	}
	return false, nil, "", ""
}
