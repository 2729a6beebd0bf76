package model

import (
	"encoding/json"
	"time"
)

// ConditionKind is one of the 6 alert rule families from §4.7.
type ConditionKind string

const (
	ConditionAgentStuck       ConditionKind = "agent_stuck"
	ConditionTaskFailed       ConditionKind = "task_failed"
	ConditionErrorRate        ConditionKind = "error_rate"
	ConditionDurationExceeded ConditionKind = "duration_exceeded"
	ConditionHeartbeatLost    ConditionKind = "heartbeat_lost"
	ConditionCostThreshold    ConditionKind = "cost_threshold"
)

// ActionKind is an alert delivery mechanism (§3.1, §4.7).
type ActionKind string

const (
	ActionWebhook ActionKind = "webhook"
	ActionEmail   ActionKind = "email"
)

// AlertAction configures one delivery target for a fired rule.
type AlertAction struct {
	Kind ActionKind `json:"kind"`
	URL  string     `json:"url,omitempty"`   // webhook
	To   string     `json:"to,omitempty"`    // email
}

// AlertRule is a tenant-scoped alert configuration (§3.1).
type AlertRule struct {
	RuleID          string          `json:"rule_id"`
	TenantID        string          `json:"tenant_id"`
	Name            string          `json:"name"`
	ConditionKind   ConditionKind   `json:"condition_kind"`
	ConditionConfig json.RawMessage `json:"condition_config"`
	Actions         []AlertAction   `json:"actions"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	IsEnabled       bool            `json:"is_enabled"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DeliveryStatus records the outcome of one action's delivery attempt.
type DeliveryStatus struct {
	Kind      ActionKind `json:"kind"`
	Target    string     `json:"target"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Attempted time.Time  `json:"attempted"`
}

// AlertHistory is one firing of a rule (§3.1).
type AlertHistory struct {
	AlertID           string           `json:"alert_id"`
	TenantID          string           `json:"tenant_id"`
	RuleID            string           `json:"rule_id"`
	RuleName          string           `json:"rule_name"`
	FiredAt           time.Time        `json:"fired_at"`
	ConditionSnapshot json.RawMessage  `json:"condition_snapshot"`
	RelatedAgentID    string           `json:"related_agent_id,omitempty"`
	RelatedTaskID     string           `json:"related_task_id,omitempty"`
	Deliveries        []DeliveryStatus `json:"deliveries"`
}

// Condition config payloads for each ConditionKind (§4.7 table).

type AgentStuckConfig struct {
	StuckThresholdSeconds int    `json:"stuck_threshold_seconds"`
	AgentID               string `json:"agent_id,omitempty"`
}

type TaskFailedConfig struct {
	AgentID        string `json:"agent_id,omitempty"`
	ThresholdCount int    `json:"threshold_count,omitempty"`
	WindowSeconds  int    `json:"window_seconds"`
}

type ErrorRateConfig struct {
	ThresholdPercent float64 `json:"threshold_percent"`
	WindowSeconds    int     `json:"window_seconds"`
	AgentID          string  `json:"agent_id,omitempty"`
}

type DurationExceededConfig struct {
	ThresholdMs int64  `json:"threshold_ms"`
	AgentID     string `json:"agent_id,omitempty"`
}

type HeartbeatLostConfig struct {
	AgentID       string `json:"agent_id"`
	WindowSeconds int    `json:"window_seconds"`
}

// CostScope names the aggregation scope for a cost_threshold rule.
type CostScope string

const (
	CostScopeAgent   CostScope = "agent"
	CostScopeProject CostScope = "project"
	CostScopeTenant  CostScope = "tenant"
)

type CostThresholdConfig struct {
	ThresholdUSD float64   `json:"threshold_usd"`
	WindowHours  int       `json:"window_hours"`
	Scope        CostScope `json:"scope"`
	ScopeID      string    `json:"scope_id,omitempty"` // agent_id or project_id; empty for tenant scope
}
