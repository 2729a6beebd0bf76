// Package model defines HiveBoard's core entities: tenants, users, API
// keys, projects, agents, events, hourly buckets, and alert rules.
package model

import (
	"encoding/json"
	"time"
)

// EventType is the closed 13-value enum from §6.4.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventHeartbeat         EventType = "heartbeat"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventActionStarted     EventType = "action_started"
	EventActionCompleted   EventType = "action_completed"
	EventActionFailed      EventType = "action_failed"
	EventRetryStarted      EventType = "retry_started"
	EventEscalated         EventType = "escalated"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalReceived  EventType = "approval_received"
	EventCustom            EventType = "custom"
)

// validEventTypes backs IsValid and AllEventTypes.
var validEventTypes = map[EventType]bool{
	EventAgentRegistered:   true,
	EventHeartbeat:         true,
	EventTaskStarted:       true,
	EventTaskCompleted:     true,
	EventTaskFailed:        true,
	EventActionStarted:     true,
	EventActionCompleted:   true,
	EventActionFailed:      true,
	EventRetryStarted:      true,
	EventEscalated:         true,
	EventApprovalRequested: true,
	EventApprovalReceived:  true,
	EventCustom:            true,
}

// IsValid reports whether t is one of the 13 known event types.
func (t EventType) IsValid() bool {
	return validEventTypes[t]
}

// AllEventTypes returns every defined event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventAgentRegistered, EventHeartbeat, EventTaskStarted, EventTaskCompleted,
		EventTaskFailed, EventActionStarted, EventActionCompleted, EventActionFailed,
		EventRetryStarted, EventEscalated, EventApprovalRequested, EventApprovalReceived,
		EventCustom,
	}
}

// Severity is the event severity enum from §3.1.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError:
		return true
	}
	return false
}

// PayloadKind is the closed set of well-known payload shapes from §6.6.
// Unknown kinds are preserved as opaque JSON (§9 design note).
type PayloadKind string

const (
	PayloadLLMCall        PayloadKind = "llm_call"
	PayloadQueueSnapshot  PayloadKind = "queue_snapshot"
	PayloadTodo           PayloadKind = "todo"
	PayloadPlanCreated    PayloadKind = "plan_created"
	PayloadPlanStep       PayloadKind = "plan_step"
	PayloadIssue          PayloadKind = "issue"
	PayloadScheduled      PayloadKind = "scheduled"
)

// Payload is the envelope carried in Event.Payload (§3.1, §6.6).
type Payload struct {
	Kind    PayloadKind     `json:"kind,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
}

// MaxPayloadBytes is the §3.1 / §8.3 payload size limit.
const MaxPayloadBytes = 32 * 1024

// MaxAgentIDLen, MaxTaskIDLen, MaxEnvironmentLen, MaxGroupLen are the §3.1
// field length limits enforced at ingest (§8.3).
const (
	MaxAgentIDLen     = 256
	MaxTaskIDLen      = 256
	MaxEnvironmentLen = 64
	MaxGroupLen       = 128
)

// Event is the single source of truth described in §3.1.
type Event struct {
	EventID         string    `json:"event_id"`
	TenantID        string    `json:"tenant_id"`
	AgentID         string    `json:"agent_id"`
	TaskID          string    `json:"task_id,omitempty"`
	ActionID        string    `json:"action_id,omitempty"`
	ParentActionID  string    `json:"parent_action_id,omitempty"`
	ParentEventID   string    `json:"parent_event_id,omitempty"`
	ProjectID       string    `json:"project_id,omitempty"`
	Environment     string    `json:"environment,omitempty"`
	Group           string    `json:"group,omitempty"`
	EventType       EventType `json:"event_type"`
	Severity        Severity  `json:"severity"`
	Status          string    `json:"status,omitempty"`
	DurationMs      *int64    `json:"duration_ms,omitempty"`
	ErrorType       string    `json:"error_type,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	ReceivedAt      time.Time `json:"received_at"`
	Payload         Payload   `json:"payload"`
}

// HourOf truncates t to the UTC hour boundary, as used for rollup bucketing.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
