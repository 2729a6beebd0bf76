package model

import (
	"encoding/json"
	"time"
)

// DefaultStuckThresholdSeconds is used when an agent never reports one.
const DefaultStuckThresholdSeconds = 300

// Agent is the cache row described in §3.1 — mirrors the latest heartbeat
// envelope. It is not the source of truth; the event stream is.
type Agent struct {
	TenantID              string          `json:"tenant_id"`
	AgentID               string          `json:"agent_id"`
	AgentType             string          `json:"agent_type,omitempty"`
	AgentVersion          string          `json:"agent_version,omitempty"`
	Framework             string          `json:"framework,omitempty"`
	Runtime               string          `json:"runtime,omitempty"`
	SDKVersion            string          `json:"sdk_version,omitempty"`
	Environment           string          `json:"environment,omitempty"`
	Group                 string          `json:"group,omitempty"`
	LastSeen              time.Time       `json:"last_seen"`
	LastHeartbeat         time.Time       `json:"last_heartbeat"`
	LastEventType         EventType       `json:"last_event_type,omitempty"`
	LastTaskID            string          `json:"last_task_id,omitempty"`
	LastProjectID         string          `json:"last_project_id,omitempty"`
	HeartbeatPayload      json.RawMessage `json:"heartbeat_payload,omitempty"`
	QueueState            json.RawMessage `json:"queue_state,omitempty"`
	StuckThresholdSeconds int             `json:"stuck_threshold_seconds"`

	// WasStuck tracks whether the last observed derived status was "stuck",
	// so the fan-out can emit agent.stuck exactly once per episode (§4.6).
	WasStuck bool `json:"-"`
}

// DerivedStatus is the agent status vocabulary from §4.4.1.
type DerivedStatus string

const (
	StatusStuck           DerivedStatus = "stuck"
	StatusError           DerivedStatus = "error"
	StatusWaitingApproval DerivedStatus = "waiting_approval"
	StatusProcessing      DerivedStatus = "processing"
	StatusIdle            DerivedStatus = "idle"
)

// DeriveStatus implements the priority cascade of §4.4.1. It is a pure
// function of (now, agent cache row), as required by the §8.1 invariant.
func (a *Agent) DeriveStatus(now time.Time) DerivedStatus {
	threshold := a.StuckThresholdSeconds
	if threshold <= 0 {
		threshold = DefaultStuckThresholdSeconds
	}

	if a.LastHeartbeat.IsZero() || now.Sub(a.LastHeartbeat) > time.Duration(threshold)*time.Second {
		return StatusStuck
	}

	return a.StatusFromLastEvent()
}

// StatusFromLastEvent derives the non-stuck half of the §4.4.1 cascade from
// last_event_type alone — what the agent's status would be if its
// heartbeat were still fresh. Used to report a meaningful "previous"
// status when a stuck transition is detected without a fresh event to
// diff against (a periodic re-derivation rather than an ingest batch).
func (a *Agent) StatusFromLastEvent() DerivedStatus {
	switch a.LastEventType {
	case EventTaskFailed, EventActionFailed:
		return StatusError
	case EventApprovalRequested:
		return StatusWaitingApproval
	case EventTaskStarted, EventActionStarted:
		return StatusProcessing
	default:
		return StatusIdle
	}
}

// HeartbeatAgeSeconds returns now - LastHeartbeat in seconds, as surfaced
// in agent.status_changed / agent.stuck messages (§4.6).
func (a *Agent) HeartbeatAgeSeconds(now time.Time) float64 {
	if a.LastHeartbeat.IsZero() {
		return -1
	}
	return now.Sub(a.LastHeartbeat).Seconds()
}

// CoalesceString returns incoming if it is non-empty, else existing —
// the field-level COALESCE semantics required by §3.1 / §8.2 for agent
// cache upserts.
func CoalesceString(existing, incoming string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

// CoalesceTime returns incoming if it is non-zero, else existing.
func CoalesceTime(existing, incoming time.Time) time.Time {
	if !incoming.IsZero() {
		return incoming
	}
	return existing
}

// CoalesceRaw returns incoming if it carries any bytes, else existing —
// used for heartbeat_payload's "last non-empty payload" rule (§3.1).
func CoalesceRaw(existing, incoming json.RawMessage) json.RawMessage {
	if len(incoming) > 0 {
		return incoming
	}
	return existing
}
