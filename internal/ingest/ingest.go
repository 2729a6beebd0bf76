// Package ingest implements the batch event pipeline (§4.2): envelope
// validation, per-event validation, the advisory payload convention check,
// project resolution, dedup insert, agent cache upsert, junction upsert,
// rollup updates, and handoff to broadcast/alerts. Stages 6-11 run under
// one per-tenant ingest lock; validation runs before it is taken and alert
// evaluation after it is released.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/rollup"
	"github.com/hiveboard/server/internal/storage"
)

// MaxBatchEvents and MaxBatchBytes are the §4.2 batch limits.
const (
	MaxBatchEvents = 500
	MaxBatchBytes  = 1 << 20
)

// Envelope carries the per-batch defaults merged into every event (§4.2
// stage 5); event-level values win when both are set.
type Envelope struct {
	AgentID     string `json:"agent_id"`
	AgentType   string `json:"agent_type,omitempty"`
	Environment string `json:"environment,omitempty"`
	Group       string `json:"group,omitempty"`
	Runtime     string `json:"runtime,omitempty"`
	SDKVersion  string `json:"sdk_version,omitempty"`
	Framework   string `json:"framework,omitempty"`
}

// RawEvent is the wire shape of one submitted event, before expansion.
type RawEvent struct {
	EventID        string          `json:"event_id"`
	AgentID        string          `json:"agent_id,omitempty"`
	TaskID         string          `json:"task_id,omitempty"`
	ActionID       string          `json:"action_id,omitempty"`
	ParentActionID string          `json:"parent_action_id,omitempty"`
	ParentEventID  string          `json:"parent_event_id,omitempty"`
	ProjectID      string          `json:"project_id,omitempty"`
	Environment    string          `json:"environment,omitempty"`
	Group          string          `json:"group,omitempty"`
	EventType      model.EventType `json:"event_type"`
	Severity       model.Severity  `json:"severity,omitempty"`
	Status         string          `json:"status,omitempty"`
	DurationMs     *int64          `json:"duration_ms,omitempty"`
	ErrorType      string          `json:"error_type,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        model.Payload   `json:"payload,omitempty"`
}

// Batch is the decoded request body of POST /v1/ingest.
type Batch struct {
	Envelope Envelope   `json:"envelope"`
	Events   []RawEvent `json:"events"`
}

// EventError is one rejected event in a partial-failure response (§4.2).
type EventError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Result is the outcome of processing one batch.
type Result struct {
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Warnings []string     `json:"warnings,omitempty"`
	Errors   []EventError `json:"errors,omitempty"`

	acceptedEvents []*model.Event
}

// AcceptedEvents returns the events that made it through validation and
// insert, for handoff to broadcast/alerts (§4.2 stages 11-12).
func (r *Result) AcceptedEvents() []*model.Event { return r.acceptedEvents }

// Broadcaster hands accepted events to the WebSocket fan-out (§4.6).
// Implemented by internal/hub; kept as an interface here to avoid a
// storage/rollup package depending on the transport layer.
type Broadcaster interface {
	BroadcastEvents(tenantID string, events []*model.Event, statusChanges []AgentStatusChange)
}

// AlertEvaluator evaluates accepted events against alert rules (§4.7).
type AlertEvaluator interface {
	EvaluateBatch(ctx context.Context, tenantID string, events []*model.Event)
}

// AgentStatusChange describes a derived-status transition observed while
// processing a batch, passed through to the fan-out (§4.6). Timestamp,
// CurrentTaskID and HeartbeatAgeSeconds mirror the agent.status_changed /
// agent.stuck wire payload documented in §4.6.
type AgentStatusChange struct {
	AgentID             string
	Previous            model.DerivedStatus
	Current             model.DerivedStatus
	Timestamp           time.Time
	CurrentTaskID       string
	HeartbeatAgeSeconds float64
}

// Pipeline wires the storage backend with the broadcast/alert hooks.
type Pipeline struct {
	Store     storage.Backend
	Broadcast Broadcaster
	Alerts    AlertEvaluator
	Logger    *log.Logger
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// Process runs the full 12-stage pipeline for one tenant's batch (§4.2).
// Stages 1 (authenticate) happen before Process is called; tenantID is
// the already-resolved principal.
func (p *Pipeline) Process(ctx context.Context, tenantID string, batch Batch) (*Result, error) {
	// Stage 2: envelope validate.
	if batch.Envelope.AgentID == "" {
		return nil, apierr.New(apierr.KindValidation, "envelope.agent_id is required")
	}
	if len(batch.Events) == 0 {
		return nil, apierr.New(apierr.KindValidation, "events must not be empty")
	}
	if len(batch.Events) > MaxBatchEvents {
		return nil, apierr.Newf(apierr.KindValidation, "batch exceeds %d events", MaxBatchEvents)
	}

	result := &Result{}
	now := time.Now().UTC()

	type candidate struct {
		event *model.Event
	}
	var candidates []candidate

	for _, raw := range batch.Events {
		// Stage 3: per-event validate.
		if err := validateRawEvent(raw); err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, EventError{EventID: raw.EventID, Error: "invalid_event", Message: err.Error()})
			continue
		}

		// Stage 4: advisory payload convention check.
		if warn := checkPayloadConvention(raw.Payload); warn != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", raw.EventID, warn))
		}

		// Stage 5: expand envelope, event-level values win.
		e := expand(tenantID, batch.Envelope, raw, now)
		candidates = append(candidates, candidate{event: e})
	}

	if len(candidates) == 0 {
		return result, nil
	}

	err := p.Store.WithIngestLock(ctx, tenantID, func(ctx context.Context) error {
		var accepted []*model.Event
		var statusChanges []AgentStatusChange

		for _, c := range candidates {
			e := c.event

			// Stage 6: project validation.
			if e.ProjectID != "" {
				if _, err := p.Store.GetProject(ctx, tenantID, e.ProjectID); err != nil {
					result.Rejected++
					result.Errors = append(result.Errors, EventError{
						EventID: e.EventID, Error: "invalid_project_id",
						Message: "project_id does not resolve to a live project",
					})
					continue
				}
			}
			accepted = append(accepted, e)
		}

		if len(accepted) == 0 {
			return nil
		}

		// Stage 7: insert with dedup.
		inserted, err := p.Store.InsertEvents(ctx, tenantID, accepted)
		if err != nil {
			return err
		}
		result.Accepted = inserted

		// Stages 8-9: agent cache + junction upserts, grouped by agent.
		byAgent := make(map[string][]*model.Event)
		for _, e := range accepted {
			byAgent[e.AgentID] = append(byAgent[e.AgentID], e)
		}
		for agentID, events := range byAgent {
			before, _ := p.Store.GetAgent(ctx, tenantID, agentID)
			updated, err := p.upsertAgentCache(ctx, tenantID, agentID, batch.Envelope, events)
			if err != nil {
				return err
			}
			curStatus := updated.DeriveStatus(now)
			enteredStuck, err := p.Store.UpdateAgentWasStuck(ctx, tenantID, agentID, curStatus == model.StatusStuck)
			if err != nil {
				return err
			}
			if before != nil {
				prevStatus := before.DeriveStatus(now)
				if prevStatus != curStatus && (curStatus != model.StatusStuck || enteredStuck) {
					statusChanges = append(statusChanges, AgentStatusChange{
						AgentID:             agentID,
						Previous:            prevStatus,
						Current:             curStatus,
						Timestamp:           now,
						CurrentTaskID:       updated.LastTaskID,
						HeartbeatAgeSeconds: updated.HeartbeatAgeSeconds(now),
					})
				}
			}

			for _, e := range events {
				if e.ProjectID == "" {
					continue
				}
				if err := p.Store.UpsertProjectAgent(ctx, &model.ProjectAgent{
					TenantID: tenantID, ProjectID: e.ProjectID, AgentID: agentID, FirstSeen: e.Timestamp,
				}); err != nil {
					return err
				}
			}
		}

		// Stage 10: hourly rollup updates.
		for _, e := range accepted {
			if err := rollup.Apply(ctx, p.Store, e); err != nil {
				return err
			}
		}

		result.acceptedEvents = accepted

		// Stage 11: broadcast (best-effort).
		if p.Broadcast != nil {
			p.Broadcast.BroadcastEvents(tenantID, accepted, statusChanges)
		}
		return nil
	})
	if err != nil {
		p.logf("ingest: batch failed for tenant=%s: %v", tenantID, err)
		return nil, apierr.New(apierr.KindInternal, "failed to commit batch")
	}

	// Stage 12: alert evaluation (best-effort, outside the lock).
	if p.Alerts != nil && len(result.acceptedEvents) > 0 {
		p.Alerts.EvaluateBatch(ctx, tenantID, result.acceptedEvents)
	}

	return result, nil
}

func validateRawEvent(raw RawEvent) error {
	if raw.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if raw.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if !raw.EventType.IsValid() {
		return fmt.Errorf("event_type %q is not one of the known event types", raw.EventType)
	}
	if raw.Severity != "" && !raw.Severity.IsValid() {
		return fmt.Errorf("severity %q is invalid", raw.Severity)
	}
	if len(raw.AgentID) > model.MaxAgentIDLen {
		return fmt.Errorf("agent_id exceeds %d characters", model.MaxAgentIDLen)
	}
	if len(raw.TaskID) > model.MaxTaskIDLen {
		return fmt.Errorf("task_id exceeds %d characters", model.MaxTaskIDLen)
	}
	if len(raw.Environment) > model.MaxEnvironmentLen {
		return fmt.Errorf("environment exceeds %d characters", model.MaxEnvironmentLen)
	}
	if len(raw.Group) > model.MaxGroupLen {
		return fmt.Errorf("group exceeds %d characters", model.MaxGroupLen)
	}
	if len(raw.Payload.Data) > model.MaxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", model.MaxPayloadBytes)
	}
	return nil
}

// checkPayloadConvention is advisory only (§4.2 stage 4): it never rejects,
// only returns a human-readable warning for a well-known kind missing its
// conventional fields.
func checkPayloadConvention(p model.Payload) string {
	if p.Kind == "" || len(p.Data) == 0 {
		return ""
	}
	var data map[string]json.RawMessage
	if json.Unmarshal(p.Data, &data) != nil {
		return ""
	}

	missing := func(fields ...string) []string {
		var out []string
		for _, f := range fields {
			if _, ok := data[f]; !ok {
				out = append(out, f)
			}
		}
		return out
	}

	var needed []string
	switch p.Kind {
	case model.PayloadLLMCall:
		needed = missing("name", "model")
	case model.PayloadQueueSnapshot:
		needed = missing("depth")
	case model.PayloadPlanStep:
		needed = missing("step_index", "total_steps", "action")
	}
	if len(needed) > 0 {
		return fmt.Sprintf("payload.kind=%s missing conventional fields: %v", p.Kind, needed)
	}
	return ""
}

// expand merges envelope defaults into an event (§4.2 stage 5).
func expand(tenantID string, env Envelope, raw RawEvent, now time.Time) *model.Event {
	agentID := raw.AgentID
	if agentID == "" {
		agentID = env.AgentID
	}
	environment := raw.Environment
	if environment == "" {
		environment = env.Environment
	}
	group := raw.Group
	if group == "" {
		group = env.Group
	}
	severity := raw.Severity
	if severity == "" {
		severity = defaultSeverity(raw)
	}

	return &model.Event{
		EventID:        raw.EventID,
		TenantID:       tenantID,
		AgentID:        agentID,
		TaskID:         raw.TaskID,
		ActionID:       raw.ActionID,
		ParentActionID: raw.ParentActionID,
		ParentEventID:  raw.ParentEventID,
		ProjectID:      raw.ProjectID,
		Environment:    environment,
		Group:          group,
		EventType:      raw.EventType,
		Severity:       severity,
		Status:         raw.Status,
		DurationMs:     raw.DurationMs,
		ErrorType:      raw.ErrorType,
		ErrorMessage:   raw.ErrorMessage,
		Timestamp:      raw.Timestamp.UTC(),
		ReceivedAt:     now,
		Payload:        raw.Payload,
	}
}

// defaultSeverity implements §6.5's per-event-type table, with a
// payload-kind override for "issue" events driven by payload.data.severity.
func defaultSeverity(raw RawEvent) model.Severity {
	if raw.Payload.Kind == model.PayloadIssue && len(raw.Payload.Data) > 0 {
		var d struct {
			Severity string `json:"severity"`
		}
		if json.Unmarshal(raw.Payload.Data, &d) == nil {
			switch d.Severity {
			case "critical", "high":
				return model.SeverityError
			case "medium":
				return model.SeverityWarn
			case "low":
				return model.SeverityInfo
			}
		}
	}

	switch raw.EventType {
	case model.EventHeartbeat:
		return model.SeverityDebug
	case model.EventRetryStarted, model.EventApprovalRequested, model.EventEscalated:
		return model.SeverityWarn
	case model.EventTaskFailed, model.EventActionFailed:
		return model.SeverityError
	default:
		return model.SeverityInfo
	}
}

// upsertAgentCache applies stage 8: COALESCE non-null envelope/event
// fields, last_seen/last_heartbeat max-update, and last_event_type set
// from the chronologically latest accepted event in the batch. Envelope
// fields (agent_type, runtime, sdk_version, framework) seed the cache
// first; an agent_registered payload, being the authoritative source,
// overrides them when present.
func (p *Pipeline) upsertAgentCache(ctx context.Context, tenantID, agentID string, env Envelope, events []*model.Event) (*model.Agent, error) {
	fields := &model.Agent{
		TenantID: tenantID, AgentID: agentID,
		AgentType: env.AgentType, Framework: env.Framework, Runtime: env.Runtime, SDKVersion: env.SDKVersion,
	}

	var latest *model.Event
	for _, e := range events {
		if latest == nil || e.Timestamp.After(latest.Timestamp) {
			latest = e
		}
		if e.Timestamp.After(fields.LastSeen) {
			fields.LastSeen = e.Timestamp
		}
		if e.EventType == model.EventHeartbeat && e.Timestamp.After(fields.LastHeartbeat) {
			fields.LastHeartbeat = e.Timestamp
			if len(e.Payload.Data) > 0 {
				fields.HeartbeatPayload = e.Payload.Data
			}
		}
		if e.EventType == model.EventAgentRegistered && len(e.Payload.Data) > 0 {
			var reg struct {
				AgentType             string `json:"agent_type"`
				AgentVersion          string `json:"agent_version"`
				Framework             string `json:"framework"`
				Runtime               string `json:"runtime"`
				SDKVersion            string `json:"sdk_version"`
				StuckThresholdSeconds int    `json:"stuck_threshold_seconds"`
			}
			if json.Unmarshal(e.Payload.Data, &reg) == nil {
				fields.AgentType = model.CoalesceString(fields.AgentType, reg.AgentType)
				fields.AgentVersion = reg.AgentVersion
				fields.Framework = model.CoalesceString(fields.Framework, reg.Framework)
				fields.Runtime = model.CoalesceString(fields.Runtime, reg.Runtime)
				fields.SDKVersion = model.CoalesceString(fields.SDKVersion, reg.SDKVersion)
				fields.StuckThresholdSeconds = reg.StuckThresholdSeconds
			}
		}
		if e.Payload.Kind == model.PayloadQueueSnapshot && len(e.Payload.Data) > 0 {
			fields.QueueState = e.Payload.Data
		}
		if e.Environment != "" {
			fields.Environment = e.Environment
		}
		if e.Group != "" {
			fields.Group = e.Group
		}
	}

	if latest != nil {
		fields.LastEventType = latest.EventType
		fields.LastTaskID = latest.TaskID
		fields.LastProjectID = latest.ProjectID
	}

	return p.Store.UpsertAgent(ctx, fields)
}

// NewEventID generates a fresh event id for server-originated events (e.g.
// synthetic stuck-episode markers) — agents normally supply their own.
func NewEventID() string {
	return uuid.NewString()
}

// StuckSweepInterval is how often SweepStuckAgents re-derives status for
// every known agent, independent of ingest traffic.
const StuckSweepInterval = 15 * time.Second

// RunStuckSweep drives SweepStuckAgents on a ticker until ctx is cancelled.
// An agent can cross last_heartbeat+stuck_threshold_seconds with no new
// event ever arriving, so nothing at ingest time would otherwise detect
// the transition (§4.6, §8.4 scenario 3).
func (p *Pipeline) RunStuckSweep(ctx context.Context) {
	ticker := time.NewTicker(StuckSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SweepStuckAgents(ctx)
		}
	}
}

// SweepStuckAgents re-derives every tenant's agents against the current
// wall clock and broadcasts the transitions a batch-driven diff would
// miss. It uses UpdateAgentWasStuck so a sustained stuck episode (no
// heartbeat across many sweeps) emits agent.stuck exactly once.
func (p *Pipeline) SweepStuckAgents(ctx context.Context) {
	tenants, err := p.Store.ListTenants(ctx)
	if err != nil {
		p.logf("ingest: stuck sweep failed to list tenants: %v", err)
		return
	}

	now := time.Now().UTC()
	for _, t := range tenants {
		agents, err := p.Store.ListAgents(ctx, t.TenantID, "", "", "")
		if err != nil {
			p.logf("ingest: stuck sweep failed to list agents for tenant=%s: %v", t.TenantID, err)
			continue
		}

		var changes []AgentStatusChange
		for _, a := range agents {
			stuck := a.DeriveStatus(now) == model.StatusStuck
			entered, err := p.Store.UpdateAgentWasStuck(ctx, t.TenantID, a.AgentID, stuck)
			if err != nil {
				p.logf("ingest: stuck sweep failed to update agent=%s: %v", a.AgentID, err)
				continue
			}
			if entered {
				changes = append(changes, AgentStatusChange{
					AgentID:             a.AgentID,
					Previous:            a.StatusFromLastEvent(),
					Current:             model.StatusStuck,
					Timestamp:           now,
					CurrentTaskID:       a.LastTaskID,
					HeartbeatAgeSeconds: a.HeartbeatAgeSeconds(now),
				})
			}
		}
		if len(changes) > 0 && p.Broadcast != nil {
			p.Broadcast.BroadcastEvents(t.TenantID, nil, changes)
		}
	}
}
