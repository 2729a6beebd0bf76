package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

type fakeBroadcaster struct {
	calls int
	seen  []*model.Event
}

func (f *fakeBroadcaster) BroadcastEvents(tenantID string, events []*model.Event, statusChanges []AgentStatusChange) {
	f.calls++
	f.seen = append(f.seen, events...)
}

type fakeAlerts struct {
	calls int
}

func (f *fakeAlerts) EvaluateBatch(ctx context.Context, tenantID string, events []*model.Event) {
	f.calls++
}

func newTestPipeline(t *testing.T) (*Pipeline, storage.Backend, *fakeBroadcaster, *fakeAlerts) {
	t.Helper()
	store := storage.NewMemStore(t.TempDir())
	bc := &fakeBroadcaster{}
	al := &fakeAlerts{}
	return &Pipeline{Store: store, Broadcast: bc, Alerts: al}, store, bc, al
}

func TestProcessAcceptsValidBatch(t *testing.T) {
	p, _, bc, al := newTestPipeline(t)

	batch := Batch{
		Envelope: Envelope{AgentID: "agent-1", Environment: "prod"},
		Events: []RawEvent{
			{EventID: "evt-1", EventType: model.EventHeartbeat, Timestamp: time.Now()},
			{EventID: "evt-2", EventType: model.EventTaskStarted, Timestamp: time.Now()},
		},
	}

	result, err := p.Process(context.Background(), "tenant-1", batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.Accepted != 2 {
		t.Fatalf("expected 2 accepted events, got %d", result.Accepted)
	}
	if result.Rejected != 0 {
		t.Fatalf("expected 0 rejected events, got %d", result.Rejected)
	}
	if bc.calls != 1 {
		t.Fatalf("expected broadcaster to be called once, got %d", bc.calls)
	}
	if al.calls != 1 {
		t.Fatalf("expected alert evaluator to be called once, got %d", al.calls)
	}
}

func TestProcessRejectsInvalidEvent(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	batch := Batch{
		Envelope: Envelope{AgentID: "agent-1"},
		Events: []RawEvent{
			{EventID: "", EventType: model.EventHeartbeat, Timestamp: time.Now()}, // missing event_id
			{EventID: "evt-2", EventType: model.EventTaskStarted, Timestamp: time.Now()},
		},
	}

	result, err := p.Process(context.Background(), "tenant-1", batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.Accepted != 1 || result.Rejected != 1 {
		t.Fatalf("expected 1 accepted/1 rejected, got accepted=%d rejected=%d", result.Accepted, result.Rejected)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(result.Errors))
	}
}

func TestProcessRejectsMissingEnvelopeAgentID(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	_, err := p.Process(context.Background(), "tenant-1", Batch{
		Events: []RawEvent{{EventID: "evt-1", EventType: model.EventHeartbeat, Timestamp: time.Now()}},
	})
	if err == nil {
		t.Fatal("expected error for missing envelope.agent_id")
	}
}

func TestProcessRejectsEmptyBatch(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	_, err := p.Process(context.Background(), "tenant-1", Batch{
		Envelope: Envelope{AgentID: "agent-1"},
	})
	if err == nil {
		t.Fatal("expected error for empty events")
	}
}

func TestDefaultSeverityEventTypeTable(t *testing.T) {
	cases := []struct {
		eventType model.EventType
		want      model.Severity
	}{
		{model.EventHeartbeat, model.SeverityDebug},
		{model.EventRetryStarted, model.SeverityWarn},
		{model.EventApprovalRequested, model.SeverityWarn},
		{model.EventEscalated, model.SeverityWarn},
		{model.EventTaskFailed, model.SeverityError},
		{model.EventActionFailed, model.SeverityError},
		{model.EventTaskStarted, model.SeverityInfo},
	}
	for _, c := range cases {
		got := defaultSeverity(RawEvent{EventType: c.eventType})
		if got != c.want {
			t.Errorf("defaultSeverity(%s) = %s, want %s", c.eventType, got, c.want)
		}
	}
}

func TestDefaultSeverityIssuePayloadOverride(t *testing.T) {
	cases := []struct {
		severity string
		want     model.Severity
	}{
		{"critical", model.SeverityError},
		{"high", model.SeverityError},
		{"medium", model.SeverityWarn},
		{"low", model.SeverityInfo},
	}
	for _, c := range cases {
		data, _ := json.Marshal(map[string]string{"severity": c.severity})
		raw := RawEvent{
			EventType: model.EventTaskStarted, // would default to info without the override
			Payload:   model.Payload{Kind: model.PayloadIssue, Data: data},
		}
		got := defaultSeverity(raw)
		if got != c.want {
			t.Errorf("defaultSeverity(issue severity=%s) = %s, want %s", c.severity, got, c.want)
		}
	}
}

func TestProcessAppliesEnvelopeDefaults(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)

	batch := Batch{
		Envelope: Envelope{AgentID: "agent-1", Environment: "staging", Group: "fleet-a"},
		Events: []RawEvent{
			{EventID: "evt-1", EventType: model.EventHeartbeat, Timestamp: time.Now()},
		},
	}
	if _, err := p.Process(context.Background(), "tenant-1", batch); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	agent, err := store.GetAgent(context.Background(), "tenant-1", "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent.Environment != "staging" || agent.Group != "fleet-a" {
		t.Fatalf("expected envelope defaults to populate agent cache, got environment=%q group=%q", agent.Environment, agent.Group)
	}
}

// TestProcessCoalescesEnvelopeAndRegistrationFields confirms envelope fields
// seed the agent cache, and a later agent_registered payload overrides them
// (including stuck_threshold_seconds), rather than envelope fields being
// dropped entirely.
func TestProcessCoalescesEnvelopeAndRegistrationFields(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)

	regPayload, _ := json.Marshal(map[string]interface{}{
		"agent_type":              "override-type",
		"framework":               "override-framework",
		"stuck_threshold_seconds": 60,
	})

	batch := Batch{
		Envelope: Envelope{AgentID: "agent-1", AgentType: "langchain", Runtime: "python3.11", SDKVersion: "1.2.3", Framework: "base-framework"},
		Events: []RawEvent{
			{EventID: "evt-1", EventType: model.EventAgentRegistered, Timestamp: time.Now(), Payload: model.Payload{Data: regPayload}},
		},
	}
	if _, err := p.Process(context.Background(), "tenant-1", batch); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	agent, err := store.GetAgent(context.Background(), "tenant-1", "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent.AgentType != "override-type" {
		t.Fatalf("expected agent_registered payload to override agent_type, got %q", agent.AgentType)
	}
	if agent.Framework != "override-framework" {
		t.Fatalf("expected agent_registered payload to override framework, got %q", agent.Framework)
	}
	if agent.Runtime != "python3.11" || agent.SDKVersion != "1.2.3" {
		t.Fatalf("expected envelope runtime/sdk_version to survive, got runtime=%q sdk_version=%q", agent.Runtime, agent.SDKVersion)
	}
	if agent.StuckThresholdSeconds != 60 {
		t.Fatalf("expected stuck_threshold_seconds from registration payload, got %d", agent.StuckThresholdSeconds)
	}
}

// TestProcessSetsQueueStateFromQueueSnapshot covers the §6.6 rollup effect:
// a queue_snapshot payload must update the agent cache's queue_state.
func TestProcessSetsQueueStateFromQueueSnapshot(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)

	snapshot, _ := json.Marshal(map[string]interface{}{"depth": 3})
	batch := Batch{
		Envelope: Envelope{AgentID: "agent-1"},
		Events: []RawEvent{
			{EventID: "evt-1", EventType: model.EventHeartbeat, Timestamp: time.Now(), Payload: model.Payload{Kind: model.PayloadQueueSnapshot, Data: snapshot}},
		},
	}
	if _, err := p.Process(context.Background(), "tenant-1", batch); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	agent, err := store.GetAgent(context.Background(), "tenant-1", "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if len(agent.QueueState) == 0 {
		t.Fatal("expected queue_snapshot payload to populate agent.queue_state")
	}
}

// TestSweepStuckAgentsFiresOncePerEpisode covers the time-based stuck
// transition: no new event ever arrives, so only a sweep detects it, and a
// sustained episode must not re-fire.
func TestSweepStuckAgentsFiresOncePerEpisode(t *testing.T) {
	p, store, bc, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := store.CreateTenant(ctx, &model.Tenant{TenantID: "tenant-1", Name: "t1"}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if _, err := p.Store.UpsertAgent(ctx, &model.Agent{
		TenantID: "tenant-1", AgentID: "agent-1",
		LastHeartbeat: time.Now().Add(-time.Hour), LastSeen: time.Now().Add(-time.Hour),
		StuckThresholdSeconds: 60, LastEventType: model.EventHeartbeat,
	}); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	p.SweepStuckAgents(ctx)
	if bc.calls != 1 {
		t.Fatalf("expected the first sweep to broadcast one stuck transition, got %d calls", bc.calls)
	}

	p.SweepStuckAgents(ctx)
	if bc.calls != 1 {
		t.Fatalf("expected a sustained stuck episode not to re-broadcast, got %d calls", bc.calls)
	}
}
