package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/ingest"
	"github.com/hiveboard/server/internal/model"
)

func TestFilterMatchesAgentID(t *testing.T) {
	f := Filter{AgentID: "a1"}
	if !f.matches(&model.Event{AgentID: "a1"}) {
		t.Fatal("expected match on agent_id")
	}
	if f.matches(&model.Event{AgentID: "a2"}) {
		t.Fatal("expected no match for a different agent_id")
	}
}

func TestFilterMatchesEventTypes(t *testing.T) {
	f := Filter{EventTypes: []model.EventType{model.EventTaskCompleted, model.EventTaskFailed}}
	if !f.matches(&model.Event{EventType: model.EventTaskFailed}) {
		t.Fatal("expected match for an event type in the allowlist")
	}
	if f.matches(&model.Event{EventType: model.EventHeartbeat}) {
		t.Fatal("expected no match for an event type outside the allowlist")
	}
}

func TestFilterMatchesMinSeverity(t *testing.T) {
	f := Filter{MinSeverity: model.SeverityWarn}
	if f.matches(&model.Event{Severity: model.SeverityInfo}) {
		t.Fatal("info should not pass a warn minimum")
	}
	if !f.matches(&model.Event{Severity: model.SeverityError}) {
		t.Fatal("error should pass a warn minimum")
	}
	if !f.matches(&model.Event{Severity: model.SeverityWarn}) {
		t.Fatal("warn should pass a warn minimum (inclusive)")
	}
}

func TestFilterZeroValueMatchesEverything(t *testing.T) {
	f := Filter{}
	if !f.matches(&model.Event{AgentID: "any", EventType: model.EventCustom, Severity: model.SeverityDebug}) {
		t.Fatal("zero-value filter should match any event")
	}
}

func TestFilterCombinesDimensionsWithAND(t *testing.T) {
	f := Filter{ProjectID: "p1", Environment: "prod"}
	if f.matches(&model.Event{ProjectID: "p1", Environment: "staging"}) {
		t.Fatal("expected no match when only one of two dimensions agrees")
	}
	if !f.matches(&model.Event{ProjectID: "p1", Environment: "prod"}) {
		t.Fatal("expected match when both dimensions agree")
	}
}

func TestMatchesAgent(t *testing.T) {
	if !(Filter{}).matchesAgent("a1") {
		t.Fatal("empty agent filter should match any agent")
	}
	if !(Filter{AgentID: "a1"}).matchesAgent("a1") {
		t.Fatal("expected match for the same agent_id")
	}
	if (Filter{AgentID: "a1"}).matchesAgent("a2") {
		t.Fatal("expected no match for a different agent_id")
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	ranks := []model.Severity{model.SeverityDebug, model.SeverityInfo, model.SeverityWarn, model.SeverityError}
	for i := 1; i < len(ranks); i++ {
		if severityRank(ranks[i]) <= severityRank(ranks[i-1]) {
			t.Fatalf("expected %s to rank above %s", ranks[i], ranks[i-1])
		}
	}
}

func TestDispatchDeliversOnlyToMatchingClients(t *testing.T) {
	h := New(nil)
	go h.Run()

	matching := &Client{hub: h, tenantID: "t1", send: make(chan []byte, 1)}
	other := &Client{hub: h, tenantID: "t1", send: make(chan []byte, 1)}
	h.register <- matching
	h.register <- other

	h.dispatch("t1", func(c *Client) bool { return c == matching }, Message{Type: MsgEventNew, Data: "x"})

	select {
	case <-matching.send:
	default:
		t.Fatal("expected the matching client to receive the dispatched message")
	}
	select {
	case <-other.send:
		t.Fatal("expected the non-matching client to receive nothing")
	default:
	}
}

// TestBroadcastEventsAgentStuckPayload confirms the §4.6 wire contract:
// agent_id, previous_status, new_status, timestamp, and heartbeat_age_seconds,
// not the old previous/current keys.
func TestBroadcastEventsAgentStuckPayload(t *testing.T) {
	h := New(nil)
	go h.Run()

	client := &Client{hub: h, tenantID: "t1", send: make(chan []byte, 1)}
	h.register <- client
	waitForRegister(t, h, "t1")

	now := time.Now()
	h.BroadcastEvents("t1", nil, []ingest.AgentStatusChange{{
		AgentID: "agent-1", Previous: model.StatusProcessing, Current: model.StatusStuck,
		Timestamp: now, CurrentTaskID: "task-1", HeartbeatAgeSeconds: 900,
	}})

	var msg Message
	select {
	case raw := <-client.send:
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to unmarshal dispatched message: %v", err)
		}
	default:
		t.Fatal("expected a dispatched message")
	}

	if msg.Type != MsgAgentStuck {
		t.Fatalf("expected type=agent.stuck, got %q", msg.Type)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a JSON object payload, got %T", msg.Data)
	}
	if data["agent_id"] != "agent-1" || data["previous_status"] != "processing" || data["new_status"] != "stuck" {
		t.Fatalf("unexpected payload identity/status fields: %+v", data)
	}
	if data["current_task_id"] != "task-1" {
		t.Fatalf("expected current_task_id to be carried, got %+v", data)
	}
	if _, ok := data["heartbeat_age_seconds"]; !ok {
		t.Fatalf("expected heartbeat_age_seconds in payload, got %+v", data)
	}
	if _, ok := data["previous"]; ok {
		t.Fatalf("unexpected legacy 'previous' key in payload: %+v", data)
	}
}

func waitForRegister(t *testing.T, h *Hub, tenantID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		n := len(h.tenants[tenantID])
		h.mu.RUnlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for client registration")
}
