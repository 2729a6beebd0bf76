package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

func TestEvaluateBatchFiresAgentStuckRule(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	if _, err := s.UpsertAgent(ctx, &model.Agent{
		TenantID: "t1", AgentID: "a1", LastHeartbeat: now.Add(-time.Hour), LastSeen: now.Add(-time.Hour),
		StuckThresholdSeconds: 60, LastEventType: model.EventHeartbeat,
	}); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	cfg, _ := json.Marshal(model.AgentStuckConfig{AgentID: "a1"})
	rule := &model.AlertRule{RuleID: "r1", TenantID: "t1", Name: "stuck", ConditionKind: model.ConditionAgentStuck, ConditionConfig: cfg, IsEnabled: true}
	if err := s.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("CreateAlertRule failed: %v", err)
	}

	eng := New(s, nil)
	eng.EvaluateBatch(ctx, "t1", []*model.Event{{TenantID: "t1", AgentID: "a1", EventType: model.EventHeartbeat, Timestamp: now}})

	history, err := s.ListAlertHistory(ctx, "t1", storage.Page{})
	if err != nil {
		t.Fatalf("ListAlertHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].RelatedAgentID != "a1" {
		t.Fatalf("expected one fired alert for the stuck agent, got %+v", history)
	}
}

func TestEvaluateBatchRespectsDisabledRule(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()

	cfg, _ := json.Marshal(model.TaskFailedConfig{ThresholdCount: 1, WindowSeconds: 3600})
	rule := &model.AlertRule{RuleID: "r1", TenantID: "t1", Name: "failed", ConditionKind: model.ConditionTaskFailed, ConditionConfig: cfg, IsEnabled: false}
	if err := s.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("CreateAlertRule failed: %v", err)
	}

	eng := New(s, nil)
	eng.EvaluateBatch(ctx, "t1", []*model.Event{{TenantID: "t1", AgentID: "a1", EventType: model.EventTaskFailed, Timestamp: time.Now()}})

	history, err := s.ListAlertHistory(ctx, "t1", storage.Page{})
	if err != nil {
		t.Fatalf("ListAlertHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected a disabled rule to never fire, got %+v", history)
	}
}

func TestEvaluateBatchRespectsCooldown(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	cfg, _ := json.Marshal(model.DurationExceededConfig{ThresholdMs: 1000})
	rule := &model.AlertRule{RuleID: "r1", TenantID: "t1", Name: "slow", ConditionKind: model.ConditionDurationExceeded, ConditionConfig: cfg, IsEnabled: true, CooldownSeconds: 3600}
	if err := s.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("CreateAlertRule failed: %v", err)
	}

	duration := int64(5000)
	batch := []*model.Event{{EventID: "e1", TenantID: "t1", AgentID: "a1", TaskID: "task-1", Timestamp: now, DurationMs: &duration}}

	eng := New(s, nil)
	eng.EvaluateBatch(ctx, "t1", batch)
	eng.EvaluateBatch(ctx, "t1", batch)

	history, err := s.ListAlertHistory(ctx, "t1", storage.Page{})
	if err != nil {
		t.Fatalf("ListAlertHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected cooldown to suppress the second firing, got %d entries", len(history))
	}
}

func TestEvaluateBatchFiresCostThresholdRule(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	bucket, err := s.GetOrCreateAgentBucket(ctx, "t1", "a1", now)
	if err != nil {
		t.Fatalf("GetOrCreateAgentBucket failed: %v", err)
	}
	bucket.CostUSD = 42
	if err := s.SaveAgentBucket(ctx, bucket); err != nil {
		t.Fatalf("SaveAgentBucket failed: %v", err)
	}

	cfg, _ := json.Marshal(model.CostThresholdConfig{ThresholdUSD: 10, WindowHours: 1, Scope: model.CostScopeTenant})
	rule := &model.AlertRule{RuleID: "r1", TenantID: "t1", Name: "cost", ConditionKind: model.ConditionCostThreshold, ConditionConfig: cfg, IsEnabled: true}
	if err := s.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("CreateAlertRule failed: %v", err)
	}

	eng := New(s, nil)
	eng.EvaluateBatch(ctx, "t1", []*model.Event{{TenantID: "t1", AgentID: "a1", Timestamp: now}})

	history, err := s.ListAlertHistory(ctx, "t1", storage.Page{})
	if err != nil {
		t.Fatalf("ListAlertHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected the cost threshold rule to fire, got %+v", history)
	}
}

// TestEvaluateBatchFiresCostThresholdRuleWithEmptyScope covers an
// unqualified cost_threshold rule (no scope given), which must default to
// tenant scope rather than silently never firing.
func TestEvaluateBatchFiresCostThresholdRuleWithEmptyScope(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	bucket, err := s.GetOrCreateAgentBucket(ctx, "t1", "a1", now)
	if err != nil {
		t.Fatalf("GetOrCreateAgentBucket failed: %v", err)
	}
	bucket.CostUSD = 2
	if err := s.SaveAgentBucket(ctx, bucket); err != nil {
		t.Fatalf("SaveAgentBucket failed: %v", err)
	}

	cfg, _ := json.Marshal(model.CostThresholdConfig{ThresholdUSD: 1, WindowHours: 1})
	rule := &model.AlertRule{RuleID: "r1", TenantID: "t1", Name: "cost", ConditionKind: model.ConditionCostThreshold, ConditionConfig: cfg, IsEnabled: true}
	if err := s.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("CreateAlertRule failed: %v", err)
	}

	eng := New(s, nil)
	eng.EvaluateBatch(ctx, "t1", []*model.Event{{TenantID: "t1", AgentID: "a1", Timestamp: now}})

	history, err := s.ListAlertHistory(ctx, "t1", storage.Page{})
	if err != nil {
		t.Fatalf("ListAlertHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a scopeless cost threshold rule to default to tenant scope and fire, got %+v", history)
	}
}

// TestDeliverWebhookSendsDocumentedPayload confirms the webhook body carries
// condition_snapshot and the related agent/task IDs rather than the bare
// condition kind.
func TestDeliverWebhookSendsDocumentedPayload(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	eng := New(storage.NewMemStore(t.TempDir()), nil)
	rule := &model.AlertRule{RuleID: "r1", Name: "stuck", ConditionKind: model.ConditionAgentStuck}
	action := model.AlertAction{Kind: model.ActionWebhook, URL: srv.URL}
	snapshot := json.RawMessage(`{"agent_id":"a1"}`)

	status := eng.deliverWebhook(context.Background(), rule, action, time.Now(), snapshot, "a1", "task-1")
	if !status.Success {
		t.Fatalf("expected webhook delivery to succeed, got %+v", status)
	}
	if received["rule_id"] != "r1" || received["rule_name"] != "stuck" {
		t.Fatalf("unexpected rule identity in webhook body: %+v", received)
	}
	if _, ok := received["condition_snapshot"]; !ok {
		t.Fatalf("expected condition_snapshot in webhook body, got %+v", received)
	}
	if received["related_agent_id"] != "a1" || received["related_task_id"] != "task-1" {
		t.Fatalf("expected related agent/task IDs in webhook body, got %+v", received)
	}
	if _, ok := received["condition"]; ok {
		t.Fatalf("unexpected legacy 'condition' key in webhook body: %+v", received)
	}
}
