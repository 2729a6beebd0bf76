package query_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/query"
	"github.com/hiveboard/server/internal/storage"
)

func seedEvents(t *testing.T, s *storage.MemStore, events []*model.Event) {
	t.Helper()
	if _, err := s.InsertEvents(context.Background(), "t1", events); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
}

func TestListTasksDerivesCompletedStatusAndCost(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	now := time.Now()
	costPayload, _ := json.Marshal(map[string]float64{"cost": 0.5})

	seedEvents(t, s, []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", TaskID: "task-1", EventType: model.EventTaskStarted, Timestamp: now},
		{EventID: "e2", TenantID: "t1", AgentID: "a1", TaskID: "task-1", EventType: model.EventActionStarted, Timestamp: now.Add(time.Second)},
		{
			EventID: "e3", TenantID: "t1", AgentID: "a1", TaskID: "task-1", EventType: model.EventCustom,
			Timestamp: now.Add(2 * time.Second), Payload: model.Payload{Kind: model.PayloadLLMCall, Data: costPayload},
		},
		{EventID: "e4", TenantID: "t1", AgentID: "a1", TaskID: "task-1", EventType: model.EventTaskCompleted, Timestamp: now.Add(3 * time.Second)},
	})

	eng := query.New(s)
	tasks, err := eng.ListTasks(context.Background(), "t1", query.TaskFilters{}, storage.Page{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 derived task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Status != model.TaskCompleted {
		t.Fatalf("expected status completed, got %s", task.Status)
	}
	if task.ActionCount != 1 {
		t.Fatalf("expected action_count 1, got %d", task.ActionCount)
	}
	if task.CostUSD != 0.5 {
		t.Fatalf("expected cost_usd 0.5, got %f", task.CostUSD)
	}
}

func TestListTasksDerivesFailedOverCompleted(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	now := time.Now()

	seedEvents(t, s, []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", TaskID: "task-2", EventType: model.EventTaskStarted, Timestamp: now},
		{EventID: "e2", TenantID: "t1", AgentID: "a1", TaskID: "task-2", EventType: model.EventTaskFailed, Timestamp: now.Add(time.Second)},
	})

	eng := query.New(s)
	tasks, err := eng.ListTasks(context.Background(), "t1", query.TaskFilters{}, storage.Page{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != model.TaskFailed {
		t.Fatalf("expected a single failed task, got %+v", tasks)
	}
	if tasks[0].ErrorCount != 1 {
		t.Fatalf("expected error_count 1, got %d", tasks[0].ErrorCount)
	}
}

func TestListAgentsDerivesStuckWhenHeartbeatStale(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	if _, err := s.UpsertAgent(ctx, &model.Agent{
		TenantID: "t1", AgentID: "a1", LastHeartbeat: stale, LastSeen: stale, LastEventType: model.EventHeartbeat,
	}); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	eng := query.New(s)
	views, err := eng.ListAgents(ctx, "t1", "", "", "")
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(views) != 1 || views[0].Status != model.StatusStuck {
		t.Fatalf("expected a single stuck agent view, got %+v", views)
	}
}

func TestStats1hComputesSuccessRate(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	now := time.Now()

	seedEvents(t, s, []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskCompleted, Timestamp: now},
		{EventID: "e2", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskCompleted, Timestamp: now.Add(time.Second)},
		{EventID: "e3", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskFailed, Timestamp: now.Add(2 * time.Second)},
	})

	eng := query.New(s)
	stats, err := eng.Stats1h(context.Background(), "t1", "a1")
	if err != nil {
		t.Fatalf("Stats1h failed: %v", err)
	}
	if stats.TasksCompleted != 2 || stats.TasksFailed != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	want := 2.0 / 3.0 * 100
	if stats.SuccessRate < want-0.01 || stats.SuccessRate > want+0.01 {
		t.Fatalf("expected success_rate ~%.2f, got %.2f", want, stats.SuccessRate)
	}
}
