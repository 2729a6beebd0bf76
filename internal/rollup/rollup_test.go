package rollup_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/rollup"
	"github.com/hiveboard/server/internal/storage"
)

func TestApplyUpdatesAgentBucketCounters(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()
	duration := int64(1500)

	event := &model.Event{
		TenantID: "t1", AgentID: "a1", EventType: model.EventTaskCompleted,
		Timestamp: now, ReceivedAt: now, DurationMs: &duration,
	}
	if err := rollup.Apply(ctx, s, event); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	bucket, err := s.GetOrCreateAgentBucket(ctx, "t1", "a1", model.HourOf(now))
	if err != nil {
		t.Fatalf("GetOrCreateAgentBucket failed: %v", err)
	}
	if bucket.TasksCompleted != 1 {
		t.Fatalf("expected tasks_completed=1, got %d", bucket.TasksCompleted)
	}
	if bucket.TaskDurationSumMs != duration {
		t.Fatalf("expected task_duration_sum_ms=%d, got %d", duration, bucket.TaskDurationSumMs)
	}
}

func TestApplyLLMCallUpdatesModelBucket(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	payload, _ := json.Marshal(map[string]interface{}{
		"name": "generate", "model": "gpt-5", "tokens_in": 100, "tokens_out": 50, "cost": 0.25,
	})
	event := &model.Event{
		TenantID: "t1", AgentID: "a1", EventType: model.EventCustom, Timestamp: now, ReceivedAt: now,
		Payload: model.Payload{Kind: model.PayloadLLMCall, Data: payload},
	}
	if err := rollup.Apply(ctx, s, event); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	agentBucket, err := s.GetOrCreateAgentBucket(ctx, "t1", "a1", model.HourOf(now))
	if err != nil {
		t.Fatalf("GetOrCreateAgentBucket failed: %v", err)
	}
	if agentBucket.LLMCalls != 1 || agentBucket.TokensIn != 100 || agentBucket.TokensOut != 50 {
		t.Fatalf("unexpected agent bucket llm counters: %+v", agentBucket)
	}

	modelBucket, err := s.GetOrCreateModelBucket(ctx, "t1", "gpt-5", model.HourOf(now))
	if err != nil {
		t.Fatalf("GetOrCreateModelBucket failed: %v", err)
	}
	if modelBucket.CallCount != 1 {
		t.Fatalf("expected model bucket call_count=1, got %d", modelBucket.CallCount)
	}
}

func TestRebuildReplaysStoredEvents(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	if _, err := s.InsertEvents(ctx, "t1", []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskCompleted, Timestamp: now, ReceivedAt: now},
		{EventID: "e2", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskFailed, Timestamp: now.Add(time.Minute), ReceivedAt: now},
	}); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	n, err := rollup.Rebuild(ctx, s, "t1")
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events replayed, got %d", n)
	}

	bucket, err := s.GetOrCreateAgentBucket(ctx, "t1", "a1", model.HourOf(now))
	if err != nil {
		t.Fatalf("GetOrCreateAgentBucket failed: %v", err)
	}
	if bucket.TasksCompleted != 1 || bucket.TasksFailed != 1 {
		t.Fatalf("expected rebuild to recompute counters, got %+v", bucket)
	}
}
