package retention

import (
	"context"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

func TestCompactHeartbeatsKeepsOnePerAgentHour(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	if _, err := s.InsertEvents(ctx, "t1", []*model.Event{
		{EventID: "h1", TenantID: "t1", AgentID: "a1", EventType: model.EventHeartbeat, Timestamp: old},
		{EventID: "h2", TenantID: "t1", AgentID: "a1", EventType: model.EventHeartbeat, Timestamp: old.Add(time.Minute)},
		{EventID: "h3", TenantID: "t1", AgentID: "a1", EventType: model.EventHeartbeat, Timestamp: old.Add(2 * time.Minute)},
	}); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	sweeper := New(s, 0, nil)
	removed, err := sweeper.CompactHeartbeats(ctx, "t1", time.Now())
	if err != nil {
		t.Fatalf("CompactHeartbeats failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 of 3 same-hour heartbeats removed, got %d", removed)
	}

	events, _, err := s.GetEvents(ctx, storage.EventFilters{TenantID: "t1", EventTypes: []model.EventType{model.EventHeartbeat}}, storage.Page{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 surviving heartbeat, got %d", len(events))
	}
}

func TestCompactHeartbeatsIgnoresRecentHeartbeats(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	if _, err := s.InsertEvents(ctx, "t1", []*model.Event{
		{EventID: "h1", TenantID: "t1", AgentID: "a1", EventType: model.EventHeartbeat, Timestamp: now},
		{EventID: "h2", TenantID: "t1", AgentID: "a1", EventType: model.EventHeartbeat, Timestamp: now.Add(time.Minute)},
	}); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	sweeper := New(s, 0, nil)
	removed, err := sweeper.CompactHeartbeats(ctx, "t1", now)
	if err != nil {
		t.Fatalf("CompactHeartbeats failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected recent heartbeats to survive compaction, removed %d", removed)
	}
}

func TestRunOnceDeletesEventsPastTenantRetentionWindow(t *testing.T) {
	s := storage.NewMemStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	if err := s.CreateTenant(ctx, &model.Tenant{TenantID: "t1", Name: "Acme", Slug: "acme", Plan: model.TierFree}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	stale := now.Add(-(model.TierFree.RetentionWindow() + 24*time.Hour))
	if _, err := s.InsertEvents(ctx, "t1", []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskCompleted, Timestamp: stale},
		{EventID: "e2", TenantID: "t1", AgentID: "a1", EventType: model.EventTaskCompleted, Timestamp: now},
	}); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	sweeper := New(s, 0, nil)
	sweeper.RunOnce(ctx)

	events, _, err := s.GetEvents(ctx, storage.EventFilters{TenantID: "t1"}, storage.Page{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "e2" {
		t.Fatalf("expected only the recent event to survive retention, got %+v", events)
	}
}

func TestNewDefaultsIntervalToDaily(t *testing.T) {
	sweeper := New(storage.NewMemStore(t.TempDir()), 0, nil)
	if sweeper.Interval != 24*time.Hour {
		t.Fatalf("expected default interval of 24h, got %s", sweeper.Interval)
	}
}
