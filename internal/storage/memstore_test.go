package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

func newStore(t *testing.T) *storage.MemStore {
	t.Helper()
	return storage.NewMemStore(t.TempDir())
}

func TestInsertEventsDedupesByEventID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	evt := &model.Event{EventID: "evt-1", TenantID: "t1", AgentID: "a1", Timestamp: time.Now()}

	n, err := s.InsertEvents(ctx, "t1", []*model.Event{evt})
	if err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}

	n, err = s.InsertEvents(ctx, "t1", []*model.Event{evt})
	if err != nil {
		t.Fatalf("InsertEvents (dup) failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 inserted on duplicate event_id, got %d", n)
	}
}

func TestGetEventsFiltersByAgent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.InsertEvents(ctx, "t1", []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", Timestamp: now},
		{EventID: "e2", TenantID: "t1", AgentID: "a2", Timestamp: now.Add(time.Second)},
	})
	if err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	events, _, err := s.GetEvents(ctx, storage.EventFilters{TenantID: "t1", AgentID: "a1"}, storage.Page{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "e1" {
		t.Fatalf("expected exactly event e1, got %+v", events)
	}
}

func TestDeleteProjectReassignsEventsAndAgents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.CreateProject(ctx, &model.Project{ProjectID: "default", TenantID: "t1", Slug: model.DefaultProjectSlug}); err != nil {
		t.Fatalf("CreateProject(default) failed: %v", err)
	}
	if err := s.CreateProject(ctx, &model.Project{ProjectID: "p2", TenantID: "t1", Slug: "other"}); err != nil {
		t.Fatalf("CreateProject(p2) failed: %v", err)
	}
	if _, err := s.InsertEvents(ctx, "t1", []*model.Event{
		{EventID: "e1", TenantID: "t1", AgentID: "a1", ProjectID: "p2", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
	if err := s.UpsertProjectAgent(ctx, &model.ProjectAgent{TenantID: "t1", ProjectID: "p2", AgentID: "a1", FirstSeen: time.Now()}); err != nil {
		t.Fatalf("UpsertProjectAgent failed: %v", err)
	}

	if err := s.DeleteProject(ctx, "t1", "p2", "default"); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}

	events, _, err := s.GetEvents(ctx, storage.EventFilters{TenantID: "t1"}, storage.Page{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ProjectID != "default" {
		t.Fatalf("expected the orphaned event reassigned to the default project, got %+v", events)
	}

	rows, err := s.ListProjectAgents(ctx, "t1", "default")
	if err != nil {
		t.Fatalf("ListProjectAgents failed: %v", err)
	}
	if len(rows) != 1 || rows[0].AgentID != "a1" {
		t.Fatalf("expected agent a1 reassigned to the default project, got %+v", rows)
	}

	if _, err := s.GetProject(ctx, "t1", "p2"); err == nil {
		t.Fatal("expected deleted project to be gone")
	}
}

func TestDeleteProjectRejectsUnknownReassignTarget(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreateProject(ctx, &model.Project{ProjectID: "p1", TenantID: "t1", Slug: "p1"}); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if err := s.DeleteProject(ctx, "t1", "p1", "does-not-exist"); err == nil {
		t.Fatal("expected error for an unresolvable reassign_to target")
	}
}

func TestCreateProjectRejectsDuplicateSlug(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.CreateProject(ctx, &model.Project{ProjectID: "p1", TenantID: "t1", Slug: "dup"}); err != nil {
		t.Fatalf("first CreateProject failed: %v", err)
	}
	if err := s.CreateProject(ctx, &model.Project{ProjectID: "p2", TenantID: "t1", Slug: "dup"}); err == nil {
		t.Fatal("expected slug collision to be rejected")
	}
}

func TestPageNormalizeClampsLimit(t *testing.T) {
	p := storage.Page{Limit: 0}.Normalize()
	if p.Limit != storage.DefaultPageLimit {
		t.Fatalf("expected default limit %d, got %d", storage.DefaultPageLimit, p.Limit)
	}
	p = storage.Page{Limit: 10000}.Normalize()
	if p.Limit != storage.MaxPageLimit {
		t.Fatalf("expected clamped limit %d, got %d", storage.MaxPageLimit, p.Limit)
	}
}
