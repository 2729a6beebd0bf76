// Package query is the derived-state engine (§4.4): agent status, task
// projection, timeline assembly, pipeline derivation, and the
// pre-aggregated insights reads, all composed on top of storage.Backend's
// raw primitives. None of these views are persisted.
package query

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// Engine composes derived views over a storage.Backend.
type Engine struct {
	Store storage.Backend
}

// New builds a query Engine.
func New(store storage.Backend) *Engine {
	return &Engine{Store: store}
}

// AgentView is an agent row enriched with its derived status (§4.4.1).
type AgentView struct {
	*model.Agent
	Status              model.DerivedStatus `json:"status"`
	HeartbeatAgeSeconds float64             `json:"heartbeat_age_seconds"`
}

// Stats1h is the §4.4.1 "stats_1h" rollup: tasks completed/failed, success
// rate, avg duration, total cost, computed over the last hour of events.
type Stats1h struct {
	TasksCompleted int64   `json:"tasks_completed"`
	TasksFailed    int64   `json:"tasks_failed"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// ListAgents returns agent views with derived status for a tenant (§6.2).
func (e *Engine) ListAgents(ctx context.Context, tenantID, projectID, environment, group string) ([]*AgentView, error) {
	agents, err := e.Store.ListAgents(ctx, tenantID, projectID, environment, group)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]*AgentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, &AgentView{Agent: a, Status: a.DeriveStatus(now), HeartbeatAgeSeconds: a.HeartbeatAgeSeconds(now)})
	}
	return out, nil
}

// GetAgent returns one agent's derived view.
func (e *Engine) GetAgent(ctx context.Context, tenantID, agentID string) (*AgentView, error) {
	a, err := e.Store.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &AgentView{Agent: a, Status: a.DeriveStatus(now), HeartbeatAgeSeconds: a.HeartbeatAgeSeconds(now)}, nil
}

// Stats1h scans the last hour of an agent's events to compute §4.4.1's
// rollup, preferring a direct event scan over bucket reads since the
// trailing 60-minute window does not line up with hourly bucket boundaries.
func (e *Engine) Stats1h(ctx context.Context, tenantID, agentID string) (*Stats1h, error) {
	now := time.Now().UTC()
	var events []*model.Event
	var cursor storage.Cursor
	for {
		batch, next, err := e.Store.GetEvents(ctx, storage.EventFilters{
			TenantID: tenantID, AgentID: agentID, Since: now.Add(-time.Hour),
		}, storage.Page{Cursor: cursor, Limit: storage.MaxPageLimit})
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
		if next == "" || len(batch) == 0 {
			break
		}
		cursor = next
	}

	stats := &Stats1h{}
	var durationSum int64
	var durationCount int64
	for _, ev := range events {
		switch ev.EventType {
		case model.EventTaskCompleted:
			stats.TasksCompleted++
			if ev.DurationMs != nil {
				durationSum += *ev.DurationMs
				durationCount++
			}
		case model.EventTaskFailed:
			stats.TasksFailed++
			if ev.DurationMs != nil {
				durationSum += *ev.DurationMs
				durationCount++
			}
		}
		if ev.Payload.Kind == model.PayloadLLMCall {
			var d struct {
				Cost float64 `json:"cost"`
			}
			if json.Unmarshal(ev.Payload.Data, &d) == nil {
				stats.TotalCostUSD += d.Cost
			}
		}
	}

	total := stats.TasksCompleted + stats.TasksFailed
	if total > 0 {
		stats.SuccessRate = float64(stats.TasksCompleted) / float64(total) * 100
	}
	if durationCount > 0 {
		stats.AvgDurationMs = float64(durationSum) / float64(durationCount)
	}
	return stats, nil
}

// sortEventsByTime is shared by task/timeline derivation.
func sortEventsByTime(events []*model.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
}
