package query

import (
	"context"
	"encoding/json"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// GetPipeline derives one agent's operational view (§4.4.4): latest queue
// snapshot, active TODOs, active issues, and the latest scheduled event.
func (e *Engine) GetPipeline(ctx context.Context, tenantID, agentID string) (*model.Pipeline, error) {
	var events []*model.Event
	var cursor storage.Cursor
	for {
		batch, next, err := e.Store.GetEvents(ctx, storage.EventFilters{TenantID: tenantID, AgentID: agentID}, storage.Page{Cursor: cursor, Limit: storage.MaxPageLimit})
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
		if next == "" || len(batch) == 0 {
			break
		}
		cursor = next
	}
	sortEventsByTime(events)
	return derivePipeline(agentID, events), nil
}

func derivePipeline(agentID string, events []*model.Event) *model.Pipeline {
	p := &model.Pipeline{AgentID: agentID}

	todos := make(map[string]*model.TodoView)
	var todoOrder []string
	issues := make(map[string]*model.IssueView)
	var issueOrder []string

	for _, ev := range events {
		switch ev.Payload.Kind {
		case model.PayloadQueueSnapshot:
			var snap map[string]interface{}
			if json.Unmarshal(ev.Payload.Data, &snap) == nil {
				p.QueueState = snap
			}
		case model.PayloadScheduled:
			var sched map[string]interface{}
			if json.Unmarshal(ev.Payload.Data, &sched) == nil {
				p.Scheduled = sched
			}
		case model.PayloadTodo:
			var d struct {
				TodoID string `json:"todo_id"`
				Action string `json:"action"`
			}
			if json.Unmarshal(ev.Payload.Data, &d) != nil || d.TodoID == "" {
				continue
			}
			if _, seen := todos[d.TodoID]; !seen {
				todoOrder = append(todoOrder, d.TodoID)
			}
			if d.Action == "completed" || d.Action == "dismissed" {
				delete(todos, d.TodoID)
				continue
			}
			todos[d.TodoID] = &model.TodoView{TodoID: d.TodoID, Action: d.Action, Summary: ev.Payload.Summary, UpdatedAt: ev.Timestamp}
		case model.PayloadIssue:
			var d struct {
				IssueID  string `json:"issue_id"`
				Severity string `json:"severity"`
				Action   string `json:"action"`
			}
			if json.Unmarshal(ev.Payload.Data, &d) != nil {
				continue
			}
			key := d.IssueID
			if key == "" {
				key = ev.Payload.Summary
			}
			if key == "" {
				continue
			}
			if _, seen := issues[key]; !seen {
				issueOrder = append(issueOrder, key)
			}
			if d.Action == "resolved" {
				delete(issues, key)
				continue
			}
			issues[key] = &model.IssueView{IssueID: key, Severity: d.Severity, Action: d.Action, Summary: ev.Payload.Summary, UpdatedAt: ev.Timestamp}
		}
	}

	for _, id := range todoOrder {
		if t, ok := todos[id]; ok {
			p.ActiveTodos = append(p.ActiveTodos, t)
		}
	}
	for _, id := range issueOrder {
		if i, ok := issues[id]; ok {
			p.ActiveIssues = append(p.ActiveIssues, i)
		}
	}
	return p
}

// GetFleetPipeline aggregates every agent's pipeline into totals and a
// per-agent drill-down (§4.4.4).
func (e *Engine) GetFleetPipeline(ctx context.Context, tenantID string) (*model.FleetPipeline, error) {
	agents, err := e.Store.ListAgents(ctx, tenantID, "", "", "")
	if err != nil {
		return nil, err
	}

	fleet := &model.FleetPipeline{}
	for _, a := range agents {
		p, err := e.GetPipeline(ctx, tenantID, a.AgentID)
		if err != nil {
			continue
		}
		if depth, ok := p.QueueState["depth"].(float64); ok {
			fleet.TotalQueueDepth += int(depth)
		}
		fleet.TotalActiveTodos += len(p.ActiveTodos)
		fleet.TotalIssues += len(p.ActiveIssues)
		fleet.Agents = append(fleet.Agents, p)
	}
	return fleet, nil
}
