package query

import (
	"context"
	"encoding/json"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// deriveTask implements §4.4.2's status/duration/cost/count rules over one
// task's chronologically-sorted events.
func deriveTask(taskID string, events []*model.Event) *model.Task {
	t := &model.Task{TaskID: taskID}

	var (
		sawCompleted, sawFailed, sawEscalated             bool
		sawApprovalRequested, sawApprovalReceived          bool
		started, ended                                     model.Event
		haveStarted, haveEnded                              bool
	)

	for _, ev := range events {
		if t.AgentID == "" {
			t.AgentID = ev.AgentID
		}
		if t.ProjectID == "" {
			t.ProjectID = ev.ProjectID
		}

		switch ev.EventType {
		case model.EventTaskStarted:
			if !haveStarted || ev.Timestamp.Before(started.Timestamp) {
				started, haveStarted = *ev, true
			}
			if t.Type == "" {
				t.Type = taskTypeFromPayload(ev.Payload)
			}
		case model.EventTaskCompleted:
			sawCompleted = true
			if !haveEnded || ev.Timestamp.After(ended.Timestamp) {
				ended, haveEnded = *ev, true
			}
		case model.EventTaskFailed:
			sawFailed = true
			t.ErrorCount++
			if !haveEnded || ev.Timestamp.After(ended.Timestamp) {
				ended, haveEnded = *ev, true
			}
		case model.EventEscalated:
			sawEscalated = true
		case model.EventApprovalRequested:
			sawApprovalRequested = true
		case model.EventApprovalReceived:
			sawApprovalReceived = true
		case model.EventActionStarted:
			t.ActionCount++
		case model.EventActionFailed:
			t.ErrorCount++
		}

		if ev.Payload.Kind == model.PayloadLLMCall && len(ev.Payload.Data) > 0 {
			var d struct {
				Cost float64 `json:"cost"`
			}
			if json.Unmarshal(ev.Payload.Data, &d) == nil {
				t.CostUSD += d.Cost
			}
		}
	}

	switch {
	case sawCompleted:
		t.Status = model.TaskCompleted
	case sawFailed:
		t.Status = model.TaskFailed
	case sawEscalated:
		t.Status = model.TaskEscalated
	case sawApprovalRequested && !sawApprovalReceived:
		t.Status = model.TaskWaiting
	default:
		t.Status = model.TaskProcessing
	}

	if haveStarted {
		t.StartedAt = started.Timestamp
	}
	if haveEnded {
		t.EndedAt = ended.Timestamp
		if haveStarted {
			t.DurationMs = ended.Timestamp.Sub(started.Timestamp).Milliseconds()
		}
	}
	return t
}

func taskTypeFromPayload(p model.Payload) string {
	if len(p.Data) == 0 {
		return ""
	}
	var d struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(p.Data, &d) == nil {
		return d.Type
	}
	return ""
}

// GetTask assembles the derived view for one task (§4.4.2).
func (e *Engine) GetTask(ctx context.Context, tenantID, taskID string) (*model.Task, error) {
	events, err := e.Store.GetTaskEvents(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	sortEventsByTime(events)
	return deriveTask(taskID, events), nil
}

// TaskFilters scopes ListTasks (§4.4.2/§6.3).
type TaskFilters struct {
	AgentID     string
	ProjectID   string
	Environment string
	Status      model.TaskStatus
}

// ListTasks groups a tenant's events by task_id and derives a Task for
// each group, matching TaskFilters (§6.3's list_tasks contract). This is
// O(events) per call; a production deployment with very large tenants
// would maintain a task_id index, but the abstract storage contract only
// promises raw event scans (§4.3).
func (e *Engine) ListTasks(ctx context.Context, tenantID string, filters TaskFilters, page storage.Page) ([]*model.Task, error) {
	var events []*model.Event
	var cursor storage.Cursor
	for {
		batch, next, err := e.Store.GetEvents(ctx, storage.EventFilters{
			TenantID: tenantID, AgentID: filters.AgentID, ProjectID: filters.ProjectID, Environment: filters.Environment,
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

	byTask := make(map[string][]*model.Event)
	var order []string
	for _, ev := range events {
		if ev.TaskID == "" {
			continue
		}
		if _, seen := byTask[ev.TaskID]; !seen {
			order = append(order, ev.TaskID)
		}
		byTask[ev.TaskID] = append(byTask[ev.TaskID], ev)
	}

	var tasks []*model.Task
	for _, taskID := range order {
		evts := byTask[taskID]
		sortEventsByTime(evts)
		t := deriveTask(taskID, evts)
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		tasks = append(tasks, t)
	}

	page = page.Normalize()
	if len(tasks) > page.Limit {
		tasks = tasks[:page.Limit]
	}
	return tasks, nil
}
