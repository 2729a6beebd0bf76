package query

import (
	"context"
	"encoding/json"

	"github.com/hiveboard/server/internal/model"
)

// GetTimeline assembles the full §4.4.3 view for one task: the
// chronological event stream, the action tree, error chains rooted at
// retry/escalation events, and the latest plan overlay.
func (e *Engine) GetTimeline(ctx context.Context, tenantID, taskID string) (*model.Timeline, error) {
	events, err := e.Store.GetTaskEvents(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	sortEventsByTime(events)

	return &model.Timeline{
		Events:      events,
		ActionTree:  buildActionTree(events),
		ErrorChains: buildErrorChains(events),
		Plan:        buildPlanOverlay(events),
	}, nil
}

// buildActionTree groups events by action_id and nests children under
// their parent_action_id (§4.4.3).
func buildActionTree(events []*model.Event) []*model.ActionNode {
	nodes := make(map[string]*model.ActionNode)
	parentOf := make(map[string]string)
	var order []string

	for _, ev := range events {
		if ev.ActionID == "" {
			continue
		}
		node, ok := nodes[ev.ActionID]
		if !ok {
			node = &model.ActionNode{ActionID: ev.ActionID}
			nodes[ev.ActionID] = node
			order = append(order, ev.ActionID)
			if ev.ParentActionID != "" {
				parentOf[ev.ActionID] = ev.ParentActionID
			}
		}

		switch ev.EventType {
		case model.EventActionStarted:
			ts := ev.Timestamp
			node.StartedAt = &ts
			node.Status = "started"
			node.Name = ev.Payload.Summary
		case model.EventActionCompleted:
			ts := ev.Timestamp
			node.CompletedAt = &ts
			node.Status = "completed"
			node.DurationMs = ev.DurationMs
		case model.EventActionFailed:
			ts := ev.Timestamp
			node.CompletedAt = &ts
			node.Status = "failed"
			node.DurationMs = ev.DurationMs
		}
	}

	var roots []*model.ActionNode
	for _, actionID := range order {
		node := nodes[actionID]
		if parent, ok := parentOf[actionID]; ok {
			if parentNode, ok := nodes[parent]; ok {
				parentNode.Children = append(parentNode.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// buildErrorChains walks parent_event_id backward from every
// retry_started/escalated event to its root cause, per §4.4.3.
func buildErrorChains(events []*model.Event) []*model.ErrorChain {
	byID := make(map[string]*model.Event, len(events))
	for _, ev := range events {
		byID[ev.EventID] = ev
	}

	var chains []*model.ErrorChain
	for _, ev := range events {
		if ev.EventType != model.EventRetryStarted && ev.EventType != model.EventEscalated {
			continue
		}

		var chain []*model.Event
		cur := ev
		seen := map[string]bool{}
		for cur != nil && !seen[cur.EventID] {
			seen[cur.EventID] = true
			chain = append(chain, cur)
			if cur.ParentEventID == "" {
				break
			}
			cur = byID[cur.ParentEventID]
		}
		// chain was built newest-first; reverse to oldest-first.
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		chains = append(chains, &model.ErrorChain{Events: chain})
	}
	return chains
}

// buildPlanOverlay finds the latest plan_created event and folds
// plan_step events into per-step progress (§4.4.3).
func buildPlanOverlay(events []*model.Event) *model.PlanOverlay {
	var latestPlan *model.Event
	stepsByIndex := make(map[int]*model.PlanStepView)

	for _, ev := range events {
		if ev.Payload.Kind == model.PayloadPlanCreated {
			if latestPlan == nil || ev.Timestamp.After(latestPlan.Timestamp) {
				latestPlan = ev
			}
		}
		if ev.Payload.Kind == model.PayloadPlanStep && len(ev.Payload.Data) > 0 {
			var d struct {
				StepIndex int    `json:"step_index"`
				Action    string `json:"action"`
				Turns     *int   `json:"turns"`
				Tokens    *int64 `json:"tokens"`
			}
			if json.Unmarshal(ev.Payload.Data, &d) == nil {
				existing, ok := stepsByIndex[d.StepIndex]
				if !ok || ev.Timestamp.After(existing.UpdatedAt) {
					stepsByIndex[d.StepIndex] = &model.PlanStepView{
						StepIndex: d.StepIndex,
						Action:    d.Action,
						Summary:   ev.Payload.Summary,
						Turns:     d.Turns,
						Tokens:    d.Tokens,
						UpdatedAt: ev.Timestamp,
					}
				}
			}
		}
	}

	if latestPlan == nil {
		return nil
	}

	var plan struct {
		Goal     string `json:"goal"`
		Steps    int    `json:"steps"`
		Revision int    `json:"revision"`
	}
	_ = json.Unmarshal(latestPlan.Payload.Data, &plan)

	overlay := &model.PlanOverlay{Goal: plan.Goal, Steps: plan.Steps, Revision: plan.Revision}
	for i := 0; i < plan.Steps; i++ {
		if step, ok := stepsByIndex[i]; ok {
			overlay.StepView = append(overlay.StepView, step)
		}
	}
	return overlay
}
