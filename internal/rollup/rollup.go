// Package rollup applies the per-event-type/per-payload-kind increments
// (§4.5, §6.6) to the hourly agent and model buckets. Apply is shared
// between the ingest pipeline (stage 10, one event at a time) and the
// rebuild path (replaying every stored event for a tenant).
package rollup

import (
	"context"
	"encoding/json"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// llmCallData is the well-known shape of payload.data when payload.kind is
// "llm_call" (§6.6's table): name, model are required by the advisory
// convention check; the rest are optional.
type llmCallData struct {
	Name      string  `json:"name"`
	Model     string  `json:"model"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	Cost      float64 `json:"cost"`
	DurationMs int64  `json:"duration_ms"`
	PromptPreview string `json:"prompt_preview"`
}

// Apply updates the agent bucket (and, for llm_call events, the model
// bucket) for a single accepted event. Buckets are fetched/created and
// saved through store, so Apply is safe to call from both ingest and the
// rebuild path without duplicating bucket lookup logic.
func Apply(ctx context.Context, store storage.Backend, e *model.Event) error {
	hour := model.HourOf(e.Timestamp)

	agentBucket, err := store.GetOrCreateAgentBucket(ctx, e.TenantID, e.AgentID, hour)
	if err != nil {
		return err
	}
	applyAgentCounters(agentBucket, e)

	var llm *llmCallData
	if e.Payload.Kind == model.PayloadLLMCall && len(e.Payload.Data) > 0 {
		var data llmCallData
		if json.Unmarshal(e.Payload.Data, &data) == nil {
			llm = &data
			applyLLMToAgentBucket(agentBucket, &data)
		}
	}

	agentBucket.LastUpdated = e.ReceivedAt
	if err := store.SaveAgentBucket(ctx, agentBucket); err != nil {
		return err
	}

	if llm != nil && llm.Model != "" {
		modelBucket, err := store.GetOrCreateModelBucket(ctx, e.TenantID, llm.Model, hour)
		if err != nil {
			return err
		}
		applyLLMToModelBucket(modelBucket, e, llm)
		modelBucket.LastUpdated = e.ReceivedAt
		if err := store.SaveModelBucket(ctx, modelBucket); err != nil {
			return err
		}
	}

	return nil
}

func applyAgentCounters(b *model.AgentHourBucket, e *model.Event) {
	switch e.EventType {
	case model.EventTaskStarted:
		b.TasksStarted++
	case model.EventTaskCompleted:
		b.TasksCompleted++
		addDuration(&b.TaskDurationSumMs, e.DurationMs)
	case model.EventTaskFailed:
		b.TasksFailed++
		addDuration(&b.TaskDurationSumMs, e.DurationMs)
		bumpError(b, e)
	case model.EventActionStarted:
		b.ActionsStarted++
		bumpActionName(b, e)
	case model.EventActionCompleted:
		b.ActionsCompleted++
	case model.EventActionFailed:
		b.ActionsFailed++
		bumpError(b, e)
	case model.EventRetryStarted:
		b.RetryCount++
	case model.EventEscalated:
		b.EscalationCount++
	case model.EventApprovalRequested:
		b.ApprovalCount++
	}

	if e.Payload.Kind == model.PayloadIssue {
		b.IssueCount++
	}
}

func addDuration(sum *int64, d *int64) {
	if d != nil {
		*sum += *d
	}
}

func bumpActionName(b *model.AgentHourBucket, e *model.Event) {
	if e.Payload.Summary == "" {
		return
	}
	if b.ActionNameCounts == nil {
		b.ActionNameCounts = make(map[string]int64)
	}
	b.ActionNameCounts[e.Payload.Summary]++
}

func bumpError(b *model.AgentHourBucket, e *model.Event) {
	if e.ErrorType == "" {
		return
	}
	if b.ErrorsByType == nil {
		b.ErrorsByType = make(map[string]int64)
	}
	b.ErrorsByType[e.ErrorType]++

	category := errorCategory(e.ErrorType)
	if b.ErrorsByCategory == nil {
		b.ErrorsByCategory = make(map[string]int64)
	}
	b.ErrorsByCategory[category]++
}

// errorCategory buckets free-form error_type strings into a coarse set for
// the insights endpoints (§6.7); unrecognized values fall into "other".
func errorCategory(errorType string) string {
	switch errorType {
	case "timeout", "deadline_exceeded":
		return "timeout"
	case "rate_limited", "quota_exceeded":
		return "rate_limit"
	case "validation_error", "bad_request":
		return "validation"
	case "auth_error", "unauthorized", "forbidden":
		return "auth"
	default:
		return "other"
	}
}

func applyLLMToAgentBucket(b *model.AgentHourBucket, d *llmCallData) {
	b.LLMCalls++
	b.TokensIn += d.TokensIn
	b.TokensOut += d.TokensOut
	b.CostUSD += d.Cost

	if d.Model != "" {
		if b.ModelCounts == nil {
			b.ModelCounts = make(map[string]int64)
		}
		b.ModelCounts[d.Model]++
	}
	if d.Name != "" {
		if b.CallNameCost == nil {
			b.CallNameCost = make(map[string]float64)
		}
		b.CallNameCost[d.Name] += d.Cost
	}
	if n := len(d.PromptPreview); n > b.BiggestPromptChars {
		b.BiggestPromptChars = n
	}
}

func applyLLMToModelBucket(b *model.ModelHourBucket, e *model.Event, d *llmCallData) {
	b.CallCount++
	b.TokensIn += d.TokensIn
	b.TokensOut += d.TokensOut
	if d.TokensIn > b.MaxTokensIn {
		b.MaxTokensIn = d.TokensIn
	}
	b.CostUSD += d.Cost
	b.DurationSumMs += d.DurationMs

	if n := len(d.PromptPreview); n > b.BiggestPromptChars {
		b.BiggestPromptChars = n
		b.BiggestPromptAgent = e.AgentID
		b.BiggestPromptAt = e.Timestamp
	}
	if b.AgentCounts == nil {
		b.AgentCounts = make(map[string]int64)
	}
	b.AgentCounts[e.AgentID]++
	if d.Name != "" {
		if b.CallNameCounts == nil {
			b.CallNameCounts = make(map[string]int64)
		}
		b.CallNameCounts[d.Name]++
	}
}

// Rebuild clears a tenant's aggregates and replays every stored event
// through Apply, implementing the admin rebuild path (§4.5).
func Rebuild(ctx context.Context, store storage.Backend, tenantID string) (int, error) {
	if err := store.ClearAggregates(ctx, tenantID); err != nil {
		return 0, err
	}

	applied := 0
	var cursor storage.Cursor
	for {
		page := storage.Page{Cursor: cursor, Limit: storage.MaxPageLimit}
		events, next, err := store.GetEvents(ctx, storage.EventFilters{TenantID: tenantID}, page)
		if err != nil {
			return applied, err
		}
		for _, e := range events {
			if err := Apply(ctx, store, e); err != nil {
				return applied, err
			}
			applied++
		}
		if next == "" || len(events) == 0 {
			break
		}
		cursor = next
	}
	return applied, nil
}
