package query

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// MetricsRange bounds a metrics/insights query.
type MetricsRange struct {
	Since time.Time
	Until time.Time
}

// MetricPoint is one hourly bucket in a timeseries response.
type MetricPoint struct {
	Hour           time.Time `json:"hour"`
	TasksCompleted int64     `json:"tasks_completed"`
	TasksFailed    int64     `json:"tasks_failed"`
	LLMCalls       int64     `json:"llm_calls"`
	CostUSD        float64   `json:"cost_usd"`
	ErrorCount     int64     `json:"error_count"`
}

// GetMetrics sums agent buckets into an hourly timeseries, filling gaps
// with zero-valued points for chart continuity (§4.5 read path).
func (e *Engine) GetMetrics(ctx context.Context, tenantID, agentID string, r MetricsRange) ([]MetricPoint, error) {
	buckets, err := e.Store.ListAgentBuckets(ctx, storage.BucketFilters{TenantID: tenantID, Subject: agentID, Since: r.Since, Until: r.Until})
	if err != nil {
		return nil, err
	}

	byHour := make(map[time.Time]*MetricPoint)
	for _, b := range buckets {
		p, ok := byHour[b.Hour]
		if !ok {
			p = &MetricPoint{Hour: b.Hour}
			byHour[b.Hour] = p
		}
		p.TasksCompleted += b.TasksCompleted
		p.TasksFailed += b.TasksFailed
		p.LLMCalls += b.LLMCalls
		p.CostUSD += b.CostUSD
		for _, c := range b.ErrorsByType {
			p.ErrorCount += c
		}
	}

	return fillHourlyGaps(byHour, r), nil
}

func fillHourlyGaps(byHour map[time.Time]*MetricPoint, r MetricsRange) []MetricPoint {
	since, until := model.HourOf(r.Since), model.HourOf(r.Until)
	if until.Before(since) {
		since, until = until, since
	}

	var out []MetricPoint
	for h := since; !h.After(until); h = h.Add(time.Hour) {
		if p, ok := byHour[h]; ok {
			out = append(out, *p)
		} else {
			out = append(out, MetricPoint{Hour: h})
		}
	}
	return out
}

// CostGroup is one row of a cost-summary response (§6.7, example in §8.4).
type CostGroup struct {
	Group string  `json:"group"`
	Cost  float64 `json:"cost"`
	Calls int64   `json:"calls"`
}

// GroupBy names the dimension a cost summary is grouped on.
type GroupBy string

const (
	GroupByModel GroupBy = "model"
	GroupByAgent GroupBy = "agent"
)

// GetCostSummary sums model or agent buckets in range, grouped by the
// requested dimension, sorted by cost descending (§8.4's worked example).
func (e *Engine) GetCostSummary(ctx context.Context, tenantID string, groupBy GroupBy, r MetricsRange) ([]CostGroup, error) {
	totals := make(map[string]*CostGroup)

	switch groupBy {
	case GroupByModel:
		buckets, err := e.Store.ListModelBuckets(ctx, storage.BucketFilters{TenantID: tenantID, Since: r.Since, Until: r.Until})
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			g, ok := totals[b.Model]
			if !ok {
				g = &CostGroup{Group: b.Model}
				totals[b.Model] = g
			}
			g.Cost += b.CostUSD
			g.Calls += b.CallCount
		}
	default: // GroupByAgent
		buckets, err := e.Store.ListAgentBuckets(ctx, storage.BucketFilters{TenantID: tenantID, Since: r.Since, Until: r.Until})
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			g, ok := totals[b.AgentID]
			if !ok {
				g = &CostGroup{Group: b.AgentID}
				totals[b.AgentID] = g
			}
			g.Cost += b.CostUSD
			g.Calls += b.LLMCalls
		}
	}

	out := make([]CostGroup, 0, len(totals))
	for _, g := range totals {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cost > out[j].Cost })
	return out, nil
}

// CostCall is one ranked LLM call row (§6.7 "biggest calls"-style views).
type CostCall struct {
	AgentID   string    `json:"agent_id"`
	Model     string    `json:"model,omitempty"`
	Name      string    `json:"name,omitempty"`
	Cost      float64   `json:"cost"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Timestamp time.Time `json:"timestamp"`
}

// GetCostCalls returns the most expensive individual llm_call events in
// range, most expensive first, capped at limit.
func (e *Engine) GetCostCalls(ctx context.Context, tenantID string, r MetricsRange, limit int) ([]CostCall, error) {
	var events []*model.Event
	var cursor storage.Cursor
	for {
		batch, next, err := e.Store.GetEvents(ctx, storage.EventFilters{
			TenantID: tenantID, EventTypes: []model.EventType{model.EventCustom}, Since: r.Since, Until: r.Until,
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

	var calls []CostCall
	for _, ev := range events {
		if ev.Payload.Kind != model.PayloadLLMCall || len(ev.Payload.Data) == 0 {
			continue
		}
		var d struct {
			Name      string  `json:"name"`
			Model     string  `json:"model"`
			Cost      float64 `json:"cost"`
			TokensIn  int64   `json:"tokens_in"`
			TokensOut int64   `json:"tokens_out"`
		}
		if json.Unmarshal(ev.Payload.Data, &d) == nil {
			calls = append(calls, CostCall{
				AgentID: ev.AgentID, Model: d.Model, Name: d.Name, Cost: d.Cost,
				TokensIn: d.TokensIn, TokensOut: d.TokensOut, Timestamp: ev.Timestamp,
			})
		}
	}

	sort.Slice(calls, func(i, j int) bool { return calls[i].Cost > calls[j].Cost })
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

// Insights is the composed ranked-view response from §4.5's read path.
type Insights struct {
	MostExpensiveAgent   string             `json:"most_expensive_agent,omitempty"`
	AgentCostShare       []CostGroup        `json:"agent_cost_share"`
	ErrorTimeseries      []MetricPoint      `json:"error_timeseries"`
	PromptSizeRanking    []CostCall         `json:"prompt_size_ranking,omitempty"`
	ActionUsage          map[string]int64   `json:"action_usage"`
}

// GetInsights composes the ranked views named in §4.5's read path:
// most-expensive agent, per-agent cost share, an error timeseries, and
// action-name usage distribution, aggregated from hourly buckets.
func (e *Engine) GetInsights(ctx context.Context, tenantID string, r MetricsRange) (*Insights, error) {
	costByAgent, err := e.GetCostSummary(ctx, tenantID, GroupByAgent, r)
	if err != nil {
		return nil, err
	}
	metrics, err := e.GetMetrics(ctx, tenantID, "", r)
	if err != nil {
		return nil, err
	}

	buckets, err := e.Store.ListAgentBuckets(ctx, storage.BucketFilters{TenantID: tenantID, Since: r.Since, Until: r.Until})
	if err != nil {
		return nil, err
	}
	actionUsage := make(map[string]int64)
	for _, b := range buckets {
		for name, count := range b.ActionNameCounts {
			actionUsage[name] += count
		}
	}

	insights := &Insights{AgentCostShare: costByAgent, ErrorTimeseries: metrics, ActionUsage: actionUsage}
	if len(costByAgent) > 0 {
		insights.MostExpensiveAgent = costByAgent[0].Group
	}
	return insights, nil
}
