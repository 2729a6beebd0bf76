package model

import "time"

// AgentHourBucket is the pre-aggregated agent bucket from §3.1 / §4.5,
// keyed by (tenant_id, agent_id, hour).
type AgentHourBucket struct {
	TenantID string    `json:"tenant_id"`
	AgentID  string    `json:"agent_id"`
	Hour     time.Time `json:"hour"`

	TasksStarted      int64 `json:"tasks_started"`
	TasksCompleted    int64 `json:"tasks_completed"`
	TasksFailed       int64 `json:"tasks_failed"`
	TaskDurationSumMs int64 `json:"task_duration_sum_ms"`

	ActionsStarted   int64            `json:"actions_started"`
	ActionsCompleted int64            `json:"actions_completed"`
	ActionsFailed    int64            `json:"actions_failed"`
	ActionNameCounts map[string]int64 `json:"action_name_counts,omitempty"`

	LLMCalls     int64            `json:"llm_calls"`
	TokensIn     int64            `json:"tokens_in"`
	TokensOut    int64            `json:"tokens_out"`
	CostUSD      float64          `json:"cost_usd"`
	ModelCounts  map[string]int64 `json:"model_counts,omitempty"`
	CallNameCost map[string]float64 `json:"call_name_cost,omitempty"`

	RetryCount      int64 `json:"retry_count"`
	EscalationCount int64 `json:"escalation_count"`
	ApprovalCount   int64 `json:"approval_count"`
	IssueCount      int64 `json:"issue_count"`

	ErrorsByType     map[string]int64 `json:"errors_by_type,omitempty"`
	ErrorsByCategory map[string]int64 `json:"errors_by_category,omitempty"`

	BiggestPromptChars int       `json:"biggest_prompt_chars"`
	BiggestPromptAt    time.Time `json:"biggest_prompt_at,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// ModelHourBucket is the pre-aggregated per-model bucket from §3.1 / §4.5,
// keyed by (tenant_id, model, hour).
type ModelHourBucket struct {
	TenantID string    `json:"tenant_id"`
	Model    string    `json:"model"`
	Hour     time.Time `json:"hour"`

	CallCount   int64   `json:"call_count"`
	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	MaxTokensIn int64   `json:"max_tokens_in"`
	CostUSD     float64 `json:"cost_usd"`
	DurationSumMs int64 `json:"duration_sum_ms"`

	BiggestPromptChars int       `json:"biggest_prompt_chars"`
	BiggestPromptAgent string    `json:"biggest_prompt_agent,omitempty"`
	BiggestPromptAt    time.Time `json:"biggest_prompt_at,omitempty"`

	AgentCounts   map[string]int64 `json:"agent_counts,omitempty"`
	CallNameCounts map[string]int64 `json:"call_name_counts,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}
