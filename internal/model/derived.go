package model

import "time"

// TaskStatus is the derived task status vocabulary from §4.4.2.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskEscalated TaskStatus = "escalated"
	TaskWaiting   TaskStatus = "waiting"
	TaskProcessing TaskStatus = "processing"
)

// Task is a projection over events grouped by task_id (§4.4.2). Tasks are
// never stored directly.
type Task struct {
	TaskID      string     `json:"task_id"`
	AgentID     string     `json:"agent_id"`
	ProjectID   string     `json:"project_id,omitempty"`
	Type        string     `json:"type,omitempty"`
	Status      TaskStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     time.Time  `json:"ended_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	CostUSD     float64    `json:"cost_usd"`
	ActionCount int        `json:"action_count"`
	ErrorCount  int        `json:"error_count"`
}

// ActionNode is one node of the action tree assembled in §4.4.3.
type ActionNode struct {
	ActionID    string        `json:"action_id"`
	Name        string        `json:"name,omitempty"`
	Status      string        `json:"status,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMs  *int64        `json:"duration_ms,omitempty"`
	Children    []*ActionNode `json:"children,omitempty"`
}

// ErrorChain is a list of events oldest-first, linked by parent_event_id,
// ending at the event that started the chain (§4.4.3).
type ErrorChain struct {
	Events []*Event `json:"events"`
}

// PlanStepView folds plan_step events into a per-step projection (§4.4.3/§6.6).
type PlanStepView struct {
	StepIndex  int        `json:"step_index"`
	Action     string     `json:"action"`
	Summary    string     `json:"summary,omitempty"`
	Turns      *int       `json:"turns,omitempty"`
	Tokens     *int64     `json:"tokens,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PlanOverlay is the latest plan for a task, overlaid with step progress (§4.4.3).
type PlanOverlay struct {
	Goal     string          `json:"goal,omitempty"`
	Steps    int             `json:"steps"`
	Revision int             `json:"revision"`
	StepView []*PlanStepView `json:"step_view"`
}

// Timeline is the full assembly returned by GET /v1/tasks/{id}/timeline (§4.4.3).
type Timeline struct {
	Events      []*Event      `json:"events"`
	ActionTree  []*ActionNode `json:"action_tree"`
	ErrorChains []*ErrorChain `json:"error_chains"`
	Plan        *PlanOverlay  `json:"plan,omitempty"`
}

// TodoView is one active TODO in an agent's pipeline (§4.4.4).
type TodoView struct {
	TodoID    string    `json:"todo_id"`
	Action    string    `json:"action"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IssueView is one active issue in an agent's pipeline (§4.4.4).
type IssueView struct {
	IssueID   string    `json:"issue_id"`
	Severity  string    `json:"severity,omitempty"`
	Action    string    `json:"action"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pipeline is the per-agent operational view from §4.4.4.
type Pipeline struct {
	AgentID      string          `json:"agent_id"`
	QueueState   map[string]interface{} `json:"queue_state,omitempty"`
	ActiveTodos  []*TodoView     `json:"active_todos"`
	ActiveIssues []*IssueView    `json:"active_issues"`
	Scheduled    map[string]interface{} `json:"scheduled,omitempty"`
}

// FleetPipeline aggregates per-agent pipelines into totals and a drill-down (§4.4.4).
type FleetPipeline struct {
	TotalQueueDepth  int         `json:"total_queue_depth"`
	TotalActiveTodos int         `json:"total_active_todos"`
	TotalIssues      int         `json:"total_issues"`
	Agents           []*Pipeline `json:"agents"`
}
