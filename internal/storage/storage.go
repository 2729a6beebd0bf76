// Package storage defines the abstract StorageBackend contract (§4.3) and
// the in-memory reference implementation (§2 component B). A future SQL
// implementation shares the same interface and, by extension, the same
// test suite.
//
// The interface is deliberately split into per-table, single-purpose
// methods — each maps to one SQL statement or a small transactional group,
// as required by §4.3. Derived views (tasks, timelines, metrics, cost,
// pipeline) are NOT part of this interface: they are computed by
// internal/query on top of the raw reads exposed here (GetEvents,
// ListAgents, ListAgentBuckets/ListModelBuckets), matching §4.4's framing that those views are
// "computed from events + cache + rollups", never stored directly. This
// keeps the storage contract focused on mutation and raw scans, the only
// things a SQL backend needs to implement distinctly from the reference one.
package storage

import (
	"context"
	"time"

	"github.com/hiveboard/server/internal/model"
)

// EventFilters scopes a raw event scan. Zero values mean "no filter".
type EventFilters struct {
	TenantID    string
	AgentID     string
	TaskID      string
	ProjectID   string
	Environment string
	Group       string
	EventTypes  []model.EventType
	MinSeverity model.Severity
	Since       time.Time
	Until       time.Time
}

// Cursor is an opaque pagination token encoding (timestamp, event_id) per §4.4.5.
type Cursor string

// Page bounds a cursor-paginated read.
type Page struct {
	Cursor Cursor
	Limit  int
}

// DefaultPageLimit and MaxPageLimit implement §4.4.5.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 200
)

// Normalize clamps Limit to the documented defaults/bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// BucketTable names the two rollup tables.
type BucketTable string

const (
	TableAgentBuckets BucketTable = "agent_hour"
	TableModelBuckets BucketTable = "model_hour"
)

// BucketFilters scopes a rollup bucket scan.
type BucketFilters struct {
	TenantID string
	Subject  string // agent_id or model, depending on table
	Since    time.Time
	Until    time.Time
}

// Backend is the abstract storage contract (§4.3).
type Backend interface {
	// Tenant / key
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]*model.Tenant, error)
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUser(ctx context.Context, tenantID, userID string) (*model.User, error)
	CreateInvite(ctx context.Context, inv *model.Invite) error
	GetInviteByToken(ctx context.Context, token string) (*model.Invite, error)
	GetPendingInviteByEmail(ctx context.Context, email string) (*model.Invite, error)
	ListInvites(ctx context.Context, tenantID string) ([]*model.Invite, error)
	DeleteInvite(ctx context.Context, tenantID, inviteID string) error

	CreateAPIKey(ctx context.Context, k *model.APIKey) error
	Authenticate(ctx context.Context, keyHash string) (*model.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string, when time.Time) error
	ListAPIKeys(ctx context.Context, tenantID string, ownerUser string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID string) error

	// Project
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, tenantID, projectID string) (*model.Project, error)
	GetProjectBySlug(ctx context.Context, tenantID, slug string) (*model.Project, error)
	ListProjects(ctx context.Context, tenantID string, includeArchived bool) ([]*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	ArchiveProject(ctx context.Context, tenantID, projectID string, archived bool) error
	DeleteProject(ctx context.Context, tenantID, projectID, reassignTo string) error
	MergeProject(ctx context.Context, tenantID, sourceID, targetID string) error

	// Agent cache + junction
	UpsertAgent(ctx context.Context, fields *model.Agent) (*model.Agent, error)
	GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error)
	ListAgents(ctx context.Context, tenantID, projectID, environment, group string) ([]*model.Agent, error)
	// UpdateAgentWasStuck sets the stuck-episode guard and reports whether
	// this call is the transition into a new episode (stuck && previously
	// not), so callers emit agent.stuck exactly once per episode (§4.6).
	UpdateAgentWasStuck(ctx context.Context, tenantID, agentID string, stuck bool) (bool, error)
	UpsertProjectAgent(ctx context.Context, pa *model.ProjectAgent) error
	ListProjectAgents(ctx context.Context, tenantID, projectID string) ([]*model.ProjectAgent, error)
	ReassignProjectAgents(ctx context.Context, tenantID, fromProject, toProject string) error

	// Events
	InsertEvents(ctx context.Context, tenantID string, events []*model.Event) (int, error)
	GetEvents(ctx context.Context, filters EventFilters, page Page) ([]*model.Event, Cursor, error)
	GetEvent(ctx context.Context, tenantID, eventID string) (*model.Event, error)
	GetTaskEvents(ctx context.Context, tenantID, taskID string) ([]*model.Event, error)
	DeleteEventsOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int, error)
	DeleteEvents(ctx context.Context, tenantID string, eventIDs []string) (int, error)
	ReassignEventsProject(ctx context.Context, tenantID, fromProject, toProject string) (int, error)

	// Rollups
	GetOrCreateAgentBucket(ctx context.Context, tenantID, agentID string, hour time.Time) (*model.AgentHourBucket, error)
	SaveAgentBucket(ctx context.Context, b *model.AgentHourBucket) error
	GetOrCreateModelBucket(ctx context.Context, tenantID, modelName string, hour time.Time) (*model.ModelHourBucket, error)
	SaveModelBucket(ctx context.Context, b *model.ModelHourBucket) error
	ListAgentBuckets(ctx context.Context, f BucketFilters) ([]*model.AgentHourBucket, error)
	ListModelBuckets(ctx context.Context, f BucketFilters) ([]*model.ModelHourBucket, error)
	PruneAggregates(ctx context.Context, olderThan time.Time) (int, error)
	ClearAggregates(ctx context.Context, tenantID string) error

	// Alerts
	CreateAlertRule(ctx context.Context, r *model.AlertRule) error
	GetAlertRule(ctx context.Context, tenantID, ruleID string) (*model.AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string) ([]*model.AlertRule, error)
	UpdateAlertRule(ctx context.Context, r *model.AlertRule) error
	DeleteAlertRule(ctx context.Context, tenantID, ruleID string) error
	InsertAlert(ctx context.Context, a *model.AlertHistory) error
	ListAlertHistory(ctx context.Context, tenantID string, page Page) ([]*model.AlertHistory, error)
	GetLastAlertForRule(ctx context.Context, tenantID, ruleID string) (*model.AlertHistory, error)

	// Locking helpers for the ingest transaction (§4.2 stages 7-10, §9).
	// WithIngestLock runs fn while holding the tenant's single ingest lock,
	// releasing it on return regardless of error — the "scoped resource"
	// pattern from §9. It takes no table locks itself; each storage call
	// inside fn takes and releases its own.
	WithIngestLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
}
