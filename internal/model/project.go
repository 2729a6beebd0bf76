package model

import "time"

// DefaultProjectSlug is the auto-created project that cannot be deleted
// and is the reassignment target for other project deletions (§3.1).
const DefaultProjectSlug = "default"

// Project is an organizational grouping within a tenant (§3.1).
type Project struct {
	ProjectID         string    `json:"project_id"`
	TenantID          string    `json:"tenant_id"`
	Name              string    `json:"name"`
	Slug              string    `json:"slug"`
	Environment       string    `json:"environment,omitempty"`
	IsArchived        bool      `json:"is_archived"`
	NATSMirrorEnabled bool      `json:"nats_mirror_enabled"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProjectAgent is a junction row (§3.1), idempotent on insert.
type ProjectAgent struct {
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id"`
	AgentID   string    `json:"agent_id"`
	FirstSeen time.Time `json:"first_seen"`
}
