package model

import "time"

// RetentionTier names the plan-driven event retention window (§3.1).
type RetentionTier string

const (
	TierFree       RetentionTier = "free"
	TierPro        RetentionTier = "pro"
	TierEnterprise RetentionTier = "enterprise"
)

// RetentionWindow returns the raw-event retention window for the tier.
func (t RetentionTier) RetentionWindow() time.Duration {
	switch t {
	case TierPro:
		return 30 * 24 * time.Hour
	case TierEnterprise:
		return 90 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// AggregateRetentionWindow is the hourly-bucket retention window (§3.3, §4.8),
// independent of the tenant's raw-event tier.
const AggregateRetentionWindow = 90 * 24 * time.Hour

// Tenant is the security and billing boundary (§3.1).
type Tenant struct {
	TenantID  string        `json:"tenant_id"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug"`
	Plan      RetentionTier `json:"plan"`
	CreatedAt time.Time     `json:"created_at"`
}

// Role is a user's privilege level within its tenant (§4.1).
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// rank orders roles from least to most privileged for escalation checks.
var rank = map[Role]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// AtLeast reports whether r has at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return rank[r] >= rank[other]
}

// User is an identity within one tenant (§3.1). Invariant: one email
// belongs to at most one tenant, enforced by the storage layer.
type User struct {
	UserID       string    `json:"user_id"`
	TenantID     string    `json:"tenant_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invite is a pending invitation to join a tenant (§6.1).
type Invite struct {
	InviteID  string    `json:"invite_id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Name      string    `json:"name,omitempty"`
	Token     string    `json:"-"`
	InvitedBy string    `json:"invited_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
