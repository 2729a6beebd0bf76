package model

import "time"

// KeyType gates whether a credential may mutate state (§3.1, §4.1).
type KeyType string

const (
	KeyLive KeyType = "live"
	KeyTest KeyType = "test"
	KeyRead KeyType = "read"
)

// KeyPrefixLen is how many characters of the raw key are retained for display.
const KeyPrefixLen = 12

// APIKey is an authentication credential (§3.1). The raw key is returned
// exactly once at issuance; only its hash and display prefix are stored.
type APIKey struct {
	KeyID      string     `json:"key_id"`
	TenantID   string     `json:"tenant_id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyType    KeyType    `json:"key_type"`
	IsActive   bool       `json:"is_active"`
	OwnerUser  string     `json:"owner_user,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
