package storage

import (
	"context"
	"strings"
	"time"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
)

type tenantRecord struct {
	Tenant *model.Tenant `json:"tenant"`
}

type userRecord struct {
	User *model.User `json:"user"`
}

type inviteRecord struct {
	Invite *model.Invite `json:"invite"`
}

type keyRecord struct {
	Key *model.APIKey `json:"key"`
}

func (m *MemStore) CreateTenant(ctx context.Context, t *model.Tenant) error {
	m.tenantsMu.Lock()
	defer m.tenantsMu.Unlock()

	for _, rec := range m.tenants {
		if rec.Tenant.Slug == t.Slug {
			return apierr.New(apierr.KindConflict, "tenant slug already exists").WithCode("slug_exists")
		}
	}
	m.tenants[t.TenantID] = &tenantRecord{Tenant: t}
	return m.saveTable("tenants", m.tenants)
}

func (m *MemStore) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	m.tenantsMu.RLock()
	defer m.tenantsMu.RUnlock()

	out := make([]*model.Tenant, 0, len(m.tenants))
	for _, rec := range m.tenants {
		out = append(out, rec.Tenant)
	}
	return out, nil
}

func (m *MemStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	m.tenantsMu.RLock()
	defer m.tenantsMu.RUnlock()

	rec, ok := m.tenants[tenantID]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "tenant not found")
	}
	return rec.Tenant, nil
}

// CreateUser enforces invariant §3.2.5: one email belongs to at most one tenant.
func (m *MemStore) CreateUser(ctx context.Context, u *model.User) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	lower := strings.ToLower(u.Email)
	for _, rec := range m.users {
		if strings.ToLower(rec.User.Email) == lower {
			return apierr.New(apierr.KindConflict, "email already registered").WithCode("email_exists")
		}
	}
	m.users[u.UserID] = &userRecord{User: u}
	return m.saveTable("users", m.users)
}

func (m *MemStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	lower := strings.ToLower(email)
	for _, rec := range m.users {
		if strings.ToLower(rec.User.Email) == lower {
			return rec.User, nil
		}
	}
	return nil, apierr.New(apierr.KindNotFound, "user not found")
}

func (m *MemStore) GetUser(ctx context.Context, tenantID, userID string) (*model.User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	rec, ok := m.users[userID]
	if !ok || rec.User.TenantID != tenantID {
		return nil, apierr.New(apierr.KindNotFound, "user not found")
	}
	return rec.User, nil
}

func (m *MemStore) CreateInvite(ctx context.Context, inv *model.Invite) error {
	m.invitesMu.Lock()
	defer m.invitesMu.Unlock()

	m.invites[inv.InviteID] = &inviteRecord{Invite: inv}
	return m.saveTable("invites", m.invites)
}

func (m *MemStore) GetInviteByToken(ctx context.Context, token string) (*model.Invite, error) {
	m.invitesMu.RLock()
	defer m.invitesMu.RUnlock()

	for _, rec := range m.invites {
		if rec.Invite.Token == token {
			return rec.Invite, nil
		}
	}
	return nil, apierr.New(apierr.KindNotFound, "invite not found")
}

func (m *MemStore) GetPendingInviteByEmail(ctx context.Context, email string) (*model.Invite, error) {
	m.invitesMu.RLock()
	defer m.invitesMu.RUnlock()

	lower := strings.ToLower(email)
	now := time.Now()
	for _, rec := range m.invites {
		if strings.ToLower(rec.Invite.Email) == lower && rec.Invite.ExpiresAt.After(now) {
			return rec.Invite, nil
		}
	}
	return nil, apierr.New(apierr.KindNotFound, "invite not found")
}

func (m *MemStore) ListInvites(ctx context.Context, tenantID string) ([]*model.Invite, error) {
	m.invitesMu.RLock()
	defer m.invitesMu.RUnlock()

	var out []*model.Invite
	for _, rec := range m.invites {
		if rec.Invite.TenantID == tenantID {
			out = append(out, rec.Invite)
		}
	}
	return out, nil
}

func (m *MemStore) DeleteInvite(ctx context.Context, tenantID, inviteID string) error {
	m.invitesMu.Lock()
	defer m.invitesMu.Unlock()

	rec, ok := m.invites[inviteID]
	if !ok || rec.Invite.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "invite not found")
	}
	delete(m.invites, inviteID)
	return m.saveTable("invites", m.invites)
}

func (m *MemStore) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	m.keys[k.KeyID] = &keyRecord{Key: k}
	return m.saveTable("keys", m.keys)
}

func (m *MemStore) Authenticate(ctx context.Context, keyHash string) (*model.APIKey, error) {
	m.keysMu.RLock()
	defer m.keysMu.RUnlock()

	for _, rec := range m.keys {
		if rec.Key.KeyHash == keyHash {
			if !rec.Key.IsActive {
				return nil, apierr.New(apierr.KindAuthentication, "key is inactive")
			}
			return rec.Key, nil
		}
	}
	return nil, apierr.New(apierr.KindAuthentication, "unknown API key")
}

func (m *MemStore) TouchAPIKey(ctx context.Context, keyID string, when time.Time) error {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	rec, ok := m.keys[keyID]
	if !ok {
		return apierr.New(apierr.KindNotFound, "key not found")
	}
	rec.Key.LastUsedAt = &when
	return m.saveTable("keys", m.keys)
}

func (m *MemStore) ListAPIKeys(ctx context.Context, tenantID string, ownerUser string) ([]*model.APIKey, error) {
	m.keysMu.RLock()
	defer m.keysMu.RUnlock()

	var out []*model.APIKey
	for _, rec := range m.keys {
		if rec.Key.TenantID != tenantID {
			continue
		}
		if ownerUser != "" && rec.Key.OwnerUser != ownerUser {
			continue
		}
		out = append(out, rec.Key)
	}
	return out, nil
}

func (m *MemStore) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	rec, ok := m.keys[keyID]
	if !ok || rec.Key.TenantID != tenantID {
		return apierr.New(apierr.KindNotFound, "key not found")
	}
	rec.Key.IsActive = false
	return m.saveTable("keys", m.keys)
}
