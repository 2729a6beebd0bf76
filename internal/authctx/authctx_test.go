package authctx

import (
	"context"
	"testing"
	"time"

	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

func TestHashKeyIsDeterministic(t *testing.T) {
	raw, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if HashKey(raw) != HashKey(raw) {
		t.Fatal("HashKey should be deterministic for the same input")
	}
	other, _, _ := GenerateKey()
	if HashKey(raw) == HashKey(other) {
		t.Fatal("two distinct generated keys hashed to the same digest")
	}
}

func TestAuthenticateAPIKeyResolvesRoleFromOwner(t *testing.T) {
	store := storage.NewMemStore(t.TempDir())
	ctx := context.Background()

	if err := store.CreateTenant(ctx, &model.Tenant{TenantID: "t1", Name: "Acme", Slug: "acme"}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if err := store.CreateUser(ctx, &model.User{UserID: "u1", TenantID: "t1", Email: "a@acme.test", Role: model.RoleAdmin}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	raw, prefix, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	key := &model.APIKey{
		KeyID: "k1", TenantID: "t1", KeyHash: HashKey(raw), KeyPrefix: prefix,
		KeyType: model.KeyLive, IsActive: true, OwnerUser: "u1", CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	auth := New(store, "")
	p, err := auth.AuthenticateAPIKey(ctx, raw)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey failed: %v", err)
	}
	if p.TenantID != "t1" || p.Role != model.RoleAdmin || p.KeyType != model.KeyLive {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateAPIKeyRejectsUnknownKey(t *testing.T) {
	store := storage.NewMemStore(t.TempDir())
	auth := New(store, "")
	if _, err := auth.AuthenticateAPIKey(context.Background(), "hb_not-a-real-key"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestRequireRole(t *testing.T) {
	if err := RequireRole(model.RoleMember, model.RoleAdmin); err == nil {
		t.Fatal("expected member to fail an admin-minimum check")
	}
	if err := RequireRole(model.RoleOwner, model.RoleAdmin); err != nil {
		t.Fatalf("expected owner to satisfy an admin-minimum check, got %v", err)
	}
}

func TestCanAssignRole(t *testing.T) {
	if !CanAssignRole(model.RoleOwner, model.RoleAdmin) {
		t.Fatal("owner should be able to assign admin")
	}
	if CanAssignRole(model.RoleAdmin, model.RoleAdmin) {
		t.Fatal("admin should not be able to assign admin (escalation)")
	}
	if CanAssignRole(model.RoleAdmin, model.RoleOwner) {
		t.Fatal("admin should not be able to assign owner (escalation)")
	}
	if !CanAssignRole(model.RoleAdmin, model.RoleMember) {
		t.Fatal("admin should be able to assign member")
	}
}

func TestLimitersAllowsWithinBurstThenBlocks(t *testing.T) {
	l := NewLimiters(1, 2)
	if !l.Allow("key-1") {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow("key-1") {
		t.Fatal("second call within burst should be allowed")
	}
	if l.Allow("key-1") {
		t.Fatal("third immediate call should exceed the burst of 2")
	}
}

func TestIssueTokenAndAuthenticateJWTRoundTrip(t *testing.T) {
	store := storage.NewMemStore(t.TempDir())
	auth := New(store, "test-secret")

	u := &model.User{UserID: "u1", TenantID: "t1", Role: model.RoleOwner}
	token, err := auth.IssueToken(u)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	p, err := auth.AuthenticateJWT(token)
	if err != nil {
		t.Fatalf("AuthenticateJWT failed: %v", err)
	}
	if p.TenantID != "t1" || p.UserID != "u1" || p.Role != model.RoleOwner {
		t.Fatalf("unexpected principal from token: %+v", p)
	}
}

func TestAuthenticateJWTRejectsGarbage(t *testing.T) {
	store := storage.NewMemStore(t.TempDir())
	auth := New(store, "test-secret")
	if _, err := auth.AuthenticateJWT("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
