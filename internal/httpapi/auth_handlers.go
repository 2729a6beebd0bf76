package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
)

// slugify implements §6.1's normalization: lowercase, spaces to hyphens.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	TenantName string `json:"tenant_name"`
}

// handleRegister implements §6.1: new tenant, owner user, default project,
// default live key, all created together.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Email == "" || req.Password == "" || req.TenantName == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, "email, password, and tenant_name are required"))
		return
	}

	if _, err := s.Store.GetPendingInviteByEmail(r.Context(), req.Email); err == nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindConflict, "a pending invite exists for this email").WithCode("pending_invite"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindInternal, "failed to hash password"))
		return
	}

	now := time.Now().UTC()
	tenant := &model.Tenant{
		TenantID: uuid.NewString(), Name: req.TenantName, Slug: slugify(req.TenantName),
		Plan: model.TierFree, CreatedAt: now,
	}
	if err := s.Store.CreateTenant(r.Context(), tenant); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	user := &model.User{
		UserID: uuid.NewString(), TenantID: tenant.TenantID, Email: req.Email,
		PasswordHash: string(hash), Name: req.Name, Role: model.RoleOwner, CreatedAt: now,
	}
	if err := s.Store.CreateUser(r.Context(), user); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	project := &model.Project{
		ProjectID: uuid.NewString(), TenantID: tenant.TenantID, Name: "Default",
		Slug: model.DefaultProjectSlug, IsArchived: false, CreatedAt: now,
	}
	if err := s.Store.CreateProject(r.Context(), project); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	raw, prefix, err := authctx.GenerateKey()
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindInternal, "failed to generate API key"))
		return
	}
	key := &model.APIKey{
		KeyID: uuid.NewString(), TenantID: tenant.TenantID, KeyHash: authctx.HashKey(raw),
		KeyPrefix: prefix, KeyType: model.KeyLive, IsActive: true, OwnerUser: user.UserID, CreatedAt: now,
	}
	if err := s.Store.CreateAPIKey(r.Context(), key); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"user": user,
		"tenant": map[string]interface{}{
			"tenant_id": tenant.TenantID, "name": tenant.Name, "slug": tenant.Slug,
		},
		"api_key": raw,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin implements §6.1: POST /v1/auth/login?tenant_id=<tid>.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	u, err := s.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindAuthentication, "invalid email or password"))
		return
	}
	if tid := r.URL.Query().Get("tenant_id"); tid != "" && tid != u.TenantID {
		apierr.WriteJSON(w, apierr.New(apierr.KindAuthentication, "invalid email or password"))
		return
	}

	token, err := s.Auth.IssueToken(u)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"token": token, "user": u})
}

// handleCheckSlug implements §6.1: GET /v1/auth/check-slug?slug=<name>.
func (s *Server) handleCheckSlug(w http.ResponseWriter, r *http.Request) {
	slug := slugify(r.URL.Query().Get("slug"))
	available := true
	tenants, err := s.Store.ListTenants(r.Context())
	if err == nil {
		for _, t := range tenants {
			if t.Slug == slug {
				available = false
				break
			}
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"slug": slug, "available": available})
}

type inviteRequest struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	Name  string     `json:"name"`
}

// handleInvite implements §6.1: owner/admin invites a new user, subject to
// the one-email-one-tenant invariant and role-escalation checks.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := authctx.RequireRole(p.Role, model.RoleAdmin); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Role == "" {
		req.Role = model.RoleMember
	}
	if !authctx.CanAssignRole(p.Role, req.Role) {
		apierr.WriteJSON(w, apierr.New(apierr.KindAuthorization, "cannot assign this role").WithCode("role_escalation"))
		return
	}
	if _, err := s.Store.GetUserByEmail(r.Context(), req.Email); err == nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindConflict, "email already registered").WithCode("email_exists"))
		return
	}
	if _, err := s.Store.GetPendingInviteByEmail(r.Context(), req.Email); err == nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, "an invite already exists for this email").WithCode("invite_exists"))
		return
	}

	now := time.Now().UTC()
	inv := &model.Invite{
		InviteID: uuid.NewString(), TenantID: p.TenantID, Email: req.Email, Role: req.Role,
		Name: req.Name, Token: uuid.NewString(), InvitedBy: p.UserID, CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	if err := s.Store.CreateInvite(r.Context(), inv); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"invite_id": inv.InviteID, "email": inv.Email, "role": inv.Role,
		"invite_token": inv.Token, "expires_at": inv.ExpiresAt,
	})
}

type acceptInviteRequest struct {
	InviteToken string `json:"invite_token"`
	Name        string `json:"name"`
	Password    string `json:"password"`
}

// handleAcceptInvite implements §6.1.
func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	inv, err := s.Store.GetInviteByToken(r.Context(), req.InviteToken)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindNotFound, "invite not found"))
		return
	}
	if time.Now().UTC().After(inv.ExpiresAt) {
		apierr.WriteJSON(w, apierr.New(apierr.KindNotFound, "invite has expired"))
		return
	}
	if _, err := s.Store.GetUserByEmail(r.Context(), inv.Email); err == nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindConflict, "email already registered").WithCode("email_exists"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindInternal, "failed to hash password"))
		return
	}
	name := req.Name
	if name == "" {
		name = inv.Name
	}
	user := &model.User{
		UserID: uuid.NewString(), TenantID: inv.TenantID, Email: inv.Email,
		PasswordHash: string(hash), Name: name, Role: inv.Role, CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.CreateUser(r.Context(), user); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	_ = s.Store.DeleteInvite(r.Context(), inv.TenantID, inv.InviteID)

	token, err := s.Auth.IssueToken(user)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"token": token, "user": user})
}

// handleListInvites implements GET /v1/invites (owner/admin only).
func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := authctx.RequireRole(p.Role, model.RoleAdmin); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	invites, err := s.Store.ListInvites(r.Context(), p.TenantID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"invites": invites})
}

// handleDeleteInvite implements DELETE /v1/invites/{id} (owner/admin only).
func (s *Server) handleDeleteInvite(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := authctx.RequireRole(p.Role, model.RoleAdmin); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.Store.DeleteInvite(r.Context(), p.TenantID, id); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
