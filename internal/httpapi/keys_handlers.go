package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
)

type createAPIKeyRequest struct {
	KeyType model.KeyType `json:"key_type"`
}

// handleCreateAPIKey implements §6.2: plaintext key returned only here.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())

	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.KeyType == "" {
		req.KeyType = model.KeyLive
	}

	raw, prefix, err := authctx.GenerateKey()
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindInternal, "failed to generate API key"))
		return
	}
	key := &model.APIKey{
		KeyID: uuid.NewString(), TenantID: p.TenantID, KeyHash: authctx.HashKey(raw),
		KeyPrefix: prefix, KeyType: req.KeyType, IsActive: true, OwnerUser: p.UserID, CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.CreateAPIKey(r.Context(), key); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"key": key, "api_key": raw})
}

// handleListAPIKeys implements §6.2 (visibility rules per §1.3: non-admins
// only see their own keys).
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())

	owner := ""
	if !p.Role.AtLeast(model.RoleAdmin) {
		owner = p.UserID
	}
	keys, err := s.Store.ListAPIKeys(r.Context(), p.TenantID, owner)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

// handleRevokeAPIKey implements DELETE /v1/api-keys/{id}.
func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]
	if err := s.Store.RevokeAPIKey(r.Context(), p.TenantID, id); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
