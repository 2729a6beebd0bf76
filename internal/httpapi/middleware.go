package httpapi

import (
	"net/http"
	"strings"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
)

// securityHeadersMiddleware strips version-revealing headers, adapted from
// the teacher's internal/server/middleware.go SecurityHeadersMiddleware.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "hiveboard")
		next.ServeHTTP(w, r)
	})
}

type handlerFunc func(w http.ResponseWriter, r *http.Request)

// authed resolves the caller's credential (API key via X-API-Key, or a
// bearer JWT via Authorization) into a Principal on the request context
// (§4.1).
func (s *Server) authed(next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if key := r.Header.Get("X-API-Key"); key != "" {
			p, err := s.Auth.AuthenticateAPIKey(ctx, key)
			if err != nil {
				apierr.WriteJSON(w, err)
				return
			}
			next(w, r.WithContext(authctx.WithPrincipal(ctx, p)))
			return
		}

		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			p, err := s.Auth.AuthenticateJWT(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				apierr.WriteJSON(w, err)
				return
			}
			next(w, r.WithContext(authctx.WithPrincipal(ctx, p)))
			return
		}

		apierr.WriteJSON(w, apierr.New(apierr.KindAuthentication, "missing credentials"))
	}
}

// requireWrite rejects read-only API keys from mutating endpoints (§4.1).
func (s *Server) requireWrite(next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := authctx.PrincipalFrom(r.Context())
		if !p.CanWrite() {
			apierr.WriteJSON(w, apierr.New(apierr.KindAuthorization, "read-only credential cannot perform this action"))
			return
		}
		next(w, r)
	}
}

// requireOwner gates the §6.11 admin endpoints to the tenant owner.
func (s *Server) requireOwner(next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := authctx.PrincipalFrom(r.Context())
		if err := authctx.RequireRole(p.Role, model.RoleOwner); err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		next(w, r)
	}
}

// rateLimited enforces the per-key caps from §4.1, keyed on the principal's
// KeyID (falling back to UserID for JWT-authenticated requests).
func (s *Server) rateLimited(limiter *authctx.Limiters, next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := authctx.PrincipalFrom(r.Context())
		id := p.KeyID
		if id == "" {
			id = p.UserID
		}
		if limiter != nil && id != "" && !limiter.Allow(id) {
			apierr.WriteJSON(w, apierr.RetryAfterSeconds(1))
			return
		}
		next(w, r)
	}
}
