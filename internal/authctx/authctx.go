// Package authctx authenticates incoming requests (§4.1): API-key hashing
// and lookup, JWT issuance/verification for the human login path, role
// gating, and per-key rate limiting. The limiter generalizes the teacher's
// internal/mcp.ConnectionLimiter (a mutex-guarded per-key counter) to a
// per-key token-bucket limiter built on golang.org/x/time/rate; it does not
// keep a sliding window of request times.
package authctx

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/storage"
)

// KeyIssuePrefix distinguishes HiveBoard keys in the wild, similar to how
// most API-key schemes namespace their secrets.
const KeyIssuePrefix = "hb_"

// rawKeyBytes is the amount of random entropy behind an issued key.
const rawKeyBytes = 32

// HashKey returns the stored digest for a raw API key. Only the hash and
// a short prefix are persisted (§3.1).
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new raw key and its prefix for display.
func GenerateKey() (raw, prefix string, err error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = KeyIssuePrefix + hex.EncodeToString(buf)
	if len(raw) < model.KeyPrefixLen {
		prefix = raw
	} else {
		prefix = raw[:model.KeyPrefixLen]
	}
	return raw, prefix, nil
}

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	TenantID string
	KeyID    string
	KeyType  model.KeyType
	UserID   string
	Role     model.Role
}

// CanWrite reports whether the credential may mutate state (§4.1): read
// keys are confined to query endpoints.
func (p Principal) CanWrite() bool {
	return p.KeyType != model.KeyRead
}

type principalCtxKey struct{}

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom extracts the principal attached by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// Authenticator validates API keys and JWTs and enforces role checks.
type Authenticator struct {
	store     storage.Backend
	jwtSecret []byte
	jwtTTL    time.Duration
}

// New builds an Authenticator. jwtSecret signs the human-login token;
// an empty secret disables JWT issuance (API-key auth still works).
func New(store storage.Backend, jwtSecret string) *Authenticator {
	return &Authenticator{store: store, jwtSecret: []byte(jwtSecret), jwtTTL: time.Hour}
}

// AuthenticateAPIKey resolves a raw API key to a Principal (§4.1), touching
// LastUsedAt asynchronously so the hot path never blocks on a write.
func (a *Authenticator) AuthenticateAPIKey(ctx context.Context, raw string) (Principal, error) {
	key, err := a.store.Authenticate(ctx, HashKey(raw))
	if err != nil {
		return Principal{}, err
	}

	go func() {
		_ = a.store.TouchAPIKey(context.Background(), key.KeyID, time.Now().UTC())
	}()

	role := model.RoleMember
	if key.OwnerUser != "" {
		if u, err := a.store.GetUser(ctx, key.TenantID, key.OwnerUser); err == nil {
			role = u.Role
		}
	}

	return Principal{
		TenantID: key.TenantID,
		KeyID:    key.KeyID,
		KeyType:  key.KeyType,
		UserID:   key.OwnerUser,
		Role:     role,
	}, nil
}

// claims is the JWT payload issued on login/invite-accept (§4.1): tenant_id
// and role travel with the token so handlers never need a DB round trip
// just to authorize a request.
type claims struct {
	TenantID string     `json:"tenant_id"`
	UserID   string     `json:"user_id"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a 1-hour JWT for an authenticated human user.
func (a *Authenticator) IssueToken(u *model.User) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", apierr.New(apierr.KindInternal, "jwt signing is not configured")
	}
	now := time.Now().UTC()
	c := claims{
		TenantID: u.TenantID,
		UserID:   u.UserID,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.jwtTTL)),
			Subject:   u.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(a.jwtSecret)
}

// AuthenticateJWT verifies a bearer token and returns its Principal.
func (a *Authenticator) AuthenticateJWT(raw string) (Principal, error) {
	if len(a.jwtSecret) == 0 {
		return Principal{}, apierr.New(apierr.KindAuthentication, "jwt auth is not configured")
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, apierr.New(apierr.KindAuthentication, "invalid or expired token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return Principal{}, apierr.New(apierr.KindAuthentication, "invalid token claims")
	}
	return Principal{TenantID: c.TenantID, UserID: c.UserID, Role: c.Role}, nil
}

// RequireRole enforces §4.1's role gate: it rejects actor unless it ranks at
// least minimum (owner > admin > member > viewer). The admin-cannot-escalate
// rule is checked separately by CanAssignRole.
func RequireRole(actor model.Role, minimum model.Role) error {
	if !actor.AtLeast(minimum) {
		return apierr.New(apierr.KindAuthorization, "insufficient role for this action")
	}
	return nil
}

// CanAssignRole reports whether actor may grant target to someone else: an
// admin may grant member or viewer but never owner or admin; only an owner
// may grant owner or admin.
func CanAssignRole(actor, target model.Role) bool {
	if actor == model.RoleOwner {
		return true
	}
	if actor == model.RoleAdmin {
		return target == model.RoleMember || target == model.RoleViewer
	}
	return false
}

// SecureEquals is a constant-time string comparison, used for invite/reset
// tokens where timing side-channels matter more than for plain map lookups.
func SecureEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Limiters holds one rate.Limiter per API key, lazily created, mirroring
// the teacher's per-agent counter in internal/mcp.ConnectionLimiter but
// using a token bucket instead of a hard connection cap.
type Limiters struct {
	mu      sync.Mutex
	buckets map[string]*limiterEntry
	rate    rate.Limit
	burst   int
	maxIdle time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiters builds a per-key rate limiter pool. ratePerSecond and burst
// follow §4.1's documented caps (~100 req/s ingest, ~30 req/s query).
func NewLimiters(ratePerSecond float64, burst int) *Limiters {
	return &Limiters{
		buckets: make(map[string]*limiterEntry),
		rate:    rate.Limit(ratePerSecond),
		burst:   burst,
		maxIdle: 10 * time.Minute,
	}
}

// Allow reports whether keyID may proceed, evicting stale buckets opportunistically.
func (l *Limiters) Allow(keyID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.buckets[keyID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[keyID] = e
	}
	e.lastSeen = now
	if len(l.buckets) > 10000 {
		for k, v := range l.buckets {
			if now.Sub(v.lastSeen) > l.maxIdle {
				delete(l.buckets, k)
			}
		}
	}
	return e.limiter.AllowN(now, 1)
}
