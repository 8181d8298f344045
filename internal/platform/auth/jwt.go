// Package auth binds transport-layer callers to audit actors. The core
// itself performs no authorization; these helpers run in HTTP middleware
// before any request reaches it.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Actor is the authenticated caller: a back-office user or a service
// account appending events on behalf of a business subsystem.
type Actor struct {
	ID    string
	Role  string
	Email string
}

const (
	RoleAdmin      = "admin"
	RoleService    = "service"
	RoleSupervisor = "supervisor"
	RoleAuditor    = "auditor"
)

// CanAppend limits the write interface to service accounts and admins.
func (a Actor) CanAppend() bool {
	return a.Role == RoleService || a.Role == RoleAdmin
}

// CanRead covers listing, histories, and reports.
func (a Actor) CanRead() bool {
	switch a.Role {
	case RoleAdmin, RoleService, RoleSupervisor, RoleAuditor:
		return true
	}
	return false
}

type JWTVerifier struct {
	secret  []byte
	revoked *RevocationList
}

func NewJWTVerifier(secret string, revoked *RevocationList) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), revoked: revoked}
}

// ParseActor validates an HS256 token and extracts the actor claims.
func (v *JWTVerifier) ParseActor(tokenString string) (Actor, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second))
	if err != nil || !tok.Valid {
		return Actor{}, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	email, _ := claims["email"].(string)
	if sub == "" || role == "" {
		return Actor{}, errors.New("missing actor claims")
	}
	if jti, _ := claims["jti"].(string); jti != "" && v.revoked.Contains(jti) {
		return Actor{}, errors.New("token revoked")
	}
	return Actor{ID: sub, Role: role, Email: email}, nil
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorContextKey).(Actor)
	return v, ok
}

// Middleware authenticates requests with a bearer token, falling back to
// basic credentials when a verifier for those is configured. Paths in
// skipPaths (health, metrics) pass through unauthenticated.
func Middleware(verifier *JWTVerifier, creds *CredentialVerifier, skipPaths []string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				actor, err := verifier.ParseActor(strings.TrimPrefix(h, "Bearer "))
				if err != nil {
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}

			if user, pass, ok := r.BasicAuth(); ok && creds != nil {
				actor, err := creds.Verify(user, pass)
				if err != nil {
					http.Error(w, "invalid credentials", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}

			http.Error(w, "missing credentials", http.StatusUnauthorized)
		})
	}
}

// RevocationList holds token ids an operator has pulled before expiry.
type RevocationList struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewRevocationList() *RevocationList {
	return &RevocationList{tokens: make(map[string]struct{})}
}

func (l *RevocationList) Add(tokenID string) {
	if l == nil || strings.TrimSpace(tokenID) == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[tokenID] = struct{}{}
}

func (l *RevocationList) Remove(tokenID string) {
	if l == nil || strings.TrimSpace(tokenID) == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tokens, tokenID)
}

func (l *RevocationList) Contains(tokenID string) bool {
	if l == nil || strings.TrimSpace(tokenID) == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tokens[tokenID]
	return ok
}
