package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestParseActor(t *testing.T) {
	v := NewJWTVerifier(testSecret, NewRevocationList())
	token := signToken(t, jwt.MapClaims{
		"sub":   "u-42",
		"role":  RoleSupervisor,
		"email": "sup@hostel.example",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	actor, err := v.ParseActor(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.ID != "u-42" || actor.Role != RoleSupervisor || actor.Email != "sup@hostel.example" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseActorRejections(t *testing.T) {
	v := NewJWTVerifier(testSecret, NewRevocationList())

	expired := signToken(t, jwt.MapClaims{
		"sub": "u-1", "role": RoleAdmin,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := v.ParseActor(expired); err == nil {
		t.Fatalf("expected expired token rejection")
	}

	missingRole := signToken(t, jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.ParseActor(missingRole); err == nil {
		t.Fatalf("expected missing-claims rejection")
	}

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1", "role": RoleAdmin,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	forged, err := wrongKey.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	if _, err := v.ParseActor(forged); err == nil {
		t.Fatalf("expected signature rejection")
	}
}

func TestParseActorRevocation(t *testing.T) {
	revoked := NewRevocationList()
	v := NewJWTVerifier(testSecret, revoked)
	token := signToken(t, jwt.MapClaims{
		"sub": "u-1", "role": RoleAdmin, "jti": "tok-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.ParseActor(token); err != nil {
		t.Fatalf("parse before revocation: %v", err)
	}
	revoked.Add("tok-1")
	if _, err := v.ParseActor(token); err == nil {
		t.Fatalf("expected revoked token rejection")
	}
	revoked.Remove("tok-1")
	if _, err := v.ParseActor(token); err != nil {
		t.Fatalf("parse after unrevocation: %v", err)
	}
}

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role               string
		canAppend, canRead bool
	}{
		{RoleAdmin, true, true},
		{RoleService, true, true},
		{RoleSupervisor, false, true},
		{RoleAuditor, false, true},
		{"guest", false, false},
	}
	for _, c := range cases {
		a := Actor{ID: "u", Role: c.role}
		if a.CanAppend() != c.canAppend || a.CanRead() != c.canRead {
			t.Fatalf("role %s: append=%v read=%v", c.role, a.CanAppend(), a.CanRead())
		}
	}
}

func TestCredentialVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	c := NewCredentialVerifier("svc", string(hash))

	actor, err := c.Verify("svc", "s3cret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actor.Role != RoleService || actor.ID != "svc" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := c.Verify("svc", "wrong"); err == nil {
		t.Fatalf("expected bad secret rejection")
	}
	if _, err := c.Verify("other", "s3cret"); err == nil {
		t.Fatalf("expected bad username rejection")
	}
}

func TestMiddleware(t *testing.T) {
	v := NewJWTVerifier(testSecret, NewRevocationList())
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	creds := NewCredentialVerifier("svc", string(hash))

	var seen Actor
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(v, creds, []string{"/healthz"})(inner)

	// Bearer token path.
	token := signToken(t, jwt.MapClaims{
		"sub": "u-1", "role": RoleAuditor,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen.ID != "u-1" {
		t.Fatalf("bearer: code=%d actor=%+v", rec.Code, seen)
	}

	// Basic-auth fallback.
	req = httptest.NewRequest(http.MethodPost, "/v1/audit/events", nil)
	req.SetBasicAuth("svc", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen.Role != RoleService {
		t.Fatalf("basic: code=%d actor=%+v", rec.Code, seen)
	}

	// No credentials.
	req = httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: code=%d", rec.Code)
	}

	// Skip path passes through unauthenticated.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("skip path: code=%d", rec.Code)
	}
}
