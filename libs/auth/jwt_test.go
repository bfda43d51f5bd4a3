package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	p := Principal{UserID: "user-1", TenantID: "tenant-1", Role: RoleAdmin}
	secret := "test-secret"

	token, err := SignHS256(p, secret, time.Hour)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Principal() != p {
		t.Fatalf("principal mismatch: got %+v", parsed.Principal())
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256(Principal{UserID: "u", TenantID: "t", Role: RoleClient}, "s", -time.Minute)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	claims := Claims{TenantID: "t", Role: "owner", RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	secret := "mw-secret"
	var seen Principal
	h := Middleware(secret)(RequireRole(RoleAdmin, RoleSuperAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	client, _ := SignHS256(Principal{UserID: "c1", TenantID: "t1", Role: RoleClient}, secret, time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+client)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", rec.Code)
	}

	admin, _ := SignHS256(Principal{UserID: "a1", TenantID: "t1", Role: RoleAdmin}, secret, time.Hour)
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen.UserID != "a1" || seen.TenantID != "t1" {
		t.Fatalf("unexpected result: %d %+v", rec.Code, seen)
	}
}
