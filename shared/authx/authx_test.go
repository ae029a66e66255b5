package authx

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseRolesMergesAndDeduplicates(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"admin", "operator", "admin"},
		"role":  "operator",
		"scp":   "readings:write admin",
	}
	roles := parseRoles(claims)

	want := []string{"admin", "operator", "readings:write"}
	if len(roles) != len(want) {
		t.Fatalf("expected %v, got %v", want, roles)
	}
	for i, role := range want {
		if roles[i] != role {
			t.Fatalf("expected %v, got %v", want, roles)
		}
	}
}

func TestParseRolesEmptyClaims(t *testing.T) {
	if roles := parseRoles(map[string]any{}); len(roles) != 0 {
		t.Fatalf("expected no roles, got %v", roles)
	}
}

func TestStringClaimFallsBackAcrossKeys(t *testing.T) {
	claims := jwt.MapClaims{"name": "  ", "preferred_username": "tech.services"}
	if got := stringClaim(claims, "name", "preferred_username"); got != "tech.services" {
		t.Fatalf("expected fallback to preferred_username, got %q", got)
	}
	if got := stringClaim(claims, "missing"); got != "" {
		t.Fatalf("expected empty string for missing claim, got %q", got)
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewJWTVerifier("https://issuer.example", "", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing audience")
	}
	v, err := NewJWTVerifier("https://issuer.example/", "aud", "", 0, -5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.keys.url != "https://issuer.example/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url %q", v.keys.url)
	}
	if v.keys.ttl != defaultJWKSTTL {
		t.Fatalf("expected default ttl, got %v", v.keys.ttl)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	v, err := NewJWTVerifier("https://issuer.example", "aud", "", 60, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := v.Verify(context.Background(), "   "); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthContextRoundTrip(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Subject: "user-1", Roles: []string{"admin"}})
	auth, ok := FromContext(ctx)
	if !ok || auth.Subject != "user-1" {
		t.Fatalf("expected auth context to round-trip, got %+v ok=%v", auth, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no auth context on fresh context")
	}
}
