package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestIdentityFromToken_Valid(t *testing.T) {
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	tok := mintToken(t, testSecret, jwt.MapClaims{
		"sub":       "dr-smith",
		"tenant_id": "H1",
		"role":      RoleClinician,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.IdentityFromToken(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Subject != "dr-smith" || id.TenantID != "H1" || id.Role != RoleClinician {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestIdentityFromToken_WrongSecret(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	tok := mintToken(t, "other-secret", jwt.MapClaims{
		"sub": "x", "tenant_id": "H1", "role": RoleAdmin,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.IdentityFromToken(tok); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIdentityFromToken_Expired(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	tok := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "x", "tenant_id": "H1", "role": RoleAdmin,
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := v.IdentityFromToken(tok); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestIdentityFromToken_MissingClaims(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	tok := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.IdentityFromToken(tok); err != ErrMissingClaims {
		t.Errorf("expected ErrMissingClaims, got %v", err)
	}
}

func TestHasRole(t *testing.T) {
	admin := Identity{Role: RoleAdmin}
	clinician := Identity{Role: RoleClinician}
	if !admin.HasRole(RoleAuditor) {
		t.Error("admin should satisfy every role")
	}
	if !clinician.HasRole(RoleClinician) {
		t.Error("role should satisfy itself")
	}
	if clinician.HasRole(RoleAuditor) {
		t.Error("clinician must not satisfy auditor")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"Bearer  abc ": "abc",
		"bearer abc":   "",
		"Basic abc":    "",
		"":             "",
	}
	for header, want := range cases {
		if got := ExtractBearerToken(header); got != want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
