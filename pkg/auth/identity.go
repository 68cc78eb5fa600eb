// Copyright 2025 Swixixle
//
// Identity binding and role-based access control
//
// All tenant context is derived from the authenticated identity, never from
// client input. The transport layer validates the bearer token and hands the
// core an Identity; handlers read tenant_id from it exclusively.

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the service.
const (
	RoleClinician  = "clinician"
	RoleAuditor    = "auditor"
	RoleAdmin      = "admin"
	RoleEHRGateway = "ehr_gateway"
)

var (
	// ErrInvalidToken is returned when the bearer token is missing, malformed,
	// expired, or fails signature validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingClaims is returned when a structurally valid token lacks the
	// sub, tenant_id, or role claims.
	ErrMissingClaims = errors.New("token missing required claims")
)

// Identity is the authenticated caller. It is the source of truth for tenant
// context; clients cannot forge it because it is derived from a validated JWT.
type Identity struct {
	Subject  string
	TenantID string
	Role     string
}

// HasRole reports whether the identity satisfies the required role. Admin
// satisfies every role.
func (id Identity) HasRole(required string) bool {
	return id.Role == required || id.Role == RoleAdmin
}

// Verifier validates bearer tokens and extracts identities.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier over the shared HS256 secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: JWT secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

type identityClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityFromToken validates the token and returns the embedded identity.
func (v *Verifier) IdentityFromToken(tokenString string) (Identity, error) {
	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.TenantID == "" || claims.Role == "" {
		return Identity{}, ErrMissingClaims
	}
	return Identity{
		Subject:  claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}

// ExtractBearerToken extracts a bearer token from an Authorization header.
// Returns empty string if not present or malformed.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

type contextKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext retrieves the identity set by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
