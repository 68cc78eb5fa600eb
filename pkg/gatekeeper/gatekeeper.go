// Copyright 2025 Swixixle
//
// EHR Gatekeeper - commit authorization tokens
//
// Gatekeeper mode lets an EHR vendor enforce that only verified notes are
// committed to the medical record. A commit token is a short-lived HS256
// JWT binding tenant, certificate, and an optional EHR commit reference;
// its nonce makes it single-use.
//
// The signing secret comes from configuration and rotates independently of
// tenant signing keys.

package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/swixixle/cdil-gateway/pkg/metrics"
	"github.com/swixixle/cdil-gateway/pkg/nonce"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// TokenType marks commit authorization tokens; any other token type is
// rejected outright.
const TokenType = "cdil_commit_authorization"

// Commit token verification errors.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTenantMismatch = errors.New("tenant mismatch")
	ErrNonceReplay    = errors.New("nonce already used")
)

// Claims is the commit token payload.
type Claims struct {
	TokenType     string `json:"token_type"`
	TenantID      string `json:"tenant_id"`
	CertificateID string `json:"certificate_id"`
	EHRCommitID   string `json:"ehr_commit_id,omitempty"`
	Nonce         string `json:"nonce"`
	jwt.RegisteredClaims
}

// TokenInfo is returned on successful verification.
type TokenInfo struct {
	CertificateID string `json:"certificate_id"`
	TenantID      string `json:"tenant_id"`
	EHRCommitID   string `json:"ehr_commit_id,omitempty"`
	IssuedAtUTC   string `json:"issued_at"`
	ExpiresAtUTC  string `json:"expires_at"`
}

// Gatekeeper mints and verifies commit tokens.
type Gatekeeper struct {
	secret  []byte
	ttl     time.Duration
	nonces  *nonce.Store
	metrics *metrics.Metrics
	logger  *log.Logger
}

// New creates a gatekeeper. The secret must be non-empty; config validation
// enforces strength before it gets here.
func New(secret string, ttl time.Duration, nonces *nonce.Store, m *metrics.Metrics, logger *log.Logger) (*Gatekeeper, error) {
	if secret == "" {
		return nil, fmt.Errorf("gatekeeper: token secret must not be empty")
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Gatekeeper] ", log.LstdFlags)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Gatekeeper{
		secret:  []byte(secret),
		ttl:     ttl,
		nonces:  nonces,
		metrics: m,
		logger:  logger,
	}, nil
}

// MintCommitToken issues a commit authorization token for a certificate
// that just passed verification.
func (g *Gatekeeper) MintCommitToken(tenantID, certificateID, ehrCommitID string) (string, error) {
	nonceID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("gatekeeper: allocate nonce: %w", err)
	}
	now := time.Now()
	claims := Claims{
		TokenType:     TokenType,
		TenantID:      tenantID,
		CertificateID: certificateID,
		EHRCommitID:   ehrCommitID,
		Nonce:         nonceID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("gatekeeper: sign commit token: %w", err)
	}
	g.metrics.CommitTokensIssued.Inc()
	return token, nil
}

// VerifyCommitToken validates signature, expiry, type, and tenant, then
// burns the token's nonce. A second presentation fails with ErrNonceReplay.
func (g *Gatekeeper) VerifyCommitToken(ctx context.Context, tenantID, tokenString string) (*TokenInfo, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			g.metrics.CommitTokenFailures.WithLabelValues("expired").Inc()
			return nil, ErrTokenExpired
		}
		g.metrics.CommitTokenFailures.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.TokenType != TokenType || claims.Nonce == "" {
		g.metrics.CommitTokenFailures.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidToken
	}
	if claims.TenantID != tenantID {
		g.metrics.CommitTokenFailures.WithLabelValues("tenant_mismatch").Inc()
		return nil, ErrTenantMismatch
	}

	// Single use: burning the nonce here makes the second presentation a
	// replay.
	wasNew, err := g.nonces.CheckAndRecord(ctx, tenantID, claims.Nonce)
	if err != nil {
		return nil, fmt.Errorf("gatekeeper: nonce check: %w", err)
	}
	if !wasNew {
		g.metrics.CommitTokenFailures.WithLabelValues("replay").Inc()
		g.metrics.ReplayRejections.Inc()
		return nil, ErrNonceReplay
	}

	return &TokenInfo{
		CertificateID: claims.CertificateID,
		TenantID:      claims.TenantID,
		EHRCommitID:   claims.EHRCommitID,
		IssuedAtUTC:   timeutil.Format(claims.IssuedAt.Time),
		ExpiresAtUTC:  timeutil.Format(claims.ExpiresAt.Time),
	}, nil
}
