// Copyright 2025 Swixixle
//
// HTTP middleware: identity binding, role gates, rate limiting, JSON helpers
//
// The transport layer is the only place status codes are chosen. Handlers
// never echo lower-layer error text to the caller.

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/swixixle/cdil-gateway/pkg/auth"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[Server] Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// requireIdentity validates the bearer token and stashes the identity in
// the request context. 401 on missing or invalid credentials.
func (s *Server) requireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_credentials", "Bearer token required")
			return
		}
		identity, err := s.verifier.IdentityFromToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Token validation failed")
			return
		}
		if !s.rateLimiter.Allow(identity.TenantID) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	}
}

// requireRole gates a handler on a role. Admin passes every gate.
func (s *Server) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return s.requireIdentity(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())
		if !identity.HasRole(role) {
			writeError(w, http.StatusForbidden, "insufficient_role",
				"Role does not permit this operation")
			return
		}
		next(w, r)
	})
}

// identity retrieves the authenticated identity placed by requireIdentity.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

// ============================================================================
// RATE LIMITING
// ============================================================================

type tokenBucket struct {
	tokens    int
	maxTokens int
	lastFill  time.Time
}

// RateLimiter is a simple per-tenant token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	ratePerMin int
}

// NewRateLimiter creates a rate limiter allowing ratePerMinute requests per
// tenant per minute.
func NewRateLimiter(ratePerMinute int) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*tokenBucket),
		ratePerMin: ratePerMinute,
	}
}

// Allow reports whether the client may proceed, consuming one token.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[clientID]
	if !ok {
		bucket = &tokenBucket{
			tokens:    rl.ratePerMin,
			maxTokens: rl.ratePerMin,
			lastFill:  time.Now(),
		}
		rl.buckets[clientID] = bucket
	}

	elapsed := time.Since(bucket.lastFill)
	tokensToAdd := int(elapsed.Minutes() * float64(rl.ratePerMin))
	if tokensToAdd > 0 {
		bucket.tokens = min(bucket.tokens+tokensToAdd, bucket.maxTokens)
		bucket.lastFill = time.Now()
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}
