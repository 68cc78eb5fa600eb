// Copyright 2025 Swixixle
//
// EHR gatekeeper handlers
//
// verify-and-authorize runs the full certificate verification (structure,
// chain hash, signature, timing) and, when it passes, mints a single-use
// commit token; verify-commit-token burns one. Expired or
// malformed tokens are 400, tenant mismatch is 403.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swixixle/cdil-gateway/pkg/gatekeeper"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

type gatekeeperVerifyRequest struct {
	CertificateID string `json:"certificate_id"`
	EHRCommitID   string `json:"ehr_commit_id,omitempty"`
}

func (s *Server) handleVerifyAndAuthorize(w http.ResponseWriter, r *http.Request) {
	var req gatekeeperVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON")
		return
	}
	if req.CertificateID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "certificate_id is required")
		return
	}

	id := identity(r)
	report, err := s.certVerify.VerifyByID(r.Context(), id, req.CertificateID)
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}

	authorized := report.Valid
	var commitToken string
	if authorized {
		commitToken, err = s.gatekeeper.MintCommitToken(id.TenantID, req.CertificateID, req.EHRCommitID)
		if err != nil {
			s.logger.Printf("Commit token mint failed: %v", err)
			writeError(w, http.StatusInternalServerError, "token_mint_failed", "Could not mint commit token")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"certificate_id":        req.CertificateID,
		"tenant_id":             id.TenantID,
		"authorized":            authorized,
		"verification_passed":   authorized,
		"verification_failures": report.Failures,
		"commit_token":          commitToken,
		"ehr_commit_id":         req.EHRCommitID,
		"verified_at":           timeutil.NowUTC(),
	})
}

type verifyCommitTokenRequest struct {
	CommitToken string `json:"commit_token"`
}

func (s *Server) handleVerifyCommitToken(w http.ResponseWriter, r *http.Request) {
	var req verifyCommitTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON")
		return
	}
	if req.CommitToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "commit_token is required")
		return
	}

	id := identity(r)
	info, err := s.gatekeeper.VerifyCommitToken(r.Context(), id.TenantID, req.CommitToken)
	switch {
	case errors.Is(err, gatekeeper.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, "token_expired", "Commit token has expired")
		return
	case errors.Is(err, gatekeeper.ErrTenantMismatch):
		writeError(w, http.StatusForbidden, "tenant_mismatch",
			"Token tenant does not match authenticated tenant")
		return
	case errors.Is(err, gatekeeper.ErrNonceReplay):
		writeError(w, http.StatusBadRequest, "nonce_already_used",
			"Commit token has already been used")
		return
	case errors.Is(err, gatekeeper.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid_token", "Token validation failed")
		return
	case err != nil:
		s.logger.Printf("Commit token verification failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Token verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":          true,
		"certificate_id": info.CertificateID,
		"tenant_id":      info.TenantID,
		"ehr_commit_id":  info.EHRCommitID,
		"issued_at":      info.IssuedAtUTC,
		"expires_at":     info.ExpiresAtUTC,
	})
}
