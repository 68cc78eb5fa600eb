// Copyright 2025 Swixixle
//
// Clinical documentation handlers: issuance and the alteration demo

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/swixixle/cdil-gateway/pkg/certificate"
	"github.com/swixixle/cdil-gateway/pkg/hashing"
)

// issueResponse is the issuance reply body.
type issueResponse struct {
	CertificateID string      `json:"certificate_id"`
	Certificate   interface{} `json:"certificate"`
	SignatureB64  string      `json:"signature_b64"`
	KeyID         string      `json:"key_id"`
	Algorithm     string      `json:"algorithm"`
	VerifyURL     string      `json:"verify_url"`
}

// handleIssueCertificate issues an integrity certificate for finalized
// clinical documentation. Tenant context comes from the identity; tenant
// hints in the body are never read.
func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req certificate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON")
		return
	}

	result, err := s.issuer.Issue(r.Context(), identity(r), &req)
	if err != nil {
		s.writeIssueError(w, err)
		return
	}

	cert := result.Certificate
	writeJSON(w, http.StatusCreated, issueResponse{
		CertificateID: cert.CertificateID,
		Certificate:   cert.ToValue(),
		SignatureB64:  result.SignatureB64,
		KeyID:         result.KeyID,
		Algorithm:     result.Algorithm,
		VerifyURL:     "/v1/certificates/" + cert.CertificateID + "/verify",
	})
}

func (s *Server) writeIssueError(w http.ResponseWriter, err error) {
	var phiErr *certificate.PHIError
	switch {
	case errors.As(err, &phiErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"code":       "phi_detected_in_note_text",
				"message":    "Note text matches direct PHI patterns",
				"categories": phiErr.Categories,
			},
		})
	case errors.Is(err, certificate.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, certificate.ErrReplay):
		writeError(w, http.StatusConflict, "nonce_already_used", "Replay detected")
	default:
		// Lower-layer detail stays in the log, never in the response.
		s.logger.Printf("Issuance failed: %v", err)
		writeError(w, http.StatusInternalServerError, "issuance_failed", "Certificate issuance failed")
	}
}

type simulateAlterationRequest struct {
	CertificateID   string `json:"certificate_id"`
	MutatedNoteText string `json:"mutated_note_text"`
}

// handleSimulateAlteration demonstrates tamper evidence: the stored
// certificate verifies, the mutated note does not. The mutated text is
// hashed and discarded, like every other note body.
func (s *Server) handleSimulateAlteration(w http.ResponseWriter, r *http.Request) {
	var req simulateAlterationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON")
		return
	}
	if req.CertificateID == "" || req.MutatedNoteText == "" {
		writeError(w, http.StatusBadRequest, "invalid_request",
			"certificate_id and mutated_note_text are required")
		return
	}

	id := identity(r)
	cert, err := s.certVerify.Load(r.Context(), id, req.CertificateID)
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}

	original, err := s.certVerify.VerifyByID(r.Context(), id, req.CertificateID)
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}

	mutatedHash := hashing.SHA256Hex([]byte(req.MutatedNoteText))
	matches := mutatedHash == cert.NoteHash

	mutated := map[string]interface{}{
		"valid":    matches && original.Valid,
		"failures": []map[string]string{},
	}
	if !matches {
		mutated["failures"] = []map[string]string{{
			"check": "note_integrity",
			"error": "note_hash_mismatch",
			"debug": strings.Join([]string{
				"stored_prefix=" + cert.NoteHash[:16],
				"mutated_prefix=" + mutatedHash[:16],
			}, " "),
		}}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"certificate_id":        req.CertificateID,
		"original_verification": original,
		"mutated_verification":  mutated,
		"demonstration": map[string]interface{}{
			"altered": !matches,
			"explanation": "The certificate binds the note body by hash; any edit " +
				"changes the hash, which breaks the signed chain.",
		},
	})
}
