// Copyright 2025 Swixixle
//
// Key, tenant, and audit ledger handlers

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/ledger"
)

// handleGetKey returns a public JWK. Keys resolve within the caller's
// tenant only; a foreign key id is indistinguishable from a missing one.
func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	key, err := s.registry.KeyByID(r.Context(), id.TenantID, r.PathValue("key_id"))
	if errors.Is(err, keys.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, "key_not_found", "Key not found")
		return
	}
	if err != nil {
		s.logger.Printf("Key lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Key lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, key.JWK)
}

// handleRotateKey rotates the caller tenant's signing key. Certificates
// signed under the previous key remain verifiable.
func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	keyID, err := s.registry.Rotate(r.Context(), id.TenantID)
	if err != nil {
		s.logger.Printf("Key rotation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "rotation_failed", "Key rotation failed")
		return
	}
	if _, err := s.ledgerWrite.Append(r.Context(), id.TenantID, "tenant_key", keyID,
		"rotated", map[string]interface{}{"key_id": keyID}, id.Subject); err != nil {
		s.logger.Printf("Rotation audit append failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_id": keyID})
}

type createTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

// handleCreateTenant provisions a tenant row and its first signing key, so
// issuance never has to fall back to an implicit tenant.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id_required", "tenant_id is required")
		return
	}

	err := s.store.CreateTenant(r.Context(), req.TenantID)
	if errors.Is(err, database.ErrTenantExists) {
		writeError(w, http.StatusConflict, "invalid_tenant", "Tenant already exists")
		return
	}
	if err != nil {
		s.logger.Printf("Tenant creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Tenant creation failed")
		return
	}

	keyID, err := s.registry.EnsureKey(r.Context(), req.TenantID)
	if err != nil {
		s.logger.Printf("Tenant key provisioning failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Tenant key provisioning failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"tenant_id": req.TenantID,
		"key_id":    keyID,
	})
}

// handleListAuditEvents pages through the caller tenant's ledger.
func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	limit := 100
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := s.store.AuditEvents(r.Context(), id.TenantID, limit, offset)
	if err != nil {
		s.logger.Printf("Audit query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Audit query failed")
		return
	}

	out := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]interface{}{
			"event_id":           ev.EventID,
			"occurred_at_utc":    ev.OccurredAtUTC,
			"object_type":        ev.ObjectType,
			"object_id":          ev.ObjectID,
			"action":             ev.Action,
			"event_payload_json": ev.EventPayloadJSON,
			"prev_event_hash":    ev.PrevEventHash,
			"event_hash":         ev.EventHash,
			"actor_id":           ev.ActorID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": id.TenantID,
		"events":    out,
		"limit":     limit,
		"offset":    offset,
	})
}

// handleVerifyAuditChain re-derives the caller tenant's event hashes and
// reports mismatches and chain breaks.
func (s *Server) handleVerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	report, err := ledger.VerifyChain(r.Context(), s.store, id.TenantID)
	if err != nil {
		s.logger.Printf("Ledger verification failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Ledger verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": id.TenantID,
		"total":     report.Total,
		"verified":  report.Verified,
		"failures":  report.Failures,
		"valid":     report.Valid(),
	})
}
