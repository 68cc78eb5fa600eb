// Copyright 2025 Swixixle
//
// Certificate retrieval, verification, and evidence bundle handlers
//
// Cross-tenant reads return 404 through every endpoint here; existence is
// never revealed to another tenant.

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/swixixle/cdil-gateway/pkg/bundle"
	"github.com/swixixle/cdil-gateway/pkg/certificate"
	"github.com/swixixle/cdil-gateway/pkg/keys"
)

func (s *Server) writeCertificateLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, certificate.ErrNotFound) {
		writeError(w, http.StatusNotFound, "certificate_not_found", "Certificate not found")
		return
	}
	s.logger.Printf("Certificate load failed: %v", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "Could not load certificate")
}

// handleGetCertificate returns the stored certificate. No plaintext PHI is
// present in any field.
func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := s.certVerify.Load(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert.ToValue())
}

// handleVerifyCertificate recomputes chain and signature and returns every
// failure found.
func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	report, err := s.certVerify.VerifyByID(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// bundleParts loads the certificate, runs verification, and resolves the
// signer's JWK: the common front half of both bundle formats.
func (s *Server) bundleParts(r *http.Request) (*certificate.Certificate, *certificate.Report, *keys.JWK, error) {
	id := identity(r)
	cert, err := s.certVerify.Load(r.Context(), id, r.PathValue("id"))
	if err != nil {
		return nil, nil, nil, err
	}
	report, err := s.certVerify.VerifyByID(r.Context(), id, cert.CertificateID)
	if err != nil {
		return nil, nil, nil, err
	}
	if cert.Signature == nil {
		return nil, nil, nil, fmt.Errorf("certificate has no signature")
	}
	key, err := s.registry.KeyByID(r.Context(), id.TenantID, cert.Signature.KeyID)
	if err != nil {
		return nil, nil, nil, err
	}
	return cert, report, key.JWK, nil
}

func (s *Server) handleEvidenceBundleJSON(w http.ResponseWriter, r *http.Request) {
	cert, report, jwk, err := s.bundleParts(r)
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}
	b, err := bundle.Build(cert, report, jwk)
	if err != nil {
		s.logger.Printf("Bundle generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "bundle_failed", "Could not build evidence bundle")
		return
	}
	s.metrics.BundlesGenerated.WithLabelValues("json").Inc()
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleEvidenceBundleZIP(w http.ResponseWriter, r *http.Request) {
	cert, report, jwk, err := s.bundleParts(r)
	if err != nil {
		s.writeCertificateLoadError(w, err)
		return
	}
	data, err := bundle.BuildZIP(cert, report, jwk)
	if err != nil {
		s.logger.Printf("Bundle generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "bundle_failed", "Could not build evidence bundle")
		return
	}
	s.metrics.BundlesGenerated.WithLabelValues("zip").Inc()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "evidence-"+cert.CertificateID+".zip"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Printf("Error writing archive: %v", err)
	}
}
