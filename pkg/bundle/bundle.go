// Copyright 2025 Swixixle
//
// Evidence / Defense Bundle Packager
//
// Builds self-contained artifacts for auditors, lawyers, and regulators:
//  1. JSON bundle - structured evidence for programmatic use
//  2. ZIP archive - complete package with verification report and README
//
// A bundle is reproducible from the certificate alone modulo the
// verification timestamp. It carries everything an offline holder needs:
// the certificate, the exact signed payload, the signer's public key, and
// step-by-step verification instructions.

package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/swixixle/cdil-gateway/pkg/c14n"
	"github.com/swixixle/cdil-gateway/pkg/certificate"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// BundleVersion identifies the bundle layout. Bumped when the contract
// gains litigation metadata.
const BundleVersion = "2.0"

// Build assembles the structured JSON evidence bundle.
func Build(cert *certificate.Certificate, report *certificate.Report, jwk *keys.JWK) (map[string]interface{}, error) {
	if cert.Signature == nil {
		return nil, fmt.Errorf("bundle: certificate has no signature")
	}

	status := "INVALID"
	if report != nil && report.Valid {
		status = "VALID"
	}
	verifiedAt := timeutil.NowUTC()
	if report != nil {
		verifiedAt = report.VerifiedAtUTC
	}

	attestationSummary := "Not reviewed by human"
	if cert.HumanReviewed {
		attestationSummary = "Human reviewed and attested"
		if cert.HumanAttestedAt != "" {
			attestationSummary += " at " + cert.HumanAttestedAt
		}
	}

	metadata := map[string]interface{}{
		"certificate_id": cert.CertificateID,
		"tenant_id":      cert.TenantID,
		"issued_at":      cert.Timestamp,
		"key_id":         cert.Signature.KeyID,
		"algorithm":      cert.Signature.Algorithm,
	}

	hashes := map[string]interface{}{
		"note_hash":      cert.NoteHash,
		"hash_algorithm": "SHA-256",
	}
	if cert.PatientHash != "" {
		hashes["patient_hash"] = cert.PatientHash
	}
	if cert.ReviewerHash != "" {
		hashes["reviewer_hash"] = cert.ReviewerHash
	}

	modelInfo := map[string]interface{}{
		"model_name":                cert.ModelName,
		"model_version":             cert.ModelVersion,
		"prompt_version":            cert.PromptVersion,
		"governance_policy_version": cert.GovernancePolicyVersion,
	}
	if cert.PolicyHash != "" {
		modelInfo["policy_hash"] = cert.PolicyHash
	}

	humanAttestation := map[string]interface{}{
		"reviewed":         cert.HumanReviewed,
		"reviewer_hash":    cert.ReviewerHash,
		"review_timestamp": cert.FinalizedAt,
	}

	signedFields := make([]interface{}, len(certificate.SignedFields))
	for i, f := range certificate.SignedFields {
		signedFields[i] = f
	}

	var prev interface{}
	if cert.IntegrityChain.PreviousHash != nil {
		prev = *cert.IntegrityChain.PreviousHash
	}
	litigationMetadata := map[string]interface{}{
		"verification_status":        status,
		"verification_timestamp_utc": verifiedAt,
		"signer_public_key_id":       cert.Signature.KeyID,
		"signature_algorithm":        cert.Signature.Algorithm,
		"canonical_hash":             cert.IntegrityChain.ChainHash,
		"human_attestation_summary":  attestationSummary,
		"provenance_fields_signed":   signedFields,
		"chain_integrity": map[string]interface{}{
			"chain_hash":          cert.IntegrityChain.ChainHash,
			"previous_hash":       prev,
			"prevents_insertion":  true,
			"prevents_reordering": true,
		},
	}

	verificationInstructions := map[string]interface{}{
		"offline_cli":         "cdil-verify certificate.json public_key.pem",
		"api_endpoint":        fmt.Sprintf("POST /v1/certificates/%s/verify", cert.CertificateID),
		"manual_verification": "Recompute chain_hash and verify signature with public key",
	}

	publicKeyReference := map[string]interface{}{
		"key_id":        cert.Signature.KeyID,
		"reference_url": fmt.Sprintf("GET /v1/keys/%s", cert.Signature.KeyID),
	}

	b := map[string]interface{}{
		"bundle_version":            BundleVersion,
		"generated_at":              verifiedAt,
		"certificate":               cert.ToValue(),
		"metadata":                  metadata,
		"hashes":                    hashes,
		"model_info":                modelInfo,
		"human_attestation":         humanAttestation,
		"litigation_metadata":       litigationMetadata,
		"verification_instructions": verificationInstructions,
		"public_key_reference":      publicKeyReference,
	}
	return b, nil
}

// BuildZIP assembles the archive variant. Contents:
//
//	certificate.json          the full stored certificate
//	canonical_message.json    the exact signed payload
//	public_key.pem            the signer's public key
//	verification_report.json  the verifier's result at generation time
//	README.txt                offline verification instructions
func BuildZIP(cert *certificate.Certificate, report *certificate.Report, jwk *keys.JWK) ([]byte, error) {
	if cert.Signature == nil {
		return nil, fmt.Errorf("bundle: certificate has no signature")
	}
	if jwk == nil {
		return nil, fmt.Errorf("bundle: missing signer public key")
	}

	certJSON, err := c14n.Encode(cert.ToValue())
	if err != nil {
		return nil, fmt.Errorf("bundle: serialize certificate: %w", err)
	}
	msgJSON, err := c14n.Encode(cert.Signature.CanonicalMessage)
	if err != nil {
		return nil, fmt.Errorf("bundle: serialize canonical message: %w", err)
	}
	pemText, err := jwk.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("bundle: encode public key: %w", err)
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: serialize report: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct {
		name string
		data []byte
	}{
		{"certificate.json", certJSON},
		{"canonical_message.json", msgJSON},
		{"public_key.pem", []byte(pemText)},
		{"verification_report.json", reportJSON},
		{"README.txt", []byte(readmeText(cert))},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("bundle: create %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("bundle: write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func readmeText(cert *certificate.Certificate) string {
	return fmt.Sprintf(`CDIL EVIDENCE BUNDLE
====================

Certificate: %s
Tenant:      %s
Issued:      %s

This archive is self-contained. No network access is required to verify it.

OFFLINE VERIFICATION STEPS
--------------------------

1. Signature.
   a. Canonicalize canonical_message.json: remove all whitespace outside
      strings, sort object keys by Unicode code point, keep arrays in
      order, encode as UTF-8.
   b. Compute SHA-256 over the canonical bytes.
   c. Verify the DER-encoded ECDSA P-256 signature (the base64 "signature"
      field of certificate.json) over that digest using public_key.pem.

2. Chain hash.
   a. Build a JSON object with exactly these fields from certificate.json:
      previous_hash (from integrity_chain), certificate_id, tenant_id,
      timestamp, note_hash, model_version, governance_policy_version.
   b. Canonicalize it as in step 1a and compute SHA-256.
   c. Prepend "sha256:" and compare with integrity_chain.chain_hash.

3. Note integrity (if you hold the note text).
   Compute SHA-256 of the note body and compare the lowercase hex with
   note_hash. The note text itself is never part of this bundle.

Any mismatch means the record was altered after issuance.
`, cert.CertificateID, cert.TenantID, cert.Timestamp)
}
