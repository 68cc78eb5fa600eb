// Copyright 2025 Swixixle
//
// Integrity-chain builder and canonical message
//
// chain_hash is the tenant-local linkage hash: the sha256:-prefixed hash of
// the canonical encoding of a fixed payload. previous_hash is not signed
// directly; it is protected transitively because chain_hash is signed and
// chain_hash is a deterministic function of previous_hash.
//
// Both payloads below are closed contracts. Adding or removing a field is a
// protocol version change.

package certificate

import (
	"github.com/swixixle/cdil-gateway/pkg/hashing"
)

// ComputeChainHash derives the chain hash for a certificate from the chain
// head before it. previousHash is nil for a tenant's first certificate.
func ComputeChainHash(cert *Certificate, previousHash *string) (string, error) {
	var prev interface{}
	if previousHash != nil {
		prev = *previousHash
	}
	payload := map[string]interface{}{
		"previous_hash":             prev,
		"certificate_id":            cert.CertificateID,
		"tenant_id":                 cert.TenantID,
		"timestamp":                 cert.Timestamp,
		"note_hash":                 cert.NoteHash,
		"model_version":             cert.ModelVersion,
		"governance_policy_version": cert.GovernancePolicyVersion,
	}
	return hashing.HashC14N(payload)
}

// SignedFields lists the canonical message field names in their canonical
// order. Bundles expose this so an offline holder knows exactly what was
// signed.
var SignedFields = []string{
	"certificate_id",
	"chain_hash",
	"governance_policy_hash",
	"governance_policy_version",
	"human_attested_at_utc",
	"human_reviewed",
	"human_reviewer_id_hash",
	"issued_at_utc",
	"key_id",
	"model_name",
	"model_version",
	"note_hash",
	"nonce",
	"prompt_version",
	"server_timestamp",
	"tenant_id",
}

// BuildCanonicalMessage assembles the exact signed payload. The field set
// is closed: patient_hash is deliberately absent so a holder with a
// redacted bundle can still verify.
func BuildCanonicalMessage(cert *Certificate, keyID, nonce, serverTimestamp string) map[string]interface{} {
	msg := map[string]interface{}{
		"certificate_id":            cert.CertificateID,
		"chain_hash":                cert.IntegrityChain.ChainHash,
		"governance_policy_hash":    nullable(cert.PolicyHash),
		"governance_policy_version": cert.GovernancePolicyVersion,
		"human_attested_at_utc":     nullable(cert.HumanAttestedAt),
		"human_reviewed":            cert.HumanReviewed,
		"human_reviewer_id_hash":    nullable(cert.ReviewerHash),
		"issued_at_utc":             cert.Timestamp,
		"key_id":                    keyID,
		"model_name":                cert.ModelName,
		"model_version":             cert.ModelVersion,
		"note_hash":                 cert.NoteHash,
		"nonce":                     nonce,
		"prompt_version":            cert.PromptVersion,
		"server_timestamp":          serverTimestamp,
		"tenant_id":                 cert.TenantID,
	}
	return msg
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
