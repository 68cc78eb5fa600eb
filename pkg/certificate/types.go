// Copyright 2025 Swixixle
//
// Certificate types and wire forms
//
// A certificate is an immutable claim about one version of one note. No
// plaintext PHI ever appears in any field: note text, patient reference,
// and reviewer identifier are represented only by their SHA-256 hashes.

package certificate

import (
	"fmt"

	"github.com/swixixle/cdil-gateway/pkg/c14n"
	"github.com/swixixle/cdil-gateway/pkg/signer"
)

// Request is a ClinicalDocumentationRequest as received from the transport
// layer. Any tenant hint in the body is ignored; tenant context comes from
// the authenticated identity only.
type Request struct {
	NoteText                string `json:"note_text"`
	PatientReference        string `json:"patient_reference,omitempty"`
	HumanReviewerID         string `json:"human_reviewer_id,omitempty"`
	ModelName               string `json:"model_name"`
	ModelVersion            string `json:"model_version"`
	PromptVersion           string `json:"prompt_version"`
	GovernancePolicyVersion string `json:"governance_policy_version"`
	PolicyHash              string `json:"policy_hash,omitempty"`
	HumanReviewed           bool   `json:"human_reviewed"`
	HumanAttestedAt         string `json:"human_attested_at,omitempty"`
	FinalizedAt             string `json:"finalized_at,omitempty"`
	EHRReferencedAt         string `json:"ehr_referenced_at,omitempty"`
	EHRCommitID             string `json:"ehr_commit_id,omitempty"`
}

// IntegrityChain links a certificate into its tenant's hash chain.
type IntegrityChain struct {
	PreviousHash *string `json:"previous_hash"`
	ChainHash    string  `json:"chain_hash"`
}

// Certificate is the full stored record. Append-only: no field changes
// after issuance.
type Certificate struct {
	CertificateID           string         `json:"certificate_id"`
	TenantID                string         `json:"tenant_id"`
	Timestamp               string         `json:"timestamp"`
	FinalizedAt             string         `json:"finalized_at"`
	EHRReferencedAt         string         `json:"ehr_referenced_at,omitempty"`
	EHRCommitID             string         `json:"ehr_commit_id,omitempty"`
	ModelName               string         `json:"model_name"`
	ModelVersion            string         `json:"model_version"`
	PromptVersion           string         `json:"prompt_version"`
	GovernancePolicyVersion string         `json:"governance_policy_version"`
	PolicyHash              string         `json:"policy_hash,omitempty"`
	NoteHash                string         `json:"note_hash"`
	PatientHash             string         `json:"patient_hash,omitempty"`
	ReviewerHash            string         `json:"reviewer_hash,omitempty"`
	HumanReviewed           bool           `json:"human_reviewed"`
	HumanAttestedAt         string         `json:"human_attested_at,omitempty"`
	IntegrityChain          IntegrityChain `json:"integrity_chain"`
	Signature               *signer.Bundle `json:"signature"`
}

// ToValue renders the certificate as a canonical-encoder value. Optional
// fields that are empty are omitted so the stored form matches the wire
// form exactly.
func (c *Certificate) ToValue() map[string]interface{} {
	v := map[string]interface{}{
		"certificate_id":            c.CertificateID,
		"tenant_id":                 c.TenantID,
		"timestamp":                 c.Timestamp,
		"finalized_at":              c.FinalizedAt,
		"model_name":                c.ModelName,
		"model_version":             c.ModelVersion,
		"prompt_version":            c.PromptVersion,
		"governance_policy_version": c.GovernancePolicyVersion,
		"note_hash":                 c.NoteHash,
		"human_reviewed":            c.HumanReviewed,
	}
	if c.EHRReferencedAt != "" {
		v["ehr_referenced_at"] = c.EHRReferencedAt
	}
	if c.EHRCommitID != "" {
		v["ehr_commit_id"] = c.EHRCommitID
	}
	if c.PolicyHash != "" {
		v["policy_hash"] = c.PolicyHash
	}
	if c.PatientHash != "" {
		v["patient_hash"] = c.PatientHash
	}
	if c.ReviewerHash != "" {
		v["reviewer_hash"] = c.ReviewerHash
	}
	if c.HumanAttestedAt != "" {
		v["human_attested_at"] = c.HumanAttestedAt
	}

	var prev interface{}
	if c.IntegrityChain.PreviousHash != nil {
		prev = *c.IntegrityChain.PreviousHash
	}
	v["integrity_chain"] = map[string]interface{}{
		"previous_hash": prev,
		"chain_hash":    c.IntegrityChain.ChainHash,
	}

	if c.Signature != nil {
		v["signature"] = map[string]interface{}{
			"key_id":            c.Signature.KeyID,
			"algorithm":         c.Signature.Algorithm,
			"signature":         c.Signature.Signature,
			"canonical_message": c.Signature.CanonicalMessage,
		}
	}
	return v
}

// MarshalStored renders the certificate as the canonical JSON text stored
// in the certificate_json column.
func (c *Certificate) MarshalStored() (string, error) {
	return c14n.EncodeString(c.ToValue())
}

// ParseStored parses a stored certificate_json blob back into a
// Certificate. It is the inverse of MarshalStored and tolerant of
// collaborator-supplied JSON with the same shape.
func ParseStored(data string) (*Certificate, error) {
	raw, err := c14n.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parse certificate: not an object")
	}

	cert := &Certificate{
		CertificateID:           str(obj["certificate_id"]),
		TenantID:                str(obj["tenant_id"]),
		Timestamp:               str(obj["timestamp"]),
		FinalizedAt:             str(obj["finalized_at"]),
		EHRReferencedAt:         str(obj["ehr_referenced_at"]),
		EHRCommitID:             str(obj["ehr_commit_id"]),
		ModelName:               str(obj["model_name"]),
		ModelVersion:            str(obj["model_version"]),
		PromptVersion:           str(obj["prompt_version"]),
		GovernancePolicyVersion: str(obj["governance_policy_version"]),
		PolicyHash:              str(obj["policy_hash"]),
		NoteHash:                str(obj["note_hash"]),
		PatientHash:             str(obj["patient_hash"]),
		ReviewerHash:            str(obj["reviewer_hash"]),
		HumanAttestedAt:         str(obj["human_attested_at"]),
	}
	if b, ok := obj["human_reviewed"].(bool); ok {
		cert.HumanReviewed = b
	}

	if chain, ok := obj["integrity_chain"].(map[string]interface{}); ok {
		cert.IntegrityChain.ChainHash = str(chain["chain_hash"])
		if prev := str(chain["previous_hash"]); prev != "" {
			cert.IntegrityChain.PreviousHash = &prev
		}
	}

	if sig, ok := obj["signature"].(map[string]interface{}); ok {
		bundle := &signer.Bundle{
			KeyID:     str(sig["key_id"]),
			Algorithm: str(sig["algorithm"]),
			Signature: str(sig["signature"]),
		}
		if msg, ok := sig["canonical_message"].(map[string]interface{}); ok {
			bundle.CanonicalMessage = msg
		}
		cert.Signature = bundle
	}

	return cert, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
