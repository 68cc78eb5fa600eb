// Copyright 2025 Swixixle
//
// Verifier tests: round trips, tamper detection, tenant isolation

package certificate

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func hasFailure(report *Report, code string) bool {
	for _, f := range report.Failures {
		if f.Error == code {
			return true
		}
	}
	return false
}

func TestVerify_IssuedCertificateIsValid(t *testing.T) {
	_, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	report, err := verifier.VerifyByID(ctx, clinician("H1"), result.Certificate.CertificateID)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("expected valid certificate, failures: %+v", report.Failures)
	}
	if len(report.Failures) != 0 {
		t.Errorf("valid report must have empty failures, got %+v", report.Failures)
	}
}

func TestVerify_TamperedNoteHash(t *testing.T) {
	store, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	certID := result.Certificate.CertificateID

	// Flip the stored note_hash to all zeros.
	tampered := *result.Certificate
	tampered.NoteHash = strings.Repeat("0", 64)
	blob, err := tampered.MarshalStored()
	if err != nil {
		t.Fatal(err)
	}
	if !store.TamperCertificateJSON("H1", certID, blob) {
		t.Fatal("tamper hook found no certificate")
	}

	report, err := verifier.VerifyByID(ctx, clinician("H1"), certID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("tampered certificate verified")
	}
	if !hasFailure(report, "chain_hash_mismatch") {
		t.Errorf("expected chain_hash_mismatch, got %+v", report.Failures)
	}
}

func TestVerify_TamperedSignedField(t *testing.T) {
	store, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	certID := result.Certificate.CertificateID

	// model_name feeds the signature but not the chain payload: tampering
	// must surface as invalid_signature.
	tampered := *result.Certificate
	tampered.Signature.CanonicalMessage["model_name"] = "someone-elses-model"
	blob, err := tampered.MarshalStored()
	if err != nil {
		t.Fatal(err)
	}
	store.TamperCertificateJSON("H1", certID, blob)

	report, err := verifier.VerifyByID(ctx, clinician("H1"), certID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("certificate with tampered signed field verified")
	}
	if !hasFailure(report, "invalid_signature") {
		t.Errorf("expected invalid_signature, got %+v", report.Failures)
	}
}

func TestVerify_DebugHashPrefixesOnly(t *testing.T) {
	store, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	certID := result.Certificate.CertificateID

	tampered := *result.Certificate
	tampered.NoteHash = strings.Repeat("0", 64)
	blob, _ := tampered.MarshalStored()
	store.TamperCertificateJSON("H1", certID, blob)

	report, err := verifier.VerifyByID(ctx, clinician("H1"), certID)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range report.Failures {
		for k, v := range f.Debug {
			if len(v) > 16 {
				t.Errorf("debug field %s longer than 16 chars: %s", k, v)
			}
		}
	}
}

func TestVerify_CrossTenantNotFound(t *testing.T) {
	_, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	_, err = verifier.VerifyByID(ctx, clinician("H2"), result.Certificate.CertificateID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-tenant verify, got %v", err)
	}
	_, err = verifier.Load(ctx, clinician("H2"), result.Certificate.CertificateID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-tenant load, got %v", err)
	}
}

func TestVerify_RotationKeepsOldCertificatesValid(t *testing.T) {
	_, registry, issuer, verifier := newHarness(t)
	ctx := context.Background()

	a, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	k1 := a.KeyID

	k2, err := registry.Rotate(ctx, "H1")
	if err != nil {
		t.Fatal(err)
	}
	if k2 == k1 {
		t.Fatal("rotation did not produce a new key")
	}

	b, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if b.KeyID != k2 {
		t.Errorf("post-rotation certificate signed with %s, want %s", b.KeyID, k2)
	}

	for _, id := range []string{a.Certificate.CertificateID, b.Certificate.CertificateID} {
		report, err := verifier.VerifyByID(ctx, clinician("H1"), id)
		if err != nil {
			t.Fatal(err)
		}
		if !report.Valid {
			t.Errorf("certificate %s invalid after rotation: %+v", id, report.Failures)
		}
	}
}

func TestVerify_BackdatingDetected(t *testing.T) {
	_, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	req := validRequest()
	req.FinalizedAt = "2025-06-02T00:00:00.000000Z"
	req.EHRReferencedAt = "2025-06-01T00:00:00.000000Z"
	result, err := issuer.Issue(ctx, clinician("H1"), req)
	if err != nil {
		t.Fatal(err)
	}

	report, err := verifier.VerifyByID(ctx, clinician("H1"), result.Certificate.CertificateID)
	if err != nil {
		t.Fatal(err)
	}
	if !hasFailure(report, "finalized_after_ehr_reference") {
		t.Errorf("expected backdating failure, got %+v", report.Failures)
	}
}

func TestVerify_MissingEHRReferenceIsPass(t *testing.T) {
	_, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	req := validRequest()
	req.FinalizedAt = "2025-06-02T00:00:00.000000Z"
	result, err := issuer.Issue(ctx, clinician("H1"), req)
	if err != nil {
		t.Fatal(err)
	}
	report, err := verifier.VerifyByID(ctx, clinician("H1"), result.Certificate.CertificateID)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("missing ehr_referenced_at must not fail verification: %+v", report.Failures)
	}
}

func TestVerify_CollectsMultipleFailures(t *testing.T) {
	store, _, issuer, verifier := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	certID := result.Certificate.CertificateID

	// Break both the chain input and a signed field at once.
	tampered := *result.Certificate
	tampered.NoteHash = strings.Repeat("0", 64)
	tampered.Signature.CanonicalMessage["note_hash"] = tampered.NoteHash
	blob, _ := tampered.MarshalStored()
	store.TamperCertificateJSON("H1", certID, blob)

	report, err := verifier.VerifyByID(ctx, clinician("H1"), certID)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Failures) < 2 {
		t.Errorf("expected multiple failures reported, got %+v", report.Failures)
	}
}

func TestVerify_StoredRoundTrip(t *testing.T) {
	_, _, issuer, _ := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	blob, err := result.Certificate.MarshalStored()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseStored(blob)
	if err != nil {
		t.Fatal(err)
	}
	blob2, err := parsed.MarshalStored()
	if err != nil {
		t.Fatal(err)
	}
	if blob != blob2 {
		t.Error("stored certificate round trip not byte-stable")
	}
}
