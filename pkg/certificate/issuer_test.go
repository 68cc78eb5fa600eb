// Copyright 2025 Swixixle
//
// Issuer tests over the in-memory store

package certificate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/swixixle/cdil-gateway/pkg/auth"
	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/hashing"
	"github.com/swixixle/cdil-gateway/pkg/keys"
)

func newHarness(t *testing.T) (*database.MemStore, *keys.Registry, *Issuer, *Verifier) {
	t.Helper()
	store := database.NewMemStore()
	registry := keys.NewRegistry(store, nil)
	issuer := NewIssuer(store, registry, nil, nil)
	verifier := NewVerifier(store, registry, nil)
	return store, registry, issuer, verifier
}

func clinician(tenant string) auth.Identity {
	return auth.Identity{Subject: "dr-smith", TenantID: tenant, Role: auth.RoleClinician}
}

func validRequest() *Request {
	return &Request{
		NoteText:                "Patient report",
		ModelName:               "gpt-4",
		ModelVersion:            "v1",
		PromptVersion:           "p1",
		GovernancePolicyVersion: "g1",
		HumanReviewed:           true,
	}
}

func TestIssue_HappyPath(t *testing.T) {
	_, _, issuer, _ := newHarness(t)

	result, err := issuer.Issue(context.Background(), clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	cert := result.Certificate

	if cert.IntegrityChain.PreviousHash != nil {
		t.Error("first certificate must have nil previous_hash")
	}
	if !strings.HasPrefix(cert.IntegrityChain.ChainHash, "sha256:") {
		t.Errorf("chain hash missing prefix: %s", cert.IntegrityChain.ChainHash)
	}
	if cert.NoteHash != hashing.SHA256Hex([]byte("Patient report")) {
		t.Errorf("unexpected note hash: %s", cert.NoteHash)
	}
	if cert.Signature == nil || cert.Signature.Signature == "" {
		t.Fatal("certificate not signed")
	}
	if result.KeyID != cert.Signature.KeyID || result.Algorithm != "ECDSA_SHA_256" {
		t.Errorf("unexpected result bundle: %+v", result)
	}

	// The signed message carries exactly the closed field set.
	msg := cert.Signature.CanonicalMessage
	if len(msg) != len(SignedFields) {
		t.Errorf("signed field count %d, want %d", len(msg), len(SignedFields))
	}
	for _, f := range SignedFields {
		if _, ok := msg[f]; !ok {
			t.Errorf("signed message missing field %s", f)
		}
	}
	if _, ok := msg["patient_hash"]; ok {
		t.Error("patient_hash must not be signed")
	}
}

func TestIssue_ChainLinkage(t *testing.T) {
	_, _, issuer, _ := newHarness(t)
	ctx := context.Background()

	a, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	b, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if b.Certificate.IntegrityChain.PreviousHash == nil ||
		*b.Certificate.IntegrityChain.PreviousHash != a.Certificate.IntegrityChain.ChainHash {
		t.Error("second certificate does not link to first")
	}

	// Another tenant's chain starts fresh.
	c, err := issuer.Issue(ctx, clinician("H2"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if c.Certificate.IntegrityChain.PreviousHash != nil {
		t.Error("tenant H2's first certificate must have nil previous_hash")
	}
}

func TestIssue_ConcurrentSameTenant(t *testing.T) {
	_, _, issuer, _ := newHarness(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make([]*IssueResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = issuer.Issue(ctx, clinician("H1"), validRequest())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("issuance %d failed: %v", i, err)
		}
	}

	// Chain must be unbroken: exactly one certificate has nil
	// previous_hash, and every chain_hash is some other certificate's
	// previous_hash except the final head.
	heads := make(map[string]bool)
	var roots int
	for _, r := range results {
		heads[r.Certificate.IntegrityChain.ChainHash] = true
		if r.Certificate.IntegrityChain.PreviousHash == nil {
			roots++
		}
	}
	if roots != 1 {
		t.Fatalf("expected exactly one chain root, got %d", roots)
	}
	var linked int
	for _, r := range results {
		if prev := r.Certificate.IntegrityChain.PreviousHash; prev != nil {
			if !heads[*prev] {
				t.Errorf("certificate %s links to unknown hash", r.Certificate.CertificateID)
			}
			linked++
		}
	}
	if linked != n-1 {
		t.Errorf("expected %d linked certificates, got %d", n-1, linked)
	}
}

func TestIssue_PHIDetected(t *testing.T) {
	_, _, issuer, _ := newHarness(t)

	req := validRequest()
	req.NoteText = "Patient SSN is 123-45-6789"
	_, err := issuer.Issue(context.Background(), clinician("H1"), req)

	var phiErr *PHIError
	if !errors.As(err, &phiErr) {
		t.Fatalf("expected PHIError, got %v", err)
	}
	if len(phiErr.Categories) != 1 || phiErr.Categories[0] != "ssn" {
		t.Errorf("unexpected categories: %v", phiErr.Categories)
	}
	if strings.Contains(err.Error(), "123-45-6789") {
		t.Error("error message leaked the matched substring")
	}
}

func TestIssue_MissingFields(t *testing.T) {
	_, _, issuer, _ := newHarness(t)

	req := validRequest()
	req.ModelVersion = ""
	_, err := issuer.Issue(context.Background(), clinician("H1"), req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestIssue_NoteBodyNeverStored(t *testing.T) {
	store, _, issuer, _ := newHarness(t)
	ctx := context.Background()

	const noteText = "UNIQUE-SENTINEL-NOTE-BODY"
	req := validRequest()
	req.NoteText = noteText
	result, err := issuer.Issue(ctx, clinician("H1"), req)
	if err != nil {
		t.Fatal(err)
	}

	row, err := store.CertificateByID(ctx, "H1", result.Certificate.CertificateID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(row.CertificateJSON, noteText) {
		t.Error("stored certificate contains the plaintext note body")
	}
	events, err := store.AllAuditEvents(ctx, "H1")
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if strings.Contains(ev.EventPayloadJSON, noteText) {
			t.Error("audit payload contains the plaintext note body")
		}
	}
}

func TestIssue_AppendsAuditEvent(t *testing.T) {
	store, _, issuer, _ := newHarness(t)
	ctx := context.Background()

	result, err := issuer.Issue(ctx, clinician("H1"), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	events, err := store.AllAuditEvents(ctx, "H1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one audit event, got %d", len(events))
	}
	ev := events[0]
	if ev.ObjectType != "certificate" || ev.Action != "issued" ||
		ev.ObjectID != result.Certificate.CertificateID {
		t.Errorf("unexpected audit event: %+v", ev)
	}
	if ev.ActorID == nil || *ev.ActorID != "dr-smith" {
		t.Error("audit event missing actor")
	}
}
