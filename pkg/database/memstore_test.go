package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/swixixle/cdil-gateway/pkg/ledgerhash"
)

func memEvent(tenant, id string) *AuditEventInsert {
	return &AuditEventInsert{
		EventID:          id,
		TenantID:         tenant,
		OccurredAtUTC:    "2025-06-01T10:00:00.000000Z",
		ObjectType:       "certificate",
		ObjectID:         "cert-" + id,
		Action:           "issued",
		EventPayloadJSON: fmt.Sprintf(`{"event":"%s"}`, id),
	}
}

func TestMemStore_NonceUniquePerTenant(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	if err := m.RecordNonce(ctx, "H1", "n1"); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordNonce(ctx, "H1", "n1"); !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Errorf("expected ErrNonceAlreadyUsed, got %v", err)
	}
	// Same nonce for a different tenant must succeed.
	if err := m.RecordNonce(ctx, "H2", "n1"); err != nil {
		t.Errorf("tenant-scoped nonce rejected: %v", err)
	}
}

func TestMemStore_AuditChainLinks(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	e1, err := m.AppendAuditEvent(ctx, memEvent("H1", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if e1.PrevEventHash != nil {
		t.Error("first event must have nil prev hash")
	}

	e2, err := m.AppendAuditEvent(ctx, memEvent("H1", "2"))
	if err != nil {
		t.Fatal(err)
	}
	if e2.PrevEventHash == nil || *e2.PrevEventHash != e1.EventHash {
		t.Error("second event does not link to first")
	}

	want := ledgerhash.ComputeEventHash(e1.EventHash,
		e2.OccurredAtUTC, e2.ObjectType, e2.ObjectID, e2.Action, e2.EventPayloadJSON)
	if e2.EventHash != want {
		t.Errorf("event hash mismatch: got %s, want %s", e2.EventHash, want)
	}

	// An event for another tenant starts its own chain.
	other, err := m.AppendAuditEvent(ctx, memEvent("H2", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if other.PrevEventHash != nil {
		t.Error("chains must be per tenant")
	}
}

func TestMemStore_IssueChainHeadCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	cert := &CertificateRow{
		CertificateID: "c1", TenantID: "H1",
		Timestamp: "t", NoteHash: "n", ChainHash: "sha256:aaaa",
		CertificateJSON: "{}", CreatedAtUTC: "t",
	}
	if err := m.IssueCertificate(ctx, cert, nil, "n1", memEvent("H1", "1")); err != nil {
		t.Fatal(err)
	}

	// Second issuance built against a stale (nil) head must fail.
	cert2 := &CertificateRow{
		CertificateID: "c2", TenantID: "H1",
		Timestamp: "t", NoteHash: "n", ChainHash: "sha256:bbbb",
		CertificateJSON: "{}", CreatedAtUTC: "t",
	}
	if err := m.IssueCertificate(ctx, cert2, nil, "n2", memEvent("H1", "2")); !errors.Is(err, ErrChainHeadMoved) {
		t.Fatalf("expected ErrChainHeadMoved, got %v", err)
	}

	head, err := m.ChainHead(ctx, "H1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.IssueCertificate(ctx, cert2, head, "n2", memEvent("H1", "2")); err != nil {
		t.Fatalf("issuance against fresh head failed: %v", err)
	}
}

func TestMemStore_IssueReplayLeavesNoState(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	cert := &CertificateRow{
		CertificateID: "c1", TenantID: "H1",
		Timestamp: "t", NoteHash: "n", ChainHash: "sha256:aaaa",
		CertificateJSON: "{}", CreatedAtUTC: "t",
	}
	if err := m.RecordNonce(ctx, "H1", "n1"); err != nil {
		t.Fatal(err)
	}
	err := m.IssueCertificate(ctx, cert, nil, "n1", memEvent("H1", "1"))
	if !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Fatalf("expected ErrNonceAlreadyUsed, got %v", err)
	}
	if _, err := m.CertificateByID(ctx, "H1", "c1"); !errors.Is(err, ErrCertificateNotFound) {
		t.Error("aborted issuance must not persist a certificate")
	}
	events, _ := m.AllAuditEvents(ctx, "H1")
	if len(events) != 0 {
		t.Error("aborted issuance must not append an audit event")
	}
}

func TestMemStore_CreateActiveTenantKey_SecondCallerGetsWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	k1 := &TenantKeyRow{KeyID: "key-1", TenantID: "H1", Status: KeyStatusActive, PublicJWKJSON: "{}", CreatedAtUTC: "t1"}
	winner, err := m.CreateActiveTenantKey(ctx, k1)
	if err != nil {
		t.Fatal(err)
	}
	if winner.KeyID != "key-1" {
		t.Fatalf("first creation must win: %s", winner.KeyID)
	}

	// A racing second creation must return the existing active key, not
	// insert a second active row.
	k2 := &TenantKeyRow{KeyID: "key-2", TenantID: "H1", Status: KeyStatusActive, PublicJWKJSON: "{}", CreatedAtUTC: "t2"}
	winner, err = m.CreateActiveTenantKey(ctx, k2)
	if err != nil {
		t.Fatal(err)
	}
	if winner.KeyID != "key-1" {
		t.Errorf("loser must adopt the winner, got %s", winner.KeyID)
	}
	if _, err := m.TenantKeyByID(ctx, "H1", "key-2"); !errors.Is(err, ErrKeyNotFound) {
		t.Error("losing key must not be persisted")
	}

	// Different tenants do not contend.
	other := &TenantKeyRow{KeyID: "key-3", TenantID: "H2", Status: KeyStatusActive, PublicJWKJSON: "{}", CreatedAtUTC: "t3"}
	winner, err = m.CreateActiveTenantKey(ctx, other)
	if err != nil || winner.KeyID != "key-3" {
		t.Errorf("cross-tenant creation blocked: %v %v", winner, err)
	}
}

func TestMemStore_KeyRotation(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	k1 := &TenantKeyRow{KeyID: "key-1", TenantID: "H1", Status: KeyStatusActive, PublicJWKJSON: "{}", CreatedAtUTC: "t1"}
	if _, err := m.CreateActiveTenantKey(ctx, k1); err != nil {
		t.Fatal(err)
	}
	k2 := &TenantKeyRow{KeyID: "key-2", TenantID: "H1", Status: KeyStatusActive, PublicJWKJSON: "{}", CreatedAtUTC: "t2"}
	if err := m.RotateTenantKeys(ctx, "H1", k2); err != nil {
		t.Fatal(err)
	}

	active, err := m.ActiveTenantKey(ctx, "H1")
	if err != nil {
		t.Fatal(err)
	}
	if active.KeyID != "key-2" {
		t.Errorf("expected key-2 active, got %s", active.KeyID)
	}
	old, err := m.TenantKeyByID(ctx, "H1", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != KeyStatusRotated {
		t.Errorf("expected key-1 rotated, got %s", old.Status)
	}
}
