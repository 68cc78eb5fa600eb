package gatekeeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/nonce"
)

const testSecret = "unit-test-gatekeeper-signing-key"

func newGatekeeper(t *testing.T, ttl time.Duration) *Gatekeeper {
	t.Helper()
	g, err := New(testSecret, ttl, nonce.NewStore(database.NewMemStore()), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestCommitToken_RoundTrip(t *testing.T) {
	g := newGatekeeper(t, 5*time.Minute)
	ctx := context.Background()

	token, err := g.MintCommitToken("H1", "cert-1", "commit-42")
	if err != nil {
		t.Fatal(err)
	}
	info, err := g.VerifyCommitToken(ctx, "H1", token)
	if err != nil {
		t.Fatal(err)
	}
	if info.CertificateID != "cert-1" || info.TenantID != "H1" || info.EHRCommitID != "commit-42" {
		t.Errorf("unexpected token info: %+v", info)
	}
}

func TestCommitToken_SingleUse(t *testing.T) {
	g := newGatekeeper(t, 5*time.Minute)
	ctx := context.Background()

	token, err := g.MintCommitToken("H1", "cert-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.VerifyCommitToken(ctx, "H1", token); err != nil {
		t.Fatal(err)
	}
	if _, err := g.VerifyCommitToken(ctx, "H1", token); !errors.Is(err, ErrNonceReplay) {
		t.Fatalf("expected ErrNonceReplay on second presentation, got %v", err)
	}
}

func TestCommitToken_Expired(t *testing.T) {
	g := newGatekeeper(t, -time.Minute)
	ctx := context.Background()

	token, err := g.MintCommitToken("H1", "cert-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.VerifyCommitToken(ctx, "H1", token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCommitToken_TenantMismatch(t *testing.T) {
	g := newGatekeeper(t, 5*time.Minute)
	ctx := context.Background()

	token, err := g.MintCommitToken("H1", "cert-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.VerifyCommitToken(ctx, "H2", token); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %v", err)
	}
}

func TestCommitToken_Malformed(t *testing.T) {
	g := newGatekeeper(t, 5*time.Minute)
	ctx := context.Background()

	if _, err := g.VerifyCommitToken(ctx, "H1", "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCommitToken_WrongSecret(t *testing.T) {
	g := newGatekeeper(t, 5*time.Minute)
	other, err := New("a-completely-different-signing-key!", 5*time.Minute,
		nonce.NewStore(database.NewMemStore()), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	token, err := other.MintCommitToken("H1", "cert-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.VerifyCommitToken(context.Background(), "H1", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := New("", time.Minute, nonce.NewStore(database.NewMemStore()), nil, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestCommitToken_TTLDefaultNotExpired(t *testing.T) {
	// Zero ttl falls back to the 5 minute default; a fresh token must not
	// already be expired.
	g, err := New(testSecret, 0, nonce.NewStore(database.NewMemStore()), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	token, err := g.MintCommitToken("H1", "cert-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.VerifyCommitToken(context.Background(), "H1", token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}
