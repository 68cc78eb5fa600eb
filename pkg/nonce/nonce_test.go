package nonce

import (
	"context"
	"testing"

	"github.com/swixixle/cdil-gateway/pkg/database"
)

func TestCheckAndRecord(t *testing.T) {
	ctx := context.Background()
	s := NewStore(database.NewMemStore())

	wasNew, err := s.CheckAndRecord(ctx, "H1", "n1")
	if err != nil || !wasNew {
		t.Fatalf("first use: wasNew=%v err=%v", wasNew, err)
	}
	wasNew, err = s.CheckAndRecord(ctx, "H1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if wasNew {
		t.Error("second use reported as new")
	}

	// Tenant scoping: same value under another tenant is fresh.
	wasNew, err = s.CheckAndRecord(ctx, "H2", "n1")
	if err != nil || !wasNew {
		t.Errorf("cross-tenant nonce rejected: wasNew=%v err=%v", wasNew, err)
	}
}
