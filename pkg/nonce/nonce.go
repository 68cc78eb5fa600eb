// Copyright 2025 Swixixle
//
// Per-tenant single-use nonce store
//
// Set-with-insert semantics over (tenant_id, nonce). The same nonce value
// under two different tenants is two independent records. Retention is
// indefinite for the life of the tenant.

package nonce

import (
	"context"
	"errors"
	"fmt"

	"github.com/swixixle/cdil-gateway/pkg/database"
)

// Store provides replay protection for signed payloads.
type Store struct {
	backend database.Store
}

// NewStore creates a nonce store over the persistence backend.
func NewStore(backend database.Store) *Store {
	return &Store{backend: backend}
}

// CheckAndRecord inserts the pair and reports whether it was new. A false
// return is a replay signal. Atomic with respect to concurrent callers on
// the same tenant.
func (s *Store) CheckAndRecord(ctx context.Context, tenantID, nonce string) (bool, error) {
	err := s.backend.RecordNonce(ctx, tenantID, nonce)
	if errors.Is(err, database.ErrNonceAlreadyUsed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return true, nil
}
