// Copyright 2025 Swixixle
//
// Nonce Repository - tenant-scoped single-use nonce records
// The same nonce value under two different tenants is two distinct records.

package database

import (
	"context"
	"fmt"

	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// NonceRepository handles replay-protection nonce records
type NonceRepository struct {
	client *Client
}

// NewNonceRepository creates a new nonce repository
func NewNonceRepository(client *Client) *NonceRepository {
	return &NonceRepository{client: client}
}

// Record inserts the (tenant_id, nonce) pair. Returns ErrNonceAlreadyUsed
// if the pair exists; the unique constraint makes this atomic with respect
// to concurrent callers.
func (r *NonceRepository) Record(ctx context.Context, tenantID, nonce string) error {
	res, err := r.client.ExecContext(ctx, `
		INSERT INTO used_nonces (tenant_id, nonce, used_at_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, nonce) DO NOTHING`,
		tenantID, nonce, timeutil.NowUTC())
	if err != nil {
		return fmt.Errorf("failed to record nonce: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNonceAlreadyUsed
	}
	return nil
}

// Store delegation

func (r *Repositories) RecordNonce(ctx context.Context, tenantID, nonce string) error {
	return r.Nonces.Record(ctx, tenantID, nonce)
}
