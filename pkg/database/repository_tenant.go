// Copyright 2025 Swixixle
//
// Tenant Repository - tenant lifecycle rows
// Tenants are created once and never deleted while any certificate or audit
// event references them.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// TenantRepository handles tenant row operations
type TenantRepository struct {
	client *Client
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(client *Client) *TenantRepository {
	return &TenantRepository{client: client}
}

// Create inserts a new active tenant.
func (r *TenantRepository) Create(ctx context.Context, tenantID string) error {
	query := `
		INSERT INTO tenants (tenant_id, status, created_at_utc)
		VALUES ($1, 'active', $2)`

	_, err := r.client.ExecContext(ctx, query, tenantID, timeutil.NowUTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrTenantExists
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// Exists reports whether the tenant row is present.
func (r *TenantRepository) Exists(ctx context.Context, tenantID string) (bool, error) {
	var one int
	err := r.client.QueryRowContext(ctx,
		`SELECT 1 FROM tenants WHERE tenant_id = $1`, tenantID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query tenant: %w", err)
	}
	return true, nil
}

// Store delegation

func (r *Repositories) CreateTenant(ctx context.Context, tenantID string) error {
	return r.Tenants.Create(ctx, tenantID)
}

func (r *Repositories) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	return r.Tenants.Exists(ctx, tenantID)
}
