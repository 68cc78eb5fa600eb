// Copyright 2025 Swixixle
//
// Key Repository - tenant signing key rows
// One row per key, ever. Rotated keys remain indefinitely to verify old
// certificates.
//
// Both write paths (first-key creation and rotation) run under the tenant
// advisory lock so at most one active key exists per tenant at all times;
// the partial unique index on (tenant_id) WHERE status = 'active' backstops
// the invariant at the schema level.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// KeyRepository handles tenant key operations
type KeyRepository struct {
	client *Client
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(client *Client) *KeyRepository {
	return &KeyRepository{client: client}
}

// CreateActive inserts key as the tenant's active key only if none exists.
// Racing callers serialize on the tenant lock; losers get the winner's row
// back instead of a second active key.
func (r *KeyRepository) CreateActive(ctx context.Context, key *TenantKeyRow) (*TenantKeyRow, error) {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin key creation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, advisoryLockQuery, key.TenantID); err != nil {
		return nil, fmt.Errorf("failed to take tenant lock: %w", err)
	}

	// Re-check under the lock: a concurrent caller may have generated the
	// tenant's first key between our read and this transaction.
	existing, err := scanKeyRow(tx.QueryRowContext(ctx, `
		SELECT key_id, tenant_id, COALESCE(private_key_material, ''), public_jwk_json, status, created_at_utc
		FROM tenant_keys
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY created_at_utc DESC
		LIMIT 1`, key.TenantID))
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	if err := insertKeyTx(ctx, tx, key); err != nil {
		// The partial unique index is the backstop for writers that bypass
		// the advisory lock; on conflict the winner's row is the answer.
		if pqErr, ok := unwrapPQ(err); ok && pqErr.Code == "23505" {
			return r.Active(ctx, key.TenantID)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit key creation: %w", err)
	}
	return key, nil
}

// Active returns the tenant's single active key.
func (r *KeyRepository) Active(ctx context.Context, tenantID string) (*TenantKeyRow, error) {
	query := `
		SELECT key_id, tenant_id, COALESCE(private_key_material, ''), public_jwk_json, status, created_at_utc
		FROM tenant_keys
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY created_at_utc DESC
		LIMIT 1`

	return scanKeyRow(r.client.QueryRowContext(ctx, query, tenantID))
}

// ByID returns a specific key for verification of old certificates,
// including rotated keys.
func (r *KeyRepository) ByID(ctx context.Context, tenantID, keyID string) (*TenantKeyRow, error) {
	query := `
		SELECT key_id, tenant_id, COALESCE(private_key_material, ''), public_jwk_json, status, created_at_utc
		FROM tenant_keys
		WHERE tenant_id = $1 AND key_id = $2`

	return scanKeyRow(r.client.QueryRowContext(ctx, query, tenantID, keyID))
}

// Rotate atomically marks the current active key rotated and inserts newKey
// as the active key. Concurrent rotations for the same tenant serialize on
// the tenant advisory lock so exactly one new active key wins.
func (r *KeyRepository) Rotate(ctx context.Context, tenantID string, newKey *TenantKeyRow) error {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rotation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, advisoryLockQuery, tenantID); err != nil {
		return fmt.Errorf("failed to take tenant lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_keys SET status = 'rotated' WHERE tenant_id = $1 AND status = 'active'`,
		tenantID); err != nil {
		return fmt.Errorf("failed to mark active key rotated: %w", err)
	}

	if err := insertKeyTx(ctx, tx, newKey); err != nil {
		return err
	}

	return tx.Commit()
}

func insertKeyTx(ctx context.Context, tx *sql.Tx, key *TenantKeyRow) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_keys (
			key_id, tenant_id, private_key_material, public_jwk_json, status, created_at_utc
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.KeyID, key.TenantID, key.PrivateKeyPEM, key.PublicJWKJSON,
		key.Status, key.CreatedAtUTC); err != nil {
		return fmt.Errorf("failed to insert tenant key: %w", err)
	}
	return nil
}

func scanKeyRow(row *sql.Row) (*TenantKeyRow, error) {
	key := &TenantKeyRow{}
	err := row.Scan(
		&key.KeyID, &key.TenantID, &key.PrivateKeyPEM, &key.PublicJWKJSON,
		&key.Status, &key.CreatedAtUTC,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant key: %w", err)
	}
	return key, nil
}

func unwrapPQ(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// Store delegation

func (r *Repositories) CreateActiveTenantKey(ctx context.Context, key *TenantKeyRow) (*TenantKeyRow, error) {
	return r.Keys.CreateActive(ctx, key)
}

func (r *Repositories) ActiveTenantKey(ctx context.Context, tenantID string) (*TenantKeyRow, error) {
	return r.Keys.Active(ctx, tenantID)
}

func (r *Repositories) TenantKeyByID(ctx context.Context, tenantID, keyID string) (*TenantKeyRow, error) {
	return r.Keys.ByID(ctx, tenantID, keyID)
}

func (r *Repositories) RotateTenantKeys(ctx context.Context, tenantID string, newKey *TenantKeyRow) error {
	return r.Keys.Rotate(ctx, tenantID, newKey)
}
