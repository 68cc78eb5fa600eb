// Copyright 2025 Swixixle
//
// Certificate Repository - immutable certificate rows and the issuance
// critical section
//
// Issuance is the atomicity point of the whole protocol: nonce reservation,
// certificate insert, and the issuance audit event commit together or not at
// all, under the tenant advisory lock. A successful issuance can never leave
// an orphan nonce or an orphan audit event.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// CertificateRepository handles certificate operations
type CertificateRepository struct {
	client *Client
	logger *log.Logger
}

// NewCertificateRepository creates a new certificate repository
func NewCertificateRepository(client *Client, logger *log.Logger) *CertificateRepository {
	if logger == nil {
		logger = log.New(log.Writer(), "[Database] ", log.LstdFlags)
	}
	return &CertificateRepository{client: client, logger: logger}
}

// ChainHead returns the chain_hash of the tenant's most recently issued
// certificate, or nil if the tenant has none.
func (r *CertificateRepository) ChainHead(ctx context.Context, tenantID string) (*string, error) {
	var head string
	err := r.client.QueryRowContext(ctx, `
		SELECT chain_hash FROM certificates
		WHERE tenant_id = $1
		ORDER BY created_at_utc DESC, certificate_id DESC
		LIMIT 1`, tenantID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}
	return &head, nil
}

// Issue atomically reserves the nonce, inserts the certificate, and appends
// its issuance audit event. prevChainHash is the head the caller built
// against; if another issuance committed in between, the call fails with
// ErrChainHeadMoved and nothing is persisted.
func (r *CertificateRepository) Issue(ctx context.Context, cert *CertificateRow, prevChainHash *string, nonce string, event *AuditEventInsert) error {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin issuance transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, advisoryLockQuery, cert.TenantID); err != nil {
		return fmt.Errorf("failed to take tenant lock: %w", err)
	}

	// Re-check the chain head under the lock. The caller read it before
	// signing; a mismatch means a concurrent issuance won.
	var head sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT chain_hash FROM certificates
		WHERE tenant_id = $1
		ORDER BY created_at_utc DESC, certificate_id DESC
		LIMIT 1`, cert.TenantID).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to re-read chain head: %w", err)
	}
	if (head.Valid != (prevChainHash != nil)) || (head.Valid && head.String != *prevChainHash) {
		return ErrChainHeadMoved
	}

	// Reserve the nonce. A duplicate pair is a replay signal, not retried.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO used_nonces (tenant_id, nonce, used_at_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, nonce) DO NOTHING`,
		cert.TenantID, nonce, timeutil.NowUTC())
	if err != nil {
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNonceAlreadyUsed
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO certificates (
			certificate_id, tenant_id, timestamp, note_hash, chain_hash,
			certificate_json, created_at_utc
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cert.CertificateID, cert.TenantID, cert.Timestamp, cert.NoteHash,
		cert.ChainHash, cert.CertificateJSON, cert.CreatedAtUTC); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("certificate id collision: %w", err)
		}
		return fmt.Errorf("failed to insert certificate: %w", err)
	}

	// A certificate without its genesis audit event must never exist; any
	// failure here rolls back the whole issuance.
	if _, err := appendEventTx(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit issuance: %w", err)
	}
	return nil
}

// ByID retrieves a certificate for one tenant. A certificate owned by a
// different tenant is reported exactly like a missing one.
func (r *CertificateRepository) ByID(ctx context.Context, tenantID, certificateID string) (*CertificateRow, error) {
	cert := &CertificateRow{}
	err := r.client.QueryRowContext(ctx, `
		SELECT certificate_id, tenant_id, timestamp, note_hash, chain_hash,
			certificate_json, created_at_utc
		FROM certificates
		WHERE tenant_id = $1 AND certificate_id = $2`,
		tenantID, certificateID).Scan(
		&cert.CertificateID, &cert.TenantID, &cert.Timestamp, &cert.NoteHash,
		&cert.ChainHash, &cert.CertificateJSON, &cert.CreatedAtUTC,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan certificate: %w", err)
	}
	return cert, nil
}

// Store delegation

func (r *Repositories) ChainHead(ctx context.Context, tenantID string) (*string, error) {
	return r.Certificates.ChainHead(ctx, tenantID)
}

func (r *Repositories) IssueCertificate(ctx context.Context, cert *CertificateRow, prevChainHash *string, nonce string, event *AuditEventInsert) error {
	return r.Certificates.Issue(ctx, cert, prevChainHash, nonce, event)
}

func (r *Repositories) CertificateByID(ctx context.Context, tenantID, certificateID string) (*CertificateRow, error) {
	return r.Certificates.ByID(ctx, tenantID, certificateID)
}
