// Copyright 2025 Swixixle
//
// Store capability consumed by the CDIL core.
//
// Production and tests select an implementation at assembly time (the
// Postgres-backed Repositories or the in-memory MemStore) and pass it via
// constructors. There is no global rebinding.

package database

import "context"

// Store is the narrow persistence capability the core depends on. Every
// method accepts a context so callers can impose deadlines; a cancelled
// issuance rolls back its transaction.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, tenantID string) error
	TenantExists(ctx context.Context, tenantID string) (bool, error)

	// Tenant keys
	// CreateActiveTenantKey inserts key as the tenant's active key only if
	// the tenant has none, serialized against concurrent callers. It returns
	// the winning active row: the inserted key, or the already-active key a
	// concurrent caller created first. This is what keeps the "at most one
	// active key per tenant" invariant under racing lazy generation.
	CreateActiveTenantKey(ctx context.Context, key *TenantKeyRow) (*TenantKeyRow, error)
	ActiveTenantKey(ctx context.Context, tenantID string) (*TenantKeyRow, error)
	TenantKeyByID(ctx context.Context, tenantID, keyID string) (*TenantKeyRow, error)
	// RotateTenantKeys atomically marks the tenant's active key rotated and
	// inserts newKey as the active key.
	RotateTenantKeys(ctx context.Context, tenantID string, newKey *TenantKeyRow) error

	// Certificates
	// ChainHead returns the chain_hash of the tenant's most recently issued
	// certificate, or nil if the tenant has none.
	ChainHead(ctx context.Context, tenantID string) (*string, error)
	// IssueCertificate atomically reserves the nonce, inserts the
	// certificate, and appends its issuance audit event. prevChainHash is
	// the chain head the caller built against; if the head moved the call
	// fails with ErrChainHeadMoved and nothing is persisted.
	IssueCertificate(ctx context.Context, cert *CertificateRow, prevChainHash *string, nonce string, event *AuditEventInsert) error
	CertificateByID(ctx context.Context, tenantID, certificateID string) (*CertificateRow, error)

	// Nonces
	// RecordNonce inserts the (tenant_id, nonce) pair; returns
	// ErrNonceAlreadyUsed if it was already present.
	RecordNonce(ctx context.Context, tenantID, nonce string) error

	// Audit ledger
	// AppendAuditEvent reads the tenant's chain tip and inserts the event
	// with its hash, under a lock that also guards the insert.
	AppendAuditEvent(ctx context.Context, ev *AuditEventInsert) (*AuditEventRow, error)
	// AuditEvents returns a tenant's events in canonical order
	// (occurred_at_utc asc, event_id asc), paginated.
	AuditEvents(ctx context.Context, tenantID string, limit, offset int) ([]AuditEventRow, error)
	// AllAuditEvents returns every event in canonical order; tenantID ""
	// means all tenants (ordered tenant_id asc first).
	AllAuditEvents(ctx context.Context, tenantID string) ([]AuditEventRow, error)
}
