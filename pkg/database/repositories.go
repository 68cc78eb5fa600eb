// Copyright 2025 Swixixle
//
// Repositories - Postgres-backed implementation of the Store capability
// Provides a single point of access to all repository types

package database

import "log"

// Repositories holds all repository instances and implements Store.
type Repositories struct {
	Tenants      *TenantRepository
	Keys         *KeyRepository
	Certificates *CertificateRepository
	Nonces       *NonceRepository
	Audit        *AuditEventRepository
}

// Compile-time check that Repositories satisfies the Store capability.
var _ Store = (*Repositories)(nil)

// NewRepositories creates all repositories with the given client
func NewRepositories(client *Client) *Repositories {
	logger := log.New(log.Writer(), "[Database] ", log.LstdFlags)
	return &Repositories{
		Tenants:      NewTenantRepository(client),
		Keys:         NewKeyRepository(client),
		Certificates: NewCertificateRepository(client, logger),
		Nonces:       NewNonceRepository(client),
		Audit:        NewAuditEventRepository(client),
	}
}

// advisoryLockQuery serializes per-tenant critical sections across
// processes. hashtext folds the tenant id into the bigint lock space; the
// lock is released automatically at transaction end.
const advisoryLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`
