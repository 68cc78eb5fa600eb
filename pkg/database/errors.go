// Copyright 2025 Swixixle
//
// Package database provides sentinel errors for store operations.
// Explicit errors instead of nil, nil returns.

package database

import "errors"

// Sentinel errors for store operations
var (
	// ErrCertificateNotFound is returned when a certificate does not exist or
	// belongs to a different tenant. Callers must not distinguish the two.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrKeyNotFound is returned when a tenant key is not found
	ErrKeyNotFound = errors.New("key not found")

	// ErrTenantNotFound is returned when a tenant row is not found
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists is returned when creating a tenant that already exists
	ErrTenantExists = errors.New("tenant already exists")

	// ErrNonceAlreadyUsed is returned when a (tenant_id, nonce) pair was
	// already recorded. This is a replay signal, never retried silently.
	ErrNonceAlreadyUsed = errors.New("nonce already used")

	// ErrChainHeadMoved is returned when the tenant chain head observed at
	// certificate build time no longer matches at commit time.
	ErrChainHeadMoved = errors.New("tenant chain head moved")
)
