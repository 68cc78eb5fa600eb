// Copyright 2025 Swixixle
//
// Per-tenant key registry
//
// Manages signing keys on a per-tenant basis:
//  1. Each tenant has isolated keys (prevents cross-tenant forgery)
//  2. Keys rotate without invalidating existing certificates
//  3. Verification uses the specific key_id that signed each certificate
//
// The cryptographic boundary MUST equal the tenant boundary. There is no
// shared fallback key: a tenant without usable key material is an error,
// never a signature under someone else's identity. An HSM/KMS backend can
// replace the Store-backed material without changing this contract.

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// ErrKeyNotFound is returned when no key matches a (tenant, key_id) lookup.
var ErrKeyNotFound = errors.New("key not found")

// ErrPrivateKeyUnavailable is returned when a key exists but its private
// material is not held (retired keys, or future HSM-held keys).
var ErrPrivateKeyUnavailable = errors.New("private key unavailable")

// TenantKey is one signing key owned by exactly one tenant.
type TenantKey struct {
	KeyID    string
	TenantID string
	Status   string
	JWK      *JWK
	private  *ecdsa.PrivateKey // nil when material is unavailable
}

// Private returns the signing key material.
func (k *TenantKey) Private() (*ecdsa.PrivateKey, error) {
	if k.private == nil {
		return nil, ErrPrivateKeyUnavailable
	}
	return k.private, nil
}

// Registry manages per-tenant key lifecycle over a Store, with an
// in-process cache keyed by tenant then key id.
type Registry struct {
	store  database.Store
	logger *log.Logger

	mu    sync.RWMutex
	cache map[string]map[string]*TenantKey
}

// NewRegistry creates a key registry over the given store.
func NewRegistry(store database.Store, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[KeyRegistry] ", log.LstdFlags)
	}
	return &Registry{
		store:  store,
		logger: logger,
		cache:  make(map[string]map[string]*TenantKey),
	}
}

// ActiveKey returns the tenant's single active key, lazily generating one
// if the tenant has none yet.
func (r *Registry) ActiveKey(ctx context.Context, tenantID string) (*TenantKey, error) {
	r.mu.RLock()
	for _, key := range r.cache[tenantID] {
		if key.Status == database.KeyStatusActive {
			r.mu.RUnlock()
			return key, nil
		}
	}
	r.mu.RUnlock()

	row, err := r.store.ActiveTenantKey(ctx, tenantID)
	if errors.Is(err, database.ErrKeyNotFound) {
		return r.generate(ctx, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("load active key: %w", err)
	}
	key, err := r.keyFromRow(row)
	if err != nil {
		return nil, err
	}
	r.cacheKey(key)
	return key, nil
}

// KeyByID returns a specific key, including rotated keys, for verification
// of old certificates.
func (r *Registry) KeyByID(ctx context.Context, tenantID, keyID string) (*TenantKey, error) {
	r.mu.RLock()
	if key, ok := r.cache[tenantID][keyID]; ok {
		r.mu.RUnlock()
		return key, nil
	}
	r.mu.RUnlock()

	row, err := r.store.TenantKeyByID(ctx, tenantID, keyID)
	if errors.Is(err, database.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", keyID, err)
	}
	key, err := r.keyFromRow(row)
	if err != nil {
		return nil, err
	}
	r.cacheKey(key)
	return key, nil
}

// EnsureKey is idempotent: it returns the active key's id, generating one
// if needed.
func (r *Registry) EnsureKey(ctx context.Context, tenantID string) (string, error) {
	key, err := r.ActiveKey(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return key.KeyID, nil
}

// Rotate marks the current active key rotated and creates a new active key.
// Existing certificates remain verifiable under their recorded key_id.
func (r *Registry) Rotate(ctx context.Context, tenantID string) (string, error) {
	newKey, row, err := r.buildKey(tenantID)
	if err != nil {
		return "", err
	}
	if err := r.store.RotateTenantKeys(ctx, tenantID, row); err != nil {
		return "", fmt.Errorf("rotate keys: %w", err)
	}
	r.invalidate(tenantID)
	r.cacheKey(newKey)
	r.logger.Printf("Rotated key for tenant %s -> %s", tenantID, newKey.KeyID)
	return newKey.KeyID, nil
}

// generate creates and persists the tenant's first key. The store inserts
// it only if no active key exists, under the tenant lock, so concurrent
// first-time callers (other goroutines or other replicas) converge on one
// key: whoever loses the race adopts the winner's row. Generation failure
// is fatal for the current request.
func (r *Registry) generate(ctx context.Context, tenantID string) (*TenantKey, error) {
	key, row, err := r.buildKey(tenantID)
	if err != nil {
		return nil, err
	}
	winner, err := r.store.CreateActiveTenantKey(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("store generated key: %w", err)
	}
	if winner.KeyID != key.KeyID {
		// A concurrent caller created the tenant's key first; ours is
		// discarded unused.
		key, err = r.keyFromRow(winner)
		if err != nil {
			return nil, err
		}
	} else {
		r.logger.Printf("Generated signing key %s for tenant %s", key.KeyID, tenantID)
	}
	r.invalidate(tenantID)
	r.cacheKey(key)
	return key, nil
}

func (r *Registry) buildKey(tenantID string) (*TenantKey, *database.TenantKeyRow, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate P-256 key: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generate key id: %w", err)
	}
	keyID := "key-" + id.String()

	jwk, err := PublicJWK(&priv.PublicKey, keyID)
	if err != nil {
		return nil, nil, err
	}
	jwkJSON, err := jwk.Marshal()
	if err != nil {
		return nil, nil, err
	}
	privPEM, err := encodePrivateKeyPEM(priv)
	if err != nil {
		return nil, nil, err
	}

	key := &TenantKey{
		KeyID:    keyID,
		TenantID: tenantID,
		Status:   database.KeyStatusActive,
		JWK:      jwk,
		private:  priv,
	}
	row := &database.TenantKeyRow{
		KeyID:         keyID,
		TenantID:      tenantID,
		PrivateKeyPEM: privPEM,
		PublicJWKJSON: jwkJSON,
		Status:        database.KeyStatusActive,
		CreatedAtUTC:  timeutil.NowUTC(),
	}
	return key, row, nil
}

func (r *Registry) keyFromRow(row *database.TenantKeyRow) (*TenantKey, error) {
	jwk, err := ParseJWK(row.PublicJWKJSON)
	if err != nil {
		return nil, err
	}
	key := &TenantKey{
		KeyID:    row.KeyID,
		TenantID: row.TenantID,
		Status:   row.Status,
		JWK:      jwk,
	}
	// Rotated keys may have had their private material retired; that only
	// blocks signing, never verification.
	if row.PrivateKeyPEM != "" {
		priv, err := decodePrivateKeyPEM(row.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		key.private = priv
	}
	return key, nil
}

func (r *Registry) cacheKey(key *TenantKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTenant := r.cache[key.TenantID]
	if byTenant == nil {
		byTenant = make(map[string]*TenantKey)
		r.cache[key.TenantID] = byTenant
	}
	byTenant[key.KeyID] = key
}

func (r *Registry) invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, tenantID)
}
