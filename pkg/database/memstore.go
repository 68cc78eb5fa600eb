// Copyright 2025 Swixixle
//
// In-memory Store implementation
//
// Selected at assembly time by tests and local tooling; production uses the
// Postgres-backed Repositories. Behavior mirrors the Postgres store,
// including the atomic issuance critical section and the nonce uniqueness
// constraint.

package database

import (
	"context"
	"sort"
	"sync"

	"github.com/swixixle/cdil-gateway/pkg/ledgerhash"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// MemStore is an in-memory Store. Safe for concurrent use.
type MemStore struct {
	mu           sync.Mutex
	tenants      map[string]*TenantRow
	keys         map[string][]*TenantKeyRow // tenant_id -> rows, insert order
	certificates map[string][]*CertificateRow
	nonces       map[string]map[string]string // tenant_id -> nonce -> used_at
	events       map[string][]AuditEventRow   // tenant_id -> canonical order
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tenants:      make(map[string]*TenantRow),
		keys:         make(map[string][]*TenantKeyRow),
		certificates: make(map[string][]*CertificateRow),
		nonces:       make(map[string]map[string]string),
		events:       make(map[string][]AuditEventRow),
	}
}

func (m *MemStore) CreateTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; ok {
		return ErrTenantExists
	}
	m.tenants[tenantID] = &TenantRow{
		TenantID:     tenantID,
		Status:       "active",
		CreatedAtUTC: timeutil.NowUTC(),
	}
	return nil
}

func (m *MemStore) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tenants[tenantID]
	return ok, nil
}

func (m *MemStore) CreateActiveTenantKey(ctx context.Context, key *TenantKeyRow) (*TenantKeyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same semantics as the Postgres path: if an active key already exists,
	// the racing caller gets the winner back, never a second active row.
	for i := len(m.keys[key.TenantID]) - 1; i >= 0; i-- {
		if row := m.keys[key.TenantID][i]; row.Status == KeyStatusActive {
			winner := *row
			return &winner, nil
		}
	}
	copied := *key
	m.keys[key.TenantID] = append(m.keys[key.TenantID], &copied)
	inserted := copied
	return &inserted, nil
}

func (m *MemStore) ActiveTenantKey(ctx context.Context, tenantID string) (*TenantKeyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.keys[tenantID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Status == KeyStatusActive {
			copied := *rows[i]
			return &copied, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MemStore) TenantKeyByID(ctx context.Context, tenantID, keyID string) (*TenantKeyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.keys[tenantID] {
		if row.KeyID == keyID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MemStore) RotateTenantKeys(ctx context.Context, tenantID string, newKey *TenantKeyRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.keys[tenantID] {
		if row.Status == KeyStatusActive {
			row.Status = KeyStatusRotated
		}
	}
	copied := *newKey
	m.keys[tenantID] = append(m.keys[tenantID], &copied)
	return nil
}

func (m *MemStore) ChainHead(ctx context.Context, tenantID string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainHeadLocked(tenantID), nil
}

func (m *MemStore) chainHeadLocked(tenantID string) *string {
	certs := m.certificates[tenantID]
	if len(certs) == 0 {
		return nil
	}
	head := certs[len(certs)-1].ChainHash
	return &head
}

func (m *MemStore) IssueCertificate(ctx context.Context, cert *CertificateRow, prevChainHash *string, nonce string, event *AuditEventInsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := m.chainHeadLocked(cert.TenantID)
	if (head == nil) != (prevChainHash == nil) || (head != nil && *head != *prevChainHash) {
		return ErrChainHeadMoved
	}

	if err := m.recordNonceLocked(cert.TenantID, nonce); err != nil {
		return err
	}

	copied := *cert
	m.certificates[cert.TenantID] = append(m.certificates[cert.TenantID], &copied)
	m.appendEventLocked(event)
	return nil
}

func (m *MemStore) CertificateByID(ctx context.Context, tenantID, certificateID string) (*CertificateRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cert := range m.certificates[tenantID] {
		if cert.CertificateID == certificateID {
			copied := *cert
			return &copied, nil
		}
	}
	return nil, ErrCertificateNotFound
}

func (m *MemStore) RecordNonce(ctx context.Context, tenantID, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordNonceLocked(tenantID, nonce)
}

func (m *MemStore) recordNonceLocked(tenantID, nonce string) error {
	byTenant := m.nonces[tenantID]
	if byTenant == nil {
		byTenant = make(map[string]string)
		m.nonces[tenantID] = byTenant
	}
	if _, used := byTenant[nonce]; used {
		return ErrNonceAlreadyUsed
	}
	byTenant[nonce] = timeutil.NowUTC()
	return nil
}

func (m *MemStore) AppendAuditEvent(ctx context.Context, ev *AuditEventInsert) (*AuditEventRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.appendEventLocked(ev)
	copied := row
	return &copied, nil
}

func (m *MemStore) appendEventLocked(ev *AuditEventInsert) AuditEventRow {
	events := m.events[ev.TenantID]

	prev := ""
	var prevPtr *string
	if len(events) > 0 {
		prev = events[len(events)-1].EventHash
		p := prev
		prevPtr = &p
	}

	row := AuditEventRow{
		EventID:          ev.EventID,
		TenantID:         ev.TenantID,
		OccurredAtUTC:    ev.OccurredAtUTC,
		ObjectType:       ev.ObjectType,
		ObjectID:         ev.ObjectID,
		Action:           ev.Action,
		EventPayloadJSON: ev.EventPayloadJSON,
		PrevEventHash:    prevPtr,
		EventHash: ledgerhash.ComputeEventHash(
			prev, ev.OccurredAtUTC, ev.ObjectType, ev.ObjectID, ev.Action, ev.EventPayloadJSON,
		),
	}
	if ev.ActorID != "" {
		actor := ev.ActorID
		row.ActorID = &actor
	}
	m.events[ev.TenantID] = append(events, row)
	return row
}

func (m *MemStore) AuditEvents(ctx context.Context, tenantID string, limit, offset int) ([]AuditEventRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[tenantID]
	if offset >= len(events) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(events) {
		end = len(events)
	}
	out := make([]AuditEventRow, end-offset)
	copy(out, events[offset:end])
	return out, nil
}

func (m *MemStore) AllAuditEvents(ctx context.Context, tenantID string) ([]AuditEventRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenantID != "" {
		out := make([]AuditEventRow, len(m.events[tenantID]))
		copy(out, m.events[tenantID])
		return out, nil
	}
	tenants := make([]string, 0, len(m.events))
	for t := range m.events {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	var out []AuditEventRow
	for _, t := range tenants {
		out = append(out, m.events[t]...)
	}
	return out, nil
}

// TamperEventPayload overwrites a stored event payload without rehashing.
// Test hook for exercising ledger verification failures; no production code
// path calls it.
func (m *MemStore) TamperEventPayload(tenantID, eventID, payload string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events[tenantID] {
		if m.events[tenantID][i].EventID == eventID {
			m.events[tenantID][i].EventPayloadJSON = payload
			return true
		}
	}
	return false
}

// TamperCertificateJSON overwrites a stored certificate blob. Test hook.
func (m *MemStore) TamperCertificateJSON(tenantID, certificateID, certificateJSON string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cert := range m.certificates[tenantID] {
		if cert.CertificateID == certificateID {
			cert.CertificateJSON = certificateJSON
			return true
		}
	}
	return false
}
