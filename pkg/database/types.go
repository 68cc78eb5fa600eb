// Copyright 2025 Swixixle
//
// Row types for the CDIL persisted state layout.
//
// All *_utc columns are stored as ISO-8601 UTC text with a trailing Z and
// compared as text. event_payload_json and certificate_json are stored as
// text exactly as hashed; a JSON-typed column that re-serializes would
// change bytes and break the hash chain.

package database

// TenantRow is one row of the tenants table.
type TenantRow struct {
	TenantID     string
	Status       string // "active" or "retired"
	CreatedAtUTC string
}

// TenantKeyRow is one row of the tenant_keys table. One row per key, ever.
type TenantKeyRow struct {
	KeyID         string
	TenantID      string
	PrivateKeyPEM string // empty for keys whose private material was retired
	PublicJWKJSON string
	Status        string // "active", "rotated", or "retired"
	CreatedAtUTC  string
}

// Tenant key statuses.
const (
	KeyStatusActive  = "active"
	KeyStatusRotated = "rotated"
	KeyStatusRetired = "retired"
)

// CertificateRow is one row of the certificates table. The full signed
// certificate is the JSON blob; the remaining columns are duplicated for
// query only.
type CertificateRow struct {
	CertificateID   string
	TenantID        string
	Timestamp       string
	NoteHash        string
	ChainHash       string
	CertificateJSON string
	CreatedAtUTC    string
}

// AuditEventInsert carries the caller-supplied fields of a new audit event.
// The store computes prev_event_hash and event_hash under the tenant's
// append lock.
type AuditEventInsert struct {
	EventID          string
	TenantID         string
	OccurredAtUTC    string
	ObjectType       string
	ObjectID         string
	Action           string
	EventPayloadJSON string
	ActorID          string // optional
}

// AuditEventRow is one row of the audit_events table. Append-only: the
// application layer never updates or deletes these rows.
type AuditEventRow struct {
	EventID          string
	TenantID         string
	OccurredAtUTC    string
	ObjectType       string
	ObjectID         string
	Action           string
	EventPayloadJSON string
	PrevEventHash    *string // nil for the first event of a tenant
	EventHash        string
	ActorID          *string
}
