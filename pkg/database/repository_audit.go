// Copyright 2025 Swixixle
//
// Audit Event Repository - append-only per-tenant hash-chained ledger rows
//
// The chain tip read and the insert happen inside one transaction holding
// the tenant advisory lock, so concurrent appends for the same tenant form
// an unbroken chain. Payloads are stored as text exactly as hashed.
//
// No UPDATE or DELETE exists in this file, and none may ever be added.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/swixixle/cdil-gateway/pkg/ledgerhash"
)

// AuditEventRepository handles audit ledger operations
type AuditEventRepository struct {
	client *Client
}

// NewAuditEventRepository creates a new audit event repository
func NewAuditEventRepository(client *Client) *AuditEventRepository {
	return &AuditEventRepository{client: client}
}

// Append inserts one audit event, chaining it to the tenant's current tip.
func (r *AuditEventRepository) Append(ctx context.Context, ev *AuditEventInsert) (*AuditEventRow, error) {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, advisoryLockQuery, ev.TenantID); err != nil {
		return nil, fmt.Errorf("failed to take tenant lock: %w", err)
	}

	row, err := appendEventTx(ctx, tx, ev)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit event: %w", err)
	}
	return row, nil
}

// appendEventTx chains and inserts an event inside an existing transaction
// that already holds the tenant lock. Shared by the standalone append path
// and the certificate issuance transaction.
func appendEventTx(ctx context.Context, tx *sql.Tx, ev *AuditEventInsert) (*AuditEventRow, error) {
	var tip sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT event_hash FROM audit_events
		WHERE tenant_id = $1
		ORDER BY occurred_at_utc DESC, event_id DESC
		LIMIT 1`, ev.TenantID).Scan(&tip)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read chain tip: %w", err)
	}

	prev := ""
	var prevPtr *string
	if tip.Valid {
		prev = tip.String
		prevPtr = &tip.String
	}

	eventHash := ledgerhash.ComputeEventHash(
		prev, ev.OccurredAtUTC, ev.ObjectType, ev.ObjectID, ev.Action, ev.EventPayloadJSON,
	)

	var actor interface{}
	if ev.ActorID != "" {
		actor = ev.ActorID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (
			event_id, tenant_id, occurred_at_utc, object_type, object_id,
			action, event_payload_json, prev_event_hash, event_hash, actor_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.EventID, ev.TenantID, ev.OccurredAtUTC, ev.ObjectType, ev.ObjectID,
		ev.Action, ev.EventPayloadJSON, prevPtr, eventHash, actor); err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	row := &AuditEventRow{
		EventID:          ev.EventID,
		TenantID:         ev.TenantID,
		OccurredAtUTC:    ev.OccurredAtUTC,
		ObjectType:       ev.ObjectType,
		ObjectID:         ev.ObjectID,
		Action:           ev.Action,
		EventPayloadJSON: ev.EventPayloadJSON,
		PrevEventHash:    prevPtr,
		EventHash:        eventHash,
	}
	if ev.ActorID != "" {
		actorID := ev.ActorID
		row.ActorID = &actorID
	}
	return row, nil
}

// List returns a tenant's events in canonical order, paginated.
func (r *AuditEventRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]AuditEventRow, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT event_id, tenant_id, occurred_at_utc, object_type, object_id,
			action, event_payload_json, prev_event_hash, event_hash, actor_id
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY occurred_at_utc ASC, event_id ASC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()
	return scanAuditEvents(rows)
}

// ListAll returns every event in canonical verification order. tenantID ""
// means all tenants.
func (r *AuditEventRepository) ListAll(ctx context.Context, tenantID string) ([]AuditEventRow, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tenantID != "" {
		rows, err = r.client.QueryContext(ctx, `
			SELECT event_id, tenant_id, occurred_at_utc, object_type, object_id,
				action, event_payload_json, prev_event_hash, event_hash, actor_id
			FROM audit_events
			WHERE tenant_id = $1
			ORDER BY occurred_at_utc ASC, event_id ASC`, tenantID)
	} else {
		rows, err = r.client.QueryContext(ctx, `
			SELECT event_id, tenant_id, occurred_at_utc, object_type, object_id,
				action, event_payload_json, prev_event_hash, event_hash, actor_id
			FROM audit_events
			ORDER BY tenant_id ASC, occurred_at_utc ASC, event_id ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()
	return scanAuditEvents(rows)
}

func scanAuditEvents(rows *sql.Rows) ([]AuditEventRow, error) {
	var events []AuditEventRow
	for rows.Next() {
		var ev AuditEventRow
		var prev, actor sql.NullString
		if err := rows.Scan(
			&ev.EventID, &ev.TenantID, &ev.OccurredAtUTC, &ev.ObjectType, &ev.ObjectID,
			&ev.Action, &ev.EventPayloadJSON, &prev, &ev.EventHash, &actor,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if prev.Valid {
			v := prev.String
			ev.PrevEventHash = &v
		}
		if actor.Valid {
			v := actor.String
			ev.ActorID = &v
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Store delegation

func (r *Repositories) AppendAuditEvent(ctx context.Context, ev *AuditEventInsert) (*AuditEventRow, error) {
	return r.Audit.Append(ctx, ev)
}

func (r *Repositories) AuditEvents(ctx context.Context, tenantID string, limit, offset int) ([]AuditEventRow, error) {
	return r.Audit.List(ctx, tenantID, limit, offset)
}

func (r *Repositories) AllAuditEvents(ctx context.Context, tenantID string) ([]AuditEventRow, error) {
	return r.Audit.ListAll(ctx, tenantID)
}
