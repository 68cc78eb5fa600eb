// Copyright 2025 Swixixle
//
// Append-only audit event ledger
//
// Events form an SHA-256 hash chain per tenant. The hash formula lives in
// pkg/ledgerhash, the single source shared with the standalone verifier;
// the store performs the tip read and insert under one per-tenant lock.
//
// CONCURRENCY: the writer itself is stateless; all serialization happens in
// the store's append critical section.

package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/swixixle/cdil-gateway/pkg/c14n"
	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/ledgerhash"
	"github.com/swixixle/cdil-gateway/pkg/metrics"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// Writer appends events to a tenant's audit ledger.
type Writer struct {
	store   database.Store
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewWriter creates an audit ledger writer.
func NewWriter(store database.Store, m *metrics.Metrics, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[Ledger] ", log.LstdFlags)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Writer{store: store, metrics: m, logger: logger}
}

// Append serializes the payload canonically and appends one chained event.
// Returns the new event's id.
func (w *Writer) Append(ctx context.Context, tenantID, objectType, objectID, action string, payload map[string]interface{}, actorID string) (string, error) {
	payloadJSON, err := c14n.EncodeString(payload)
	if err != nil {
		return "", fmt.Errorf("serialize event payload: %w", err)
	}
	eventID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("allocate event id: %w", err)
	}

	row, err := w.store.AppendAuditEvent(ctx, &database.AuditEventInsert{
		EventID:          eventID.String(),
		TenantID:         tenantID,
		OccurredAtUTC:    timeutil.NowUTC(),
		ObjectType:       objectType,
		ObjectID:         objectID,
		Action:           action,
		EventPayloadJSON: payloadJSON,
		ActorID:          actorID,
	})
	if err != nil {
		return "", fmt.Errorf("append audit event: %w", err)
	}
	w.metrics.AuditEventsAppended.Inc()
	return row.EventID, nil
}

// ChainFailure describes one broken event found during verification.
type ChainFailure struct {
	EventID  string `json:"event_id"`
	TenantID string `json:"tenant_id"`
	Index    int    `json:"index"`
	Reason   string `json:"reason"`
}

// ChainReport summarizes a ledger verification run.
type ChainReport struct {
	Total    int            `json:"total"`
	Verified int            `json:"verified"`
	Failures []ChainFailure `json:"failures"`
}

// Valid reports whether the ledger verified clean.
func (r *ChainReport) Valid() bool {
	return len(r.Failures) == 0
}

// VerifyChain re-derives every event hash in canonical order and checks
// chain linkage. tenantID "" verifies all tenants.
func VerifyChain(ctx context.Context, store database.Store, tenantID string) (*ChainReport, error) {
	events, err := store.AllAuditEvents(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load audit events: %w", err)
	}
	return VerifyEvents(events), nil
}

// VerifyEvents checks an already-loaded event sequence. The slice must be
// in canonical order (tenant, occurred_at asc, event_id asc), as
// VerifyChain receives it from the store.
func VerifyEvents(events []database.AuditEventRow) *ChainReport {
	report := &ChainReport{Total: len(events), Failures: []ChainFailure{}}
	tips := make(map[string]string) // tenant -> last event_hash seen

	for i, ev := range events {
		prev := ""
		if ev.PrevEventHash != nil {
			prev = *ev.PrevEventHash
		}

		computed := ledgerhash.ComputeEventHash(
			prev, ev.OccurredAtUTC, ev.ObjectType, ev.ObjectID, ev.Action, ev.EventPayloadJSON,
		)
		if computed != ev.EventHash {
			report.Failures = append(report.Failures, ChainFailure{
				EventID: ev.EventID, TenantID: ev.TenantID, Index: i,
				Reason: "hash mismatch - event has been tampered with",
			})
		} else {
			report.Verified++
		}

		if tip, seen := tips[ev.TenantID]; seen {
			if prev != tip {
				report.Failures = append(report.Failures, ChainFailure{
					EventID: ev.EventID, TenantID: ev.TenantID, Index: i,
					Reason: "chain break - previous hash does not match",
				})
			}
		} else if ev.PrevEventHash != nil {
			report.Failures = append(report.Failures, ChainFailure{
				EventID: ev.EventID, TenantID: ev.TenantID, Index: i,
				Reason: "chain break - first event has a previous hash",
			})
		}
		tips[ev.TenantID] = ev.EventHash
	}
	return report
}
