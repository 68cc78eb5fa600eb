// Copyright 2025 Swixixle
//
// Standalone audit ledger integrity verifier
//
// The single authoritative external check of the CDIL audit ledger. It
// imports hash canonicalization from pkg/ledgerhash, the same package the
// production writer uses, so writer and verifier can never silently
// diverge; a build without that package does not exist.
//
// Usage:
//
//	ledger-verify -pg-url URL [-tenant ID] [-verbose] [-json]
//
// Exit codes:
//
//	0  PASS  - ledger is intact
//	1  FAIL  - tampering or chain break detected
//	2  ERROR - bad configuration, connection failure, or query error

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/swixixle/cdil-gateway/pkg/ledgerhash"
)

type event struct {
	EventID          string
	TenantID         string
	OccurredAtUTC    string
	ObjectType       string
	ObjectID         string
	Action           string
	EventPayloadJSON string
	PrevEventHash    sql.NullString
	EventHash        string
}

type failure struct {
	Index   int    `json:"index"`
	Reason  string `json:"reason"`
	EventID string `json:"event_id,omitempty"`
}

type reportError struct {
	EventID  string `json:"event_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Index    int    `json:"index"`
	Error    string `json:"error"`
}

// report is the machine-readable verification result.
type report struct {
	Status         string        `json:"status"`
	Engine         string        `json:"engine"`
	Ordering       string        `json:"ordering"`
	HashPolicy     string        `json:"hash_policy"`
	TotalEvents    int           `json:"total_events"`
	VerifiedEvents int           `json:"verified_events"`
	Failure        *failure      `json:"failure"`
	Errors         []reportError `json:"errors"`
	Valid          bool          `json:"valid"`
}

const (
	ordering   = "occurred_at_utc ASC, event_id ASC"
	hashPolicy = "sha256(prev_event_hash || occurred_at_utc || object_type || object_id || action || event_payload_json)"
)

func main() {
	pgURL := flag.String("pg-url", "", "PostgreSQL connection URL (or set PGURL)")
	tenant := flag.String("tenant", "", "verify only this tenant (default: all tenants)")
	verbose := flag.Bool("verbose", false, "print event-by-event verification to stderr")
	jsonOut := flag.Bool("json", false, "pretty-print the JSON report")
	flag.Parse()

	url := *pgURL
	if url == "" {
		url = os.Getenv("PGURL")
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -pg-url or PGURL is required")
		os.Exit(2)
	}

	result, code := verify(url, *tenant, *verbose)

	var out []byte
	var err error
	if *jsonOut {
		out, err = json.MarshalIndent(result, "", "  ")
	} else {
		out, err = json.Marshal(result)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: encode report: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(out))
	os.Exit(code)
}

func verify(pgURL, tenant string, verbose bool) (*report, int) {
	r := &report{
		Engine:     "postgres",
		Ordering:   ordering,
		HashPolicy: hashPolicy,
		Errors:     []reportError{},
	}

	events, err := fetchEvents(pgURL, tenant)
	if err != nil {
		r.Status = "ERROR"
		r.Failure = &failure{Index: -1, Reason: fmt.Sprintf("Query error: %v", err)}
		r.Errors = append(r.Errors, reportError{Index: -1, Error: fmt.Sprintf("Query error: %v", err)})
		return r, 2
	}

	r.TotalEvents = len(events)
	tips := make(map[string]string)

	for i, ev := range events {
		prev := ""
		if ev.PrevEventHash.Valid {
			prev = ev.PrevEventHash.String
		}

		computed := ledgerhash.ComputeEventHash(
			prev, ev.OccurredAtUTC, ev.ObjectType, ev.ObjectID, ev.Action, ev.EventPayloadJSON,
		)
		if computed != ev.EventHash {
			r.Errors = append(r.Errors, reportError{
				EventID: ev.EventID, TenantID: ev.TenantID, Index: i,
				Error: "Hash mismatch - event has been tampered with",
			})
		} else {
			r.VerifiedEvents++
			if verbose {
				fmt.Fprintf(os.Stderr, "  ok %d/%d: %.8s (tenant %.8s)\n",
					i+1, len(events), ev.EventID, ev.TenantID)
			}
		}

		if tip, seen := tips[ev.TenantID]; seen {
			if prev != tip {
				r.Errors = append(r.Errors, reportError{
					EventID: ev.EventID, TenantID: ev.TenantID, Index: i,
					Error: "Chain break - previous hash does not match",
				})
			}
		} else if ev.PrevEventHash.Valid {
			r.Errors = append(r.Errors, reportError{
				EventID: ev.EventID, TenantID: ev.TenantID, Index: i,
				Error: "Chain break - first event has a previous hash",
			})
		}
		tips[ev.TenantID] = ev.EventHash
	}

	if len(r.Errors) == 0 {
		r.Status = "PASS"
		r.Valid = true
		return r, 0
	}
	first := r.Errors[0]
	r.Status = "FAIL"
	r.Failure = &failure{Index: first.Index, Reason: first.Error, EventID: first.EventID}
	return r, 1
}

func fetchEvents(pgURL, tenant string) ([]event, error) {
	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if tenant != "" {
		rows, err = db.QueryContext(ctx, `
			SELECT event_id, tenant_id, occurred_at_utc, object_type, object_id,
				action, event_payload_json, prev_event_hash, event_hash
			FROM audit_events
			WHERE tenant_id = $1
			ORDER BY occurred_at_utc ASC, event_id ASC`, tenant)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT event_id, tenant_id, occurred_at_utc, object_type, object_id,
				action, event_payload_json, prev_event_hash, event_hash
			FROM audit_events
			ORDER BY tenant_id ASC, occurred_at_utc ASC, event_id ASC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event
	for rows.Next() {
		var ev event
		if err := rows.Scan(
			&ev.EventID, &ev.TenantID, &ev.OccurredAtUTC, &ev.ObjectType, &ev.ObjectID,
			&ev.Action, &ev.EventPayloadJSON, &ev.PrevEventHash, &ev.EventHash,
		); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
