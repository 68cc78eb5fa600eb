// Copyright 2025 Swixixle
//
// Canonical audit ledger hash computation
//
// This package is the single authoritative source for audit event hash
// computation. Both the ledger writer (pkg/ledger) and the standalone
// verifier (cmd/ledger-verify) import it, so hash canonicalization cannot
// silently diverge between writer and verifier.
//
// Hash canonicalization (stable, locale-independent, deterministic):
//
//	hash_input = (prev_hash or "") + occurred_at + object_type + object_id + action + payload_json
//	event_hash = hex(SHA-256(utf8(hash_input)))

package ledgerhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent hashes arbitrary text content with SHA-256, lowercase hex.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ComputeEventHash computes the canonical hash for an audit event.
//
// Changing this function changes what hashes are considered valid;
// coordinate any modification with a ledger migration plan.
func ComputeEventHash(prevHash, occurredAt, objectType, objectID, action, payloadJSON string) string {
	return HashContent(prevHash + occurredAt + objectType + objectID + action + payloadJSON)
}
