// Copyright 2025 Swixixle
//
// UTC timestamp helpers
//
// Every timestamp the protocol stores, hashes, or signs is ISO-8601 UTC with
// microsecond precision and a trailing Z, emitted exactly as signed. The
// layout is frozen: changing it changes signed bytes.

package timeutil

import (
	"fmt"
	"time"
)

// LayoutUTC is the frozen wire layout for protocol timestamps.
const LayoutUTC = "2006-01-02T15:04:05.000000Z"

// NowUTC returns the current time formatted in the protocol layout.
func NowUTC() string {
	return time.Now().UTC().Format(LayoutUTC)
}

// Format renders t in the protocol layout.
func Format(t time.Time) string {
	return t.UTC().Format(LayoutUTC)
}

// Parse accepts a protocol timestamp, or any RFC 3339 timestamp for
// collaborator-supplied fields such as finalized_at.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(LayoutUTC, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
