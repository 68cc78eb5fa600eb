// Copyright 2025 Swixixle
//
// Hashing utilities for CDIL
//
// Standardized hashing used throughout the system for tamper-evident
// identifiers and content hashes.

package hashing

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/swixixle/cdil-gateway/pkg/c14n"
)

// SHA256Hex computes a SHA-256 hash as a lowercase hexadecimal string.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Prefixed computes a SHA-256 hash with the "sha256:" prefix. The
// prefix makes the algorithm explicit in stored identifiers.
func SHA256Prefixed(data []byte) string {
	return "sha256:" + SHA256Hex(data)
}

// HashC14N hashes a JSON-compatible value over its canonical representation.
// This is the primary function for content hashes in the protocol. The
// result carries the "sha256:" prefix.
func HashC14N(v interface{}) (string, error) {
	canonical, err := c14n.Encode(v)
	if err != nil {
		return "", err
	}
	return SHA256Prefixed(canonical), nil
}
