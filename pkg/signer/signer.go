// Copyright 2025 Swixixle
//
// Cryptographic signing and verification of canonical messages
//
// Signature format:
// - Algorithm: ECDSA with SHA-256 (P-256 curve)
// - Message: canonical JSON bytes of the signed payload
// - Encoding: standard base64 of the DER-encoded signature

package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/swixixle/cdil-gateway/pkg/c14n"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// AlgorithmECDSASHA256 identifies the only signature scheme the protocol
// accepts. The constant value is part of the wire contract.
const AlgorithmECDSASHA256 = "ECDSA_SHA_256"

// Bundle is the result of signing a canonical message. CanonicalMessage is
// the exact payload whose signature is stored; the verifier recanonicalizes
// it, never a re-assembled copy.
type Bundle struct {
	KeyID            string                 `json:"key_id"`
	Algorithm        string                 `json:"algorithm"`
	Signature        string                 `json:"signature"`
	CanonicalMessage map[string]interface{} `json:"canonical_message"`
	SignedAtUTC      string                 `json:"signed_at_utc,omitempty"`
}

// Sign canonicalizes the message and signs it with the tenant key.
func Sign(key *keys.TenantKey, message map[string]interface{}) (*Bundle, error) {
	priv, err := key.Private()
	if err != nil {
		return nil, err
	}

	canonical, err := c14n.Encode(message)
	if err != nil {
		return nil, fmt.Errorf("canonicalize message: %w", err)
	}

	digest := sha256.Sum256(canonical)
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return &Bundle{
		KeyID:            key.KeyID,
		Algorithm:        AlgorithmECDSASHA256,
		Signature:        base64.StdEncoding.EncodeToString(der),
		CanonicalMessage: message,
		SignedAtUTC:      timeutil.NowUTC(),
	}, nil
}

// VerifyBundle verifies a signature bundle against a JWK public key.
// Returns false on any malformed input; it never panics and never reports
// why verification failed beyond the boolean.
func VerifyBundle(jwk *keys.JWK, bundle *Bundle) bool {
	if bundle == nil || jwk == nil || bundle.CanonicalMessage == nil || bundle.Signature == "" {
		return false
	}
	if bundle.Algorithm != AlgorithmECDSASHA256 {
		return false
	}

	canonical, err := c14n.Encode(bundle.CanonicalMessage)
	if err != nil {
		return false
	}
	der, err := base64.StdEncoding.DecodeString(bundle.Signature)
	if err != nil {
		return false
	}
	pub, err := jwk.PublicKey()
	if err != nil {
		return false
	}

	digest := sha256.Sum256(canonical)
	return ecdsa.VerifyASN1(pub, digest[:], der)
}
