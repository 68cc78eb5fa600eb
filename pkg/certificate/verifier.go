// Copyright 2025 Swixixle
//
// Certificate Verifier
//
// Recomputes the integrity chain and signature offline from the stored
// record. Failures are collected, never truncated to the first one, so the
// operator sees the full picture. Error bodies carry 16-hex-char hash
// prefixes and exception type names only, never full hashes or raw error
// text.

package certificate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/swixixle/cdil-gateway/pkg/auth"
	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/metrics"
	"github.com/swixixle/cdil-gateway/pkg/signer"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// ErrNotFound hides both true absence and cross-tenant access behind one
// answer.
var ErrNotFound = errors.New("certificate not found")

// Failure is one independent verification failure.
type Failure struct {
	Check string            `json:"check"`
	Error string            `json:"error"`
	Debug map[string]string `json:"debug,omitempty"`
}

// Report is the verification result for one certificate.
type Report struct {
	CertificateID string    `json:"certificate_id"`
	Valid         bool      `json:"valid"`
	Failures      []Failure `json:"failures"`
	VerifiedAtUTC string    `json:"verified_at_utc"`
}

// KeyResolver looks up the public JWK that signed a certificate. The
// service resolver reads the key registry; bundle verification supplies the
// embedded key instead.
type KeyResolver func(ctx context.Context, tenantID, keyID string) (*keys.JWK, error)

// Verifier checks stored certificates.
type Verifier struct {
	store    database.Store
	registry *keys.Registry
	metrics  *metrics.Metrics
}

// NewVerifier creates a certificate verifier.
func NewVerifier(store database.Store, registry *keys.Registry, m *metrics.Metrics) *Verifier {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Verifier{store: store, registry: registry, metrics: m}
}

// Load retrieves a certificate for the identity's tenant. Cross-tenant
// lookups report ErrNotFound, indistinguishable from absence.
func (v *Verifier) Load(ctx context.Context, identity auth.Identity, certificateID string) (*Certificate, error) {
	row, err := v.store.CertificateByID(ctx, identity.TenantID, certificateID)
	if errors.Is(err, database.ErrCertificateNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return ParseStored(row.CertificateJSON)
}

// VerifyByID loads the identity's certificate and verifies it.
func (v *Verifier) VerifyByID(ctx context.Context, identity auth.Identity, certificateID string) (*Report, error) {
	cert, err := v.Load(ctx, identity, certificateID)
	if err != nil {
		return nil, err
	}
	report := v.Verify(ctx, cert, v.registryResolver())
	if report.Valid {
		v.metrics.Verifications.WithLabelValues("valid").Inc()
	} else {
		v.metrics.Verifications.WithLabelValues("invalid").Inc()
	}
	return report, nil
}

// Verify runs every check against an already-loaded certificate. Exposed so
// bundle generation and offline holders run the same code path.
func (v *Verifier) Verify(ctx context.Context, cert *Certificate, resolve KeyResolver) *Report {
	report := &Report{
		CertificateID: cert.CertificateID,
		VerifiedAtUTC: timeutil.NowUTC(),
	}

	v.checkStructure(cert, report)
	v.checkChainHash(cert, report)
	v.checkSignature(ctx, cert, resolve, report)
	v.checkTiming(cert, report)

	report.Valid = len(report.Failures) == 0
	if report.Failures == nil {
		report.Failures = []Failure{}
	}
	return report
}

func (v *Verifier) checkStructure(cert *Certificate, report *Report) {
	if cert.IntegrityChain.ChainHash == "" {
		report.Failures = append(report.Failures, Failure{
			Check: "structure", Error: "missing_chain",
		})
	}
	if cert.Signature == nil || cert.Signature.Signature == "" {
		report.Failures = append(report.Failures, Failure{
			Check: "structure", Error: "missing_signature",
		})
		return
	}
	if cert.Signature.CanonicalMessage == nil {
		report.Failures = append(report.Failures, Failure{
			Check: "structure", Error: "missing_canonical_message",
		})
	}
}

func (v *Verifier) checkChainHash(cert *Certificate, report *Report) {
	if cert.IntegrityChain.ChainHash == "" {
		return // already reported as missing_chain
	}
	recomputed, err := ComputeChainHash(cert, cert.IntegrityChain.PreviousHash)
	if err != nil {
		report.Failures = append(report.Failures, Failure{
			Check: "integrity_chain", Error: "recomputation_failed",
			Debug: map[string]string{"exception": fmt.Sprintf("%T", err)},
		})
		return
	}
	stored := cert.IntegrityChain.ChainHash
	if recomputed != stored {
		report.Failures = append(report.Failures, Failure{
			Check: "integrity_chain", Error: "chain_hash_mismatch",
			Debug: map[string]string{
				"stored_prefix":     hashPrefix(stored),
				"recomputed_prefix": hashPrefix(recomputed),
			},
		})
	}
}

func (v *Verifier) checkSignature(ctx context.Context, cert *Certificate, resolve KeyResolver, report *Report) {
	if cert.Signature == nil || cert.Signature.Signature == "" {
		return // already reported as missing_signature
	}
	if cert.Signature.KeyID == "" {
		report.Failures = append(report.Failures, Failure{
			Check: "signature", Error: "missing_key_id",
		})
		return
	}

	jwk, err := resolve(ctx, cert.TenantID, cert.Signature.KeyID)
	if err != nil {
		report.Failures = append(report.Failures, Failure{
			Check: "signature", Error: "key_not_found",
		})
		return
	}

	if !signer.VerifyBundle(jwk, cert.Signature) {
		report.Failures = append(report.Failures, Failure{
			Check: "signature", Error: "invalid_signature",
		})
	}
}

// checkTiming enforces finalized_at <= ehr_referenced_at when both are
// present. A missing ehr_referenced_at is a pass, not applicable.
func (v *Verifier) checkTiming(cert *Certificate, report *Report) {
	if cert.FinalizedAt == "" || cert.EHRReferencedAt == "" {
		return
	}
	finalized, err1 := timeutil.Parse(cert.FinalizedAt)
	referenced, err2 := timeutil.Parse(cert.EHRReferencedAt)
	if err1 != nil || err2 != nil {
		report.Failures = append(report.Failures, Failure{
			Check: "timing_integrity", Error: "timestamp_parse_error",
		})
		return
	}
	if finalized.After(referenced) {
		report.Failures = append(report.Failures, Failure{
			Check: "timing_integrity", Error: "finalized_after_ehr_reference",
		})
	}
}

func (v *Verifier) registryResolver() KeyResolver {
	return func(ctx context.Context, tenantID, keyID string) (*keys.JWK, error) {
		key, err := v.registry.KeyByID(ctx, tenantID, keyID)
		if err != nil {
			return nil, err
		}
		return key.JWK, nil
	}
}

// StaticKeyResolver resolves lookups against one embedded JWK, for offline
// bundle verification. A key id other than the JWK's kid reports
// keys.ErrKeyNotFound.
func StaticKeyResolver(jwk *keys.JWK) KeyResolver {
	return func(ctx context.Context, tenantID, keyID string) (*keys.JWK, error) {
		if jwk == nil || jwk.Kid != keyID {
			return nil, keys.ErrKeyNotFound
		}
		return jwk, nil
	}
}

// hashPrefix truncates a hash to its first 16 hex characters for error
// bodies. Full hashes must never be returned to a caller.
func hashPrefix(h string) string {
	const n = 16
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) <= n {
		return h
	}
	return h[:n]
}
