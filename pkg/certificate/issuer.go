// Copyright 2025 Swixixle
//
// Certificate Issuer
//
// Given a documentation request and an authenticated identity, produces and
// persists exactly one certificate and, in the same transaction, appends
// one audit event recording issuance. The note body is consumed for hashing
// and dropped; it is never stored, logged, or echoed in errors.
//
// Concurrency: issuances for the same tenant serialize on a per-tenant
// mutex held from chain-head read through commit; the store additionally
// re-checks the chain head inside its transaction. Different tenants never
// block each other.

package certificate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swixixle/cdil-gateway/pkg/auth"
	"github.com/swixixle/cdil-gateway/pkg/c14n"
	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/hashing"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/metrics"
	"github.com/swixixle/cdil-gateway/pkg/signer"
	"github.com/swixixle/cdil-gateway/pkg/timeutil"
)

// Issuance error kinds surfaced to the transport layer.
var (
	// ErrReplay is a fatal replay signal: the issuance nonce was already
	// recorded for this tenant. Never retried silently.
	ErrReplay = errors.New("nonce already used")

	// ErrInvalidRequest covers structurally incomplete requests.
	ErrInvalidRequest = errors.New("invalid documentation request")
)

// IssueResult is returned to the caller after a successful issuance.
type IssueResult struct {
	Certificate *Certificate
	// Signature details duplicated at the top level of the response.
	SignatureB64 string
	KeyID        string
	Algorithm    string
}

// Issuer produces certificates.
type Issuer struct {
	store    database.Store
	registry *keys.Registry
	metrics  *metrics.Metrics
	logger   *log.Logger

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// NewIssuer creates a certificate issuer.
func NewIssuer(store database.Store, registry *keys.Registry, m *metrics.Metrics, logger *log.Logger) *Issuer {
	if logger == nil {
		logger = log.New(log.Writer(), "[Issuer] ", log.LstdFlags)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Issuer{
		store:       store,
		registry:    registry,
		metrics:     m,
		logger:      logger,
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// Issue validates the request, builds the chained and signed certificate,
// and persists it atomically with its issuance audit event.
func (i *Issuer) Issue(ctx context.Context, identity auth.Identity, req *Request) (*IssueResult, error) {
	start := time.Now()

	if err := i.validate(req); err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	if err := CheckNoteText(req.NoteText); err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("phi_detected").Inc()
		return nil, err
	}

	// Hash the PHI-bearing fields, then let go of the plaintext. From here
	// on only hashes exist.
	noteHash := hashing.SHA256Hex([]byte(req.NoteText))
	var patientHash, reviewerHash string
	if req.PatientReference != "" {
		patientHash = hashing.SHA256Hex([]byte(req.PatientReference))
	}
	if req.HumanReviewerID != "" {
		reviewerHash = hashing.SHA256Hex([]byte(req.HumanReviewerID))
	}

	certID, err := uuid.NewV7()
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("allocate certificate id: %w", err)
	}
	issuedAt := timeutil.NowUTC()

	finalizedAt := req.FinalizedAt
	if finalizedAt == "" {
		finalizedAt = issuedAt
	}

	cert := &Certificate{
		CertificateID:           certID.String(),
		TenantID:                identity.TenantID,
		Timestamp:               issuedAt,
		FinalizedAt:             finalizedAt,
		EHRReferencedAt:         req.EHRReferencedAt,
		EHRCommitID:             req.EHRCommitID,
		ModelName:               req.ModelName,
		ModelVersion:            req.ModelVersion,
		PromptVersion:           req.PromptVersion,
		GovernancePolicyVersion: req.GovernancePolicyVersion,
		PolicyHash:              req.PolicyHash,
		NoteHash:                noteHash,
		PatientHash:             patientHash,
		ReviewerHash:            reviewerHash,
		HumanReviewed:           req.HumanReviewed,
		HumanAttestedAt:         req.HumanAttestedAt,
	}

	// Per-tenant critical section: chain-head read through commit.
	unlock := i.lockTenant(identity.TenantID)
	defer unlock()

	head, err := i.store.ChainHead(ctx, identity.TenantID)
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	cert.IntegrityChain.PreviousHash = head

	chainHash, err := ComputeChainHash(cert, head)
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("compute chain hash: %w", err)
	}
	cert.IntegrityChain.ChainHash = chainHash

	// No fallback key: a tenant without usable key material fails loudly.
	key, err := i.registry.ActiveKey(ctx, identity.TenantID)
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("key_access").Inc()
		return nil, fmt.Errorf("tenant signing key: %w", err)
	}

	nonceID, err := uuid.NewV7()
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("allocate nonce: %w", err)
	}
	nonce := nonceID.String()
	serverTimestamp := timeutil.NowUTC()

	message := BuildCanonicalMessage(cert, key.KeyID, nonce, serverTimestamp)
	bundle, err := signer.Sign(key, message)
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("sign").Inc()
		return nil, fmt.Errorf("sign certificate: %w", err)
	}
	cert.Signature = bundle

	stored, err := cert.MarshalStored()
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("serialize certificate: %w", err)
	}

	event, err := issuanceEvent(cert, identity.Subject)
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("internal").Inc()
		return nil, err
	}

	row := &database.CertificateRow{
		CertificateID:   cert.CertificateID,
		TenantID:        cert.TenantID,
		Timestamp:       cert.Timestamp,
		NoteHash:        cert.NoteHash,
		ChainHash:       cert.IntegrityChain.ChainHash,
		CertificateJSON: stored,
		CreatedAtUTC:    issuedAt,
	}

	err = i.store.IssueCertificate(ctx, row, head, nonce, event)
	if errors.Is(err, database.ErrNonceAlreadyUsed) {
		i.metrics.ReplayRejections.Inc()
		i.metrics.IssuanceFailures.WithLabelValues("replay").Inc()
		return nil, ErrReplay
	}
	if err != nil {
		i.metrics.IssuanceFailures.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("persist certificate: %w", err)
	}

	i.metrics.CertificatesIssued.Inc()
	i.metrics.AuditEventsAppended.Inc()
	i.metrics.IssuanceDuration.Observe(time.Since(start).Seconds())
	i.logger.Printf("Issued certificate %s for tenant %s (chain %.16s...)",
		cert.CertificateID, cert.TenantID, chainHash)

	return &IssueResult{
		Certificate:  cert,
		SignatureB64: bundle.Signature,
		KeyID:        bundle.KeyID,
		Algorithm:    bundle.Algorithm,
	}, nil
}

func (i *Issuer) validate(req *Request) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: empty body", ErrInvalidRequest)
	case req.NoteText == "":
		return fmt.Errorf("%w: note_text is required", ErrInvalidRequest)
	case req.ModelName == "":
		return fmt.Errorf("%w: model_name is required", ErrInvalidRequest)
	case req.ModelVersion == "":
		return fmt.Errorf("%w: model_version is required", ErrInvalidRequest)
	case req.PromptVersion == "":
		return fmt.Errorf("%w: prompt_version is required", ErrInvalidRequest)
	case req.GovernancePolicyVersion == "":
		return fmt.Errorf("%w: governance_policy_version is required", ErrInvalidRequest)
	}
	return nil
}

// issuanceEvent builds the audit event committed in the same transaction as
// the certificate. The payload carries hashes and identifiers only.
func issuanceEvent(cert *Certificate, actorID string) (*database.AuditEventInsert, error) {
	eventID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("allocate event id: %w", err)
	}
	payload := map[string]interface{}{
		"certificate_id": cert.CertificateID,
		"chain_hash":     cert.IntegrityChain.ChainHash,
		"note_hash":      cert.NoteHash,
		"key_id":         cert.Signature.KeyID,
		"model_version":  cert.ModelVersion,
	}
	payloadJSON, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &database.AuditEventInsert{
		EventID:          eventID.String(),
		TenantID:         cert.TenantID,
		OccurredAtUTC:    timeutil.NowUTC(),
		ObjectType:       "certificate",
		ObjectID:         cert.CertificateID,
		Action:           "issued",
		EventPayloadJSON: payloadJSON,
		ActorID:          actorID,
	}, nil
}

func encodePayload(payload map[string]interface{}) (string, error) {
	text, err := c14n.EncodeString(payload)
	if err != nil {
		return "", fmt.Errorf("serialize event payload: %w", err)
	}
	return text, nil
}

func (i *Issuer) lockTenant(tenantID string) func() {
	i.mu.Lock()
	lock, ok := i.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		i.tenantLocks[tenantID] = lock
	}
	i.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
