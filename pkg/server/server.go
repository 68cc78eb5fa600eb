// Copyright 2025 Swixixle
//
// HTTP server assembly
//
// Endpoints:
// - POST /v1/clinical/documentation              - issue certificate (clinician)
// - GET  /v1/certificates/{id}                   - retrieve certificate
// - POST /v1/certificates/{id}/verify            - run verifier
// - GET  /v1/certificates/{id}/evidence-bundle.json - JSON evidence bundle
// - GET  /v1/certificates/{id}/evidence-bundle.zip  - ZIP evidence bundle
// - POST /v1/gatekeeper/verify-and-authorize     - verify + mint commit token (ehr_gateway)
// - POST /v1/gatekeeper/verify-commit-token      - burn a commit token (ehr_gateway)
// - GET  /v1/keys/{key_id}                       - public JWK
// - POST /v1/admin/keys/rotate                   - rotate tenant key (admin)
// - POST /v1/admin/tenants                       - create tenant (admin)
// - GET  /v1/audit/events                        - query own ledger (auditor)
// - POST /v1/audit/verify                        - verify own ledger (auditor)
// - POST /v1/defense/simulate-alteration         - alteration demonstration
// - GET  /healthz                                - liveness

package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/swixixle/cdil-gateway/pkg/auth"
	"github.com/swixixle/cdil-gateway/pkg/certificate"
	"github.com/swixixle/cdil-gateway/pkg/config"
	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/gatekeeper"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/ledger"
	"github.com/swixixle/cdil-gateway/pkg/metrics"
)

// Server wires the core components behind the HTTP surface.
type Server struct {
	store       database.Store
	registry    *keys.Registry
	issuer      *certificate.Issuer
	certVerify  *certificate.Verifier
	ledgerWrite *ledger.Writer
	gatekeeper  *gatekeeper.Gatekeeper
	verifier    *auth.Verifier
	rateLimiter *RateLimiter
	metrics     *metrics.Metrics
	logger      *log.Logger

	httpServer *http.Server
}

// Deps carries the assembled core components.
type Deps struct {
	Store      database.Store
	Registry   *keys.Registry
	Issuer     *certificate.Issuer
	Verifier   *certificate.Verifier
	Ledger     *ledger.Writer
	Gatekeeper *gatekeeper.Gatekeeper
	Auth       *auth.Verifier
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

// New creates the HTTP server.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewUnregistered()
	}

	s := &Server{
		store:       deps.Store,
		registry:    deps.Registry,
		issuer:      deps.Issuer,
		certVerify:  deps.Verifier,
		ledgerWrite: deps.Ledger,
		gatekeeper:  deps.Gatekeeper,
		verifier:    deps.Auth,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute),
		metrics:     m,
		logger:      logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the request mux. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/clinical/documentation",
		s.requireRole(auth.RoleClinician, s.handleIssueCertificate))

	mux.HandleFunc("GET /v1/certificates/{id}",
		s.requireIdentity(s.handleGetCertificate))
	mux.HandleFunc("POST /v1/certificates/{id}/verify",
		s.requireIdentity(s.handleVerifyCertificate))
	mux.HandleFunc("GET /v1/certificates/{id}/evidence-bundle.json",
		s.requireIdentity(s.handleEvidenceBundleJSON))
	mux.HandleFunc("GET /v1/certificates/{id}/evidence-bundle.zip",
		s.requireIdentity(s.handleEvidenceBundleZIP))

	mux.HandleFunc("POST /v1/gatekeeper/verify-and-authorize",
		s.requireRole(auth.RoleEHRGateway, s.handleVerifyAndAuthorize))
	mux.HandleFunc("POST /v1/gatekeeper/verify-commit-token",
		s.requireRole(auth.RoleEHRGateway, s.handleVerifyCommitToken))

	mux.HandleFunc("GET /v1/keys/{key_id}",
		s.requireIdentity(s.handleGetKey))
	mux.HandleFunc("POST /v1/admin/keys/rotate",
		s.requireRole(auth.RoleAdmin, s.handleRotateKey))
	mux.HandleFunc("POST /v1/admin/tenants",
		s.requireRole(auth.RoleAdmin, s.handleCreateTenant))

	mux.HandleFunc("GET /v1/audit/events",
		s.requireRole(auth.RoleAuditor, s.handleListAuditEvents))
	mux.HandleFunc("POST /v1/audit/verify",
		s.requireRole(auth.RoleAuditor, s.handleVerifyAuditChain))

	mux.HandleFunc("POST /v1/defense/simulate-alteration",
		s.requireIdentity(s.handleSimulateAlteration))

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Printf("Listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
