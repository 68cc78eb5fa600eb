// Copyright 2025 Swixixle
//
// CDIL Gateway - Clinical Documentation Integrity Ledger service
//
// Issues, stores, and verifies cryptographically bound certificates of
// integrity for clinical notes, and maintains the tamper-evident audit
// ledger behind them.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swixixle/cdil-gateway/pkg/auth"
	"github.com/swixixle/cdil-gateway/pkg/certificate"
	"github.com/swixixle/cdil-gateway/pkg/config"
	"github.com/swixixle/cdil-gateway/pkg/database"
	"github.com/swixixle/cdil-gateway/pkg/gatekeeper"
	"github.com/swixixle/cdil-gateway/pkg/keys"
	"github.com/swixixle/cdil-gateway/pkg/ledger"
	"github.com/swixixle/cdil-gateway/pkg/metrics"
	"github.com/swixixle/cdil-gateway/pkg/nonce"
	"github.com/swixixle/cdil-gateway/pkg/server"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply pending migrations and exit")
	flag.Parse()

	logger := log.New(os.Stdout, "[CDIL] ", log.LstdFlags)

	if err := run(logger, *migrateOnly); err != nil {
		logger.Fatalf("Fatal: %v", err)
	}
}

func run(logger *log.Logger, migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := database.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := client.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if migrateOnly {
		logger.Println("Migrations applied")
		return nil
	}

	// Assembly. The store is the only stateful dependency; everything else
	// is built over it.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := database.NewRepositories(client)
	keyRegistry := keys.NewRegistry(store, nil)
	issuer := certificate.NewIssuer(store, keyRegistry, m, nil)
	verifier := certificate.NewVerifier(store, keyRegistry, m)
	ledgerWriter := ledger.NewWriter(store, m, nil)
	nonces := nonce.NewStore(store)

	gk, err := gatekeeper.New(cfg.GatekeeperTokenSecret, cfg.CommitTokenTTL, nonces, m, nil)
	if err != nil {
		return err
	}
	authVerifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Store:      store,
		Registry:   keyRegistry,
		Issuer:     issuer,
		Verifier:   verifier,
		Ledger:     ledgerWriter,
		Gatekeeper: gk,
		Auth:       authVerifier,
		Metrics:    m,
		Logger:     logger,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Printf("Metrics on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		logger.Printf("Server error: %v", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Metrics shutdown: %v", err)
	}
	logger.Println("Shutdown complete")
	return nil
}
