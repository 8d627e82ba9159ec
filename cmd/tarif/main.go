// Tarif - Insurance pricing rule engine.
// Copyright (c) 2025 assurtech-ci
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/assurtech-ci/tarif/internal/api"
	"github.com/assurtech-ci/tarif/internal/bus"
	"github.com/assurtech-ci/tarif/internal/cache"
	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/engine"
	"github.com/assurtech-ci/tarif/internal/pricing"
	"github.com/assurtech-ci/tarif/internal/quote"
	"github.com/assurtech-ci/tarif/internal/repository"
	"github.com/assurtech-ci/tarif/internal/usage"
	"github.com/assurtech-ci/tarif/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("TARIF_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting tarif",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("TARIF_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("TARIF_CONFIG"); path != "" {
		loaded, err := domain.LoadConfig(path)
		if err != nil {
			slog.Error("failed to load config file", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Pricing Engine
	policy := pricing.Policy{
		RoundUnit:     cfg.Pricing.RoundUnit,
		LookupDefault: cfg.Pricing.LookupDefault,
	}
	eng := engine.NewEngine(policy, Version)
	slog.Info("pricing engine initialized", "round_unit", policy.RoundUnit)

	// Initialize Usage Service
	usageSvc := usage.NewService(repo, cacheImpl)

	// Initialize Quote Service
	quoteSvc := quote.NewService(repo, cacheImpl, busImpl, eng, usageSvc)
	slog.Info("quote service initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("TARIF_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, quoteSvc)

		var tenantIDs []string
		if envTenants := os.Getenv("TARIF_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, quoteSvc, usageSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("tarif is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("tarif shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ================================================")
	fmt.Println("            TARIF - Pricing Rule Engine")
	fmt.Println("       Every premium, explained line by line.")
	fmt.Println("  ================================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /evaluate          - Compute a quotation")
	fmt.Println("    GET    /quotations/{id}   - Get a stored quotation")
	fmt.Println("    GET    /rules             - List calculation rules")
	fmt.Println("    POST   /rules             - Create or update a rule")
	fmt.Println("    PUT    /rules/{id}        - Update a rule")
	fmt.Println("    DELETE /rules/{id}        - Deactivate a rule")
	fmt.Println("    POST   /rules/reload      - Drop cached rule state")
	fmt.Println("    GET    /rules/{id}/usage  - Quotation volume for a rule")
	fmt.Println("    GET    /health            - Health check")
	fmt.Println()
}
