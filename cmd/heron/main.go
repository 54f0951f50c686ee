// Heron - Customer value analytics that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/cohort"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("HERON_DEBUG") == "true" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(); err != nil {
		slog.Error("heron exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()
	if os.Getenv("HERON_TIER") == "pro" {
		cfg = domain.ProConfig()
	}
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer busImpl.Close()

	// Validates segment rule expressions on write; runs compile their own.
	ruleEngine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("rule engine: %w", err)
	}
	defer ruleEngine.Close()

	runner := pipeline.NewRunner(repo, cacheImpl, busImpl, cfg.Analysis)
	slog.Info("pipeline runner initialized",
		"projection_periods", cfg.Analysis.ProjectionPeriods,
		"discount_rate", cfg.Analysis.DiscountRate,
		"use_quartiles", cfg.Analysis.UseQuartiles,
	)

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HERON_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, runner)

		var tenantIDs []string
		if envTenants := os.Getenv("HERON_TENANTS"); envTenants != "" {
			tenantIDs = []string{envTenants}
		}
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, runner, cohort.NewService(repo), ruleEngine, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("heron is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(cfg, Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("heron shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 HERON                     ║")
	fmt.Println("  ║     Customer Value Analytics Engine       ║")
	fmt.Println("  ║      Know what every customer is worth.   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions         - Ingest a transaction")
	fmt.Println("    POST /transactions/batch   - Ingest a batch")
	fmt.Println("    GET  /transactions/{id}    - Get transaction by ID")
	fmt.Println("    POST /runs                 - Start an analysis run")
	fmt.Println("    GET  /runs                 - List runs")
	fmt.Println("    GET  /runs/{id}            - Get run by ID")
	fmt.Println("    GET  /runs/{id}/scores     - Get customer scores")
	fmt.Println("    GET  /runs/{id}/summary    - Get value tier summary")
	fmt.Println("    GET  /runs/{id}/export     - Export scores as CSV")
	fmt.Println("    GET  /runs/{id}/report     - Render markdown report")
	fmt.Println("    GET  /cohorts              - Cohort retention matrix")
	fmt.Println("    GET  /segment-rules        - List segment rules")
	fmt.Println("    POST /segment-rules        - Create a segment rule")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
