package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/coinharbor/custody/internal/api"
	"github.com/coinharbor/custody/internal/chain"
	"github.com/coinharbor/custody/internal/config"
	"github.com/coinharbor/custody/internal/consolidate"
	"github.com/coinharbor/custody/internal/hdkey"
	"github.com/coinharbor/custody/internal/ledger"
	"github.com/coinharbor/custody/internal/logger"
	"github.com/coinharbor/custody/internal/metrics"
	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/registry"
	"github.com/coinharbor/custody/internal/risk"
	"github.com/coinharbor/custody/internal/seeds"
	"github.com/coinharbor/custody/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database
	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Initialize seed provider based on backend type
	var seedProvider seeds.Provider
	switch seeds.BackendType(cfg.SeedBackend) {
	case seeds.BackendEnv:
		seedProvider, err = seeds.NewEnvProvider(cfg.SeedMnemonic, cfg.SeedPassphrase)
		if err != nil {
			slog.Error("failed to initialize env seed provider", "error", err)
			os.Exit(1)
		}
	case seeds.BackendVault:
		seedProvider, err = seeds.NewVaultProvider(&seeds.VaultConfig{
			Address: cfg.VaultAddress,
			Token:   cfg.VaultToken,
			Mount:   cfg.VaultSeedMount,
			Path:    cfg.VaultSeedPath,
		})
		if err != nil {
			slog.Error("failed to initialize vault seed provider", "error", err)
			os.Exit(1)
		}
	case seeds.BackendKMS:
		seedProvider, err = seeds.NewKMSProvider(context.Background(), &seeds.KMSConfig{
			KeyID:        cfg.KMSKeyID,
			Region:       cfg.KMSRegion,
			WrappedSeeds: cfg.WrappedSeeds,
		})
		if err != nil {
			slog.Error("failed to initialize kms seed provider", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("unknown seed backend", "backend", cfg.SeedBackend)
		os.Exit(1)
	}
	seedProvider = seeds.WithCache(seedProvider)

	slog.Info("initialized seed provider", "backend", cfg.SeedBackend)

	// Repositories
	walletRepo := storage.NewWalletRepository(store)
	balanceRepo := storage.NewBalanceRepository(store)
	cursorRepo := storage.NewCursorRepository(store)
	transferRepo := storage.NewTransferRepository(store)
	noteRepo := storage.NewAuditNoteRepository(store)

	// Metrics registry with process and runtime collectors
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// Domain services
	engine := hdkey.NewEngine(seedProvider, cursorRepo)
	tiers := policy.NewTiers(cfg.Tiers, time.Now)
	emitter := risk.NewLogEmitter()

	ledgerSvc := ledger.NewService(balanceRepo, m)
	riskSvc := risk.NewService(walletRepo, noteRepo, tiers, emitter,
		time.Duration(cfg.AuditIntervalDays)*24*time.Hour, time.Now)
	policySvc := policy.NewService(tiers, walletRepo, ledgerSvc, transferRepo, noteRepo, store, emitter, m)
	registrySvc := registry.NewService(engine, walletRepo, store, ledgerSvc, tiers, chain.Unavailable{}, m, cfg.MinConfirmations)
	planner := consolidate.NewPlanner(walletRepo, transferRepo, store, tiers, m, cfg.DustThreshold)

	// Initialize API server
	server := api.NewServer(cfg, registrySvc, ledgerSvc, policySvc, planner, riskSvc, noteRepo, store, promReg)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	slog.Info("custody server started", "port", cfg.Port)

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}
