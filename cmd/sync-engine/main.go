// sync-engine watches a work-item tracker for significant requirement
// changes, generates candidate stories through an external LLM, reconciles
// them against existing children, and optionally cascades to test-case
// generation — all on a poll loop with bounded concurrency. Structured the
// way the teacher's cmd/tarsy/main.go wires its own server: parse flags,
// load .env, initialize configuration, build every adapter, then start.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/papai0709/syncengine/pkg/api"
	"github.com/papai0709/syncengine/pkg/buildinfo"
	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/generator"
	"github.com/papai0709/syncengine/pkg/history"
	"github.com/papai0709/syncengine/pkg/ledger"
	"github.com/papai0709/syncengine/pkg/masking"
	"github.com/papai0709/syncengine/pkg/mcpfacade"
	"github.com/papai0709/syncengine/pkg/notify"
	"github.com/papai0709/syncengine/pkg/scheduler"
	"github.com/papai0709/syncengine/pkg/snapshotstore"
	"github.com/papai0709/syncengine/pkg/syncworker"
	"github.com/papai0709/syncengine/pkg/tokens"
	"github.com/papai0709/syncengine/pkg/tracker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", "./deploy/config/sync-engine.yaml"),
		"Path to the sync engine's YAML configuration file")
	envPath := flag.String("env-file", getEnv("ENV_FILE", "./deploy/config/.env"), "Path to a .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("no .env file loaded from %s: %v (continuing with existing environment)", *envPath, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting sync-engine", "version", buildinfo.MonitorVersion(), "config_path", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}
	live := config.NewLive(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		logger.Error("failed to create ledger directory", "error", err)
		return 1
	}
	if err := os.MkdirAll(cfg.SnapshotDirectory, 0o755); err != nil {
		logger.Error("failed to create snapshot directory", "error", err)
		return 1
	}

	snapshots, err := snapshotstore.NewStore(cfg.SnapshotDirectory, logger)
	if err != nil {
		logger.Error("failed to open snapshot store", "error", err)
		return 1
	}

	ledgerRef, err := ledger.Load(cfg.LedgerPath, cfg.RequirementType, logger)
	if err != nil {
		logger.Error("failed to load extraction ledger", "error", err)
		return 1
	}

	tokenAccountant := tokens.New(filepath.Join(filepath.Dir(cfg.LedgerPath), "token_usage.json"), logger)
	defer tokenAccountant.ForceSave()

	trackerAdapter := tracker.NewRESTAdapter(cfg.Tracker.BaseURL, os.Getenv(cfg.Tracker.PATEnv), nil)
	generatorAdapter := generator.NewHTTPAdapter(cfg.Generator.BaseURL, os.Getenv(cfg.Generator.APIKeyEnv), cfg.Generator.Model)

	worker := &syncworker.Worker{
		Tracker:   trackerAdapter,
		Generator: generatorAdapter,
		Snapshots: snapshots,
		Ledger:    ledgerRef,
		Tokens:    tokenAccountant,
		Log:       logger,
	}

	if cfg.Masking.Enabled {
		worker.Masker = masking.New(logger)
		logger.Info("content masking enabled")
	}

	if cfg.Notify.Enabled {
		if svc := notify.NewService(notify.ServiceConfig{
			Token:        os.Getenv(cfg.Notify.TokenEnv),
			Channel:      cfg.Notify.Channel,
			DashboardURL: cfg.Notify.DashboardURL,
		}); svc != nil {
			worker.Notifier = svc
			logger.Info("lifecycle notifications enabled", "channel", cfg.Notify.Channel)
		} else {
			logger.Warn("notify.enabled is true but token or channel is missing; notifications disabled")
		}
	}

	sched := scheduler.New(live, worker, trackerAdapter, snapshots, ledgerRef, logger)

	var historyStore *history.Store
	if cfg.History.Enabled {
		historyCfg, err := history.LoadConfigFromEnv(cfg.History.DSNEnv)
		if err != nil {
			logger.Error("failed to load history store configuration", "error", err)
			return 1
		}
		historyStore, err = history.Open(ctx, historyCfg)
		if err != nil {
			logger.Error("failed to open sync history store", "error", err)
			return 1
		}
		defer historyStore.Close()
		logger.Info("sync history store connected")
	}

	gin.SetMode(ginModeFor(cfg.LogLevel))
	server := api.NewServer(live, sched, worker, tokenAccountant, historyStore, logger)

	facade := mcpfacade.New(live, sched, worker, tokenAccountant)
	logger.Info("mcp facade ready", "tools", len(facade.Tools()))

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http control surface listening", "addr", cfg.API.ListenAddr)
		if err := server.Start(cfg.API.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http server shutdown", "error", err)
	}

	return 0
}

func ginModeFor(logLevel string) string {
	if logLevel == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
