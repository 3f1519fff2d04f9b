package main

// Package main is the entry point for the kubilitics-anomaly service.
//
// Startup order:
//   1. Load and validate configuration (YAML file, KUBILITICS_ANOMALY_* env)
//   2. Build the application and audit loggers
//   3. Open the alert store and run its migrations
//   4. Start the REST API, the alert websocket stream and /metrics
//   5. Watch the config file and hot-apply detection defaults
//
// SIGINT or SIGTERM drains in-flight requests, closes websocket
// subscribers, flushes the audit log and closes the store.

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/audit"
	"github.com/kubilitics/kubilitics-anomaly/internal/config"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/logging"
	"github.com/kubilitics/kubilitics-anomaly/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "kubilitics-anomaly: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return err
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer logger.Sync()

	auditLogger := audit.NewNopLogger()
	if auditCfg := cfg.AuditConfig(); auditCfg != nil {
		auditLogger, err = audit.NewLogger(auditCfg, logger.Named("audit"))
		if err != nil {
			return fmt.Errorf("create audit logger: %w", err)
		}
	}
	defer auditLogger.Close()

	_ = auditLogger.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithResource(configPath, "config").
		WithResult(audit.ResultSuccess).
		WithDescription("Configuration loaded"))

	store, err := db.Open(ctx, cfg.DatabaseConfig())
	if err != nil {
		return fmt.Errorf("open alert store: %w", err)
	}
	defer store.Close()
	logger.Info("Alert store ready", zap.String("type", cfg.Database.Type))

	srv, err := server.New(cfg, store, logger, auditLogger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	go srv.WatchConfig(ctx, mgr.Watch(ctx))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stop server: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
