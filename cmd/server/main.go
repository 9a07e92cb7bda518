package main

// Package main is the entry point for the sensordx server.
//
// Responsibilities:
//   - Load .env files, the YAML config file and SENSORDX_* environment
//     variables, then validate the result
//   - Build the application logger
//   - Start the REST/WebSocket server, gRPC health service, live pipeline
//     and, when enabled, the AMQP consumer and publisher
//   - Watch the config file and record changes
//   - Shut down gracefully on SIGINT/SIGTERM
//
// Port Configuration:
//   - REST API, WebSocket and /metrics: 8090
//   - gRPC health: 9090

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/config"
	"github.com/kubilitics/sensordx/internal/logging"
	"github.com/kubilitics/sensordx/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/sensordx/config.yaml", "path to the YAML config file")
	envFile := flag.String("env-file", ".env", "optional .env file loaded before the environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	mgr, err := config.NewConfigManager(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.AppLogPath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// Create server with all components wired together
	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	// Start server (HTTP, gRPC health, pipeline, messaging)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	changes := mgr.Watch(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-changes:
				srv.ConfigChanged(c)
			}
		}
	}()

	// Wait for shutdown signal (Ctrl+C or SIGTERM)
	<-ctx.Done()
	logger.Info("received shutdown signal")

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping server", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
