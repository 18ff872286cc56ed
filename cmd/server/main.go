// TrustVerify - Risk decision engine for marketplace transactions
package main

import (
	"context"
	"os"

	"github.com/ITDevS919/trustverify/internal/config"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/server"
	"github.com/ITDevS919/trustverify/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting trustverify",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"escrow_provider", cfg.EscrowProvider,
		"check_timeout", cfg.CheckTimeout,
	)

	ctx := context.Background()

	// Initialize tracing (no-op when no OTLP endpoint configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
