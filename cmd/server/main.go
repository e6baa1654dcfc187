// Wiredan - escrow and order lifecycle engine for marketplace payments
package main

import (
	"context"
	"os"

	"github.com/wiredan/wiredan/internal/config"
	"github.com/wiredan/wiredan/internal/logging"
	"github.com/wiredan/wiredan/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	bootLogger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting wiredan",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"currency", cfg.Currency,
		"fee_buyer", cfg.FeeBuyer.String(),
		"fee_seller", cfg.FeeSeller.String(),
		"auto_release", cfg.AutoReleaseAfter.String(),
	)

	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
