// backend-go/cmd/server/main.go
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/api"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/config"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
	"github.com/andresuchdata/gdelt-fetch/backend-go/pkg/logger"
)

// The status server exposes the run ledger of a database shared with the
// gdelt CLI, for hosts that run downloads from a system cron instead of the
// schedule command.
func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	if cfg.App.LogFormat == "json" {
		logger.SetJSON(os.Stderr)
	}
	logger.SetLevel(cfg.App.LogLevel)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	runs, err := ledger.New(connectCtx, cfg.Database, logger.Component("ledger"))
	cancel()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer runs.Close()
	if _, ok := runs.(ledger.Noop); ok {
		logger.Log.Warn().Msg("DATABASE_URL not set, /api/v1/runs will always be empty")
	}

	// Archive counters live in the gdelt process; no /metrics route here.
	router := api.NewRouter(&api.Services{Ledger: runs}, cfg.Server.AllowedOrigins, logger.Component("api"))

	addr := net.JoinHostPort("", cfg.Server.Port)
	if err := api.Serve(ctx, addr, router, logger.Component("api")); err != nil {
		logger.Log.Error().Err(err).Msg("Server stopped with error")
		stop()
		os.Exit(1)
	}

	logger.Log.Info().Msg("Server exiting")
}
