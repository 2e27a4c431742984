/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tax position server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (config.Load)
  2. Apply command-line flag overrides
  3. Build the logger and, when configured, the OTLP tracer provider
  4. Open the store (SQLite, PostgreSQL or memory)
  5. Create API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (TAX_PORT, default 8080)
  -driver  Store driver: sqlite, postgres, memory (TAX_DB_DRIVER)
  -db      Database DSN or SQLite path (TAX_DB_DSN)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (TAX_SHUTDOWN_TIMEOUT)
  3. Flush pending spans
  4. Close database connection

EXAMPLES:
  ./server -db="./data/tax.db"
  ./server -driver=postgres -db="postgres://localhost/tax?sslmode=disable"
  TAX_LOG_FORMAT=json TAX_LOG_LEVEL=debug ./server -driver=memory

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go:    Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/tax-engine/api"
	"github.com/warp/tax-engine/config"
	"github.com/warp/tax-engine/store"
	"github.com/warp/tax-engine/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "Store driver: sqlite, postgres or memory")
	flag.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "Database DSN or SQLite path")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	logger := telemetry.NewLogger(os.Stderr, level, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	// Initialize store
	backend, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer backend.Close()

	// Initialize handler; a nil tracer uses the provider registered above.
	handler, err := api.NewHandler(backend, logger, nil)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "driver", cfg.DBDriver, "tracing", cfg.OTLPEndpoint != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("trace flush failed", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
