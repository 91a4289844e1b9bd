package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/copyleftdev/seqopt/internal/benchmark"
	"github.com/copyleftdev/seqopt/internal/config"
	"github.com/copyleftdev/seqopt/internal/logging"
	"github.com/copyleftdev/seqopt/internal/metrics"
	"github.com/copyleftdev/seqopt/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "seqopt-server",
		"env":     cfg.Environment,
	})

	suite, err := loadSuite(cfg)
	if err != nil {
		serviceLogger.Fatal("Failed to build benchmark suite", map[string]interface{}{
			"file":  cfg.Suite.File,
			"error": err.Error(),
		})
	}

	m := metrics.New(true)
	srv := server.NewServer(cfg, serviceLogger, server.WithSuite(suite), server.WithMetrics(m))
	srv.StartJanitor(janitorInterval(cfg.Sessions.IdleTTL))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
			"tasks":   len(suite.Tasks()),
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	if err := srv.Close(); err != nil {
		serviceLogger.Error("Error closing server resources", map[string]interface{}{"error": err.Error()})
	}

	serviceLogger.Info("Server exited properly")
}

// loadSuite builds the served suite from the configured experiment file. No
// file serves an empty suite.
func loadSuite(cfg *config.Config) (*benchmark.Suite, error) {
	if cfg.Suite.File == "" {
		return benchmark.NewSuite(0), nil
	}
	exp, err := config.LoadExperiment(cfg.Suite.File)
	if err != nil {
		return nil, err
	}
	// The server evaluates locally even when the file targets a remote
	// server.
	exp.Remote = false
	return exp.Suite()
}

func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return max(ttl/4, time.Second)
}
