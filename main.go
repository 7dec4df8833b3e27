package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chittycc/chittyrouter/config"
	"github.com/chittycc/chittyrouter/internal/bootstrap"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown

	exitConfig      = 64 // invalid configuration
	exitUnavailable = 69 // required dependency unavailable at startup
	exitInternal    = 70 // internal error
)

func main() {
	// Initialize logger early
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "chittyrouter",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, consumer, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(exitConfig)
	}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "consumer":
		runConsumer(cfg)
	case "all":
		if cfg.RedisURL != "" {
			go runConsumer(cfg)
		}
		runAPI(cfg)
	default:
		logger.Error("Unknown mode: %s", *mode)
		os.Exit(exitConfig)
	}
}

func runAPI(cfg *config.Config) {
	app, _, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Error("Failed to initialize API: %v", err)
		os.Exit(exitUnavailable)
	}
	defer cleanup()

	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- app.Shutdown()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Error("Error shutting down: %v", err)
			} else {
				logger.Info("API server shut down gracefully")
			}
		case <-ctx.Done():
			logger.Warn("API shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
		cleanup()
		os.Exit(exitInternal)
	}
}

func runConsumer(cfg *config.Config) {
	consumer, cleanup, err := bootstrap.NewConsumer(cfg)
	if err != nil {
		logger.Error("Failed to initialize consumer: %v", err)
		os.Exit(exitUnavailable)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Starting stream consumer...")
	consumer.Start(ctx)

	<-sigChan
	logger.Info("Shutting down consumer...")
	cancel()

	// In-flight items finish against the pipeline deadline; give them a
	// moment before the store connections close.
	time.Sleep(2 * time.Second)
	logger.Info("Consumer shut down")
}
