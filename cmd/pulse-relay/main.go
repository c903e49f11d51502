package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphan267/pulse-relay/api"
	"github.com/tphan267/pulse-relay/pkg/config"
	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/providers/acl"
	"github.com/tphan267/pulse-relay/pkg/providers/analytics"
	"github.com/tphan267/pulse-relay/pkg/providers/auth"
	"github.com/tphan267/pulse-relay/pkg/providers/signaling"
	"github.com/tphan267/pulse-relay/pkg/storage"
	"github.com/tphan267/pulse-relay/pkg/utils"
)

var version = "dev"

func main() {
	var (
		configFile string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", utils.Env("PULSE_CONFIG", "pulse.yaml"), "Path to the YAML config file")
	flag.StringVar(&logLevel, "loglevel", "", "Override the log level (debug, info, warn, error)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(version, configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create structured logger
	appLogger := logger.NewDefault("PULSE")
	appLogger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	appLogger.Info("Starting pulse-relay %s (config %s)", version, cfg.File())

	// Initialize storage
	store, err := storage.NewSQLiteStorage(cfg.DBPath, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Create service registry and register all default services
	registry := createServiceRegistry(store, appLogger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize all services
	if err := registry.InitializeAll(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Start runnable services
	if err := registry.StartRunnable(ctx); err != nil {
		log.Fatalf("Failed to start runnable services: %v", err)
	}

	// Create API server
	srv := api.New(registry)

	// Register service-specific routes
	if err := registry.RegisterAllRoutes(srv.App()); err != nil {
		log.Fatalf("Failed to register service routes: %v", err)
	}

	// Start server in a goroutine
	go func() {
		if err := srv.Start(cfg.ServerAddr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	if urls, err := utils.ListenURLs("ws", cfg.ServerAddr, cfg.WSPath); err == nil {
		for _, u := range urls {
			appLogger.Info("Relay socket: %s", u)
		}
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	// Stop the relay loop first: open streams end with reason shutdown and
	// every socket gets a close frame
	cancel()

	// Shutdown all services
	if err := registry.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Service shutdown error: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server shutdown error: %v", err)
	}

	appLogger.Info("Server exited")
}

// createServiceRegistry creates and populates the service registry with default services
func createServiceRegistry(store storage.Storage, log *logger.Logger, cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(store, log, cfg)

	// Register all default services
	registry.MustRegister(auth.NewService())
	registry.MustRegister(acl.NewService())
	registry.MustRegister(analytics.NewService())
	registry.MustRegister(signaling.NewService())

	return registry
}
