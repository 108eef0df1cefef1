package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/infrastructure/config"
	"github.com/alishams21/lineagentic-kg/infrastructure/di"
	"github.com/alishams21/lineagentic-kg/interfaces/http/rest"
)

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	// Watch the registry file and hot-swap the operation catalog on change
	if cfg.WatchConfig {
		watcher, err := config.NewRegistryWatcher(cfg.RegistryPath, container.Logger)
		if err != nil {
			container.Logger.Fatal("Failed to watch registry", zap.Error(err))
		}
		watcher.OnChange(func(reg *registry.Registry) {
			if err := container.ReloadRegistry(reg); err != nil {
				container.Logger.Error("Registry reload rejected", zap.Error(err))
			}
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// Create router
	router := rest.NewRouter(container, container.Logger)

	// Setup routes
	handler := router.Setup()

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		container.Logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.Int("operations", len(container.Operations().Names())),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	container.Logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}

	// Clean up resources
	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
