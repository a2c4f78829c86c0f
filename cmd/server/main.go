package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/variant-interpretation-server/internal/api"
	"github.com/variant-interpretation-server/internal/config"
	"github.com/variant-interpretation-server/internal/setup"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the variant interpretation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to config.yaml")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configFile string) error {
	// Load configuration
	configManager, err := config.NewManager(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)
	logger.WithField("port", cfg.Server.Port).Info("Starting variant interpretation server")

	service := setup.NewService(cfg, logger)
	server := api.NewServer(configManager, service, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	logger.Info("Server stopped")
	return nil
}
