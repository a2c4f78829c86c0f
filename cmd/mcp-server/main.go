package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/variant-interpretation-server/internal/config"
	"github.com/variant-interpretation-server/internal/mcp"
	"github.com/variant-interpretation-server/internal/setup"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the variant annotation tools over MCP stdio",
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
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	configManager, err := config.NewManager(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	cfg.Logging.Output = "stderr"
	logger := config.NewLogger(cfg.Logging)

	service := setup.NewService(cfg, logger)
	mcpServer := mcp.NewServer(cfg.MCP, service, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	if err := mcpServer.Start(ctx); err != nil {
		log.Fatalf("MCP server failed to start: %v", err)
	}

	logger.Info("MCP server stopped")
	return nil
}
