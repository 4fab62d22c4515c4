// Package main provides the drugbot CLI: corpus ingestion plus one-shot
// questions and stats against the persisted index.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/drugbot/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "drugbot-ingest",
	Short:        "Drug information index tool",
	Long:         "CLI tool for building the drug information index and querying it from the terminal",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $DRUGBOT_CONFIG)")
	rootCmd.AddCommand(ingestCmd, askCmd, statsCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromEnv()
}
