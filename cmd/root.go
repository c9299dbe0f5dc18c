// Package cmd provides CLI commands for Carrel.
//
// Commands:
//   - serve: HTTP API server (ask + ingestion endpoints)
//   - add: register a document file in a knowledge base
//   - ingest: process a registered document synchronously
//   - ask: answer a question over a knowledge base
//   - version: show version information
package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/carrel-ai/carrel/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "carrel",
	Short: "Carrel - question answering over your documents",
	Long: `Carrel ingests PDF and text documents into a searchable knowledge base
and answers questions about them with citations back to the source pages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// .env is optional; environment variables win either way
		_ = godotenv.Load()

		level := slog.LevelInfo
		if os.Getenv("DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(log.NewWithWriter(os.Stderr, log.Config{Level: level}))
	},
}

// Execute is the main entry point for the Carrel CLI application.
func Execute() error {
	return rootCmd.Execute()
}
