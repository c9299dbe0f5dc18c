package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/carrel-ai/carrel/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [document-id]",
	Short: "Process a registered document into searchable chunks",
	Long: `Ingest extracts text from a registered document, splits it into
chunks, embeds them, and makes the document available for questions.
Re-running ingest on a ready or failed document replaces its chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, rawID string) error {
	docID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("parsing document id: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := setupApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.Pipeline.Run(ctx, docID); err != nil {
		return fmt.Errorf("processing document: %w", err)
	}

	doc, err := a.Store.Document(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	fmt.Printf("Document %s is %s (%d chunks)\n", docID, doc.Status, doc.ChunkCount)
	return nil
}
