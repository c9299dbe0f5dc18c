package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/carrel-ai/carrel/internal/config"
	"github.com/carrel-ai/carrel/internal/rag"
)

var (
	askKnowledgeBase string
	askTopK          int
	askThreshold     float32
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question over a knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "), cmd.Flags().Changed("threshold"))
	},
}

func init() {
	askCmd.Flags().StringVar(&askKnowledgeBase, "kb", "", "knowledge base UUID (required)")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().Float32Var(&askThreshold, "threshold", 0, "minimum similarity, 0 disables filtering (default from config)")
	_ = askCmd.MarkFlagRequired("kb")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string, thresholdSet bool) error {
	kbID, err := uuid.Parse(askKnowledgeBase)
	if err != nil {
		return fmt.Errorf("parsing --kb: %w", err)
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

	topK := askTopK
	if topK == 0 {
		topK = cfg.RetrievalTopK
	}
	// --threshold 0 is a real request for unfiltered retrieval, so the
	// config fallback only applies when the flag was not given at all.
	threshold := cfg.RetrievalThreshold
	if thresholdSet {
		threshold = askThreshold
	}

	answer, err := a.RAG.Ask(ctx, rag.AskRequest{
		KnowledgeBaseID: kbID,
		Question:        question,
		TopK:            topK,
		Threshold:       &threshold,
	})
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, c := range answer.Citations {
			fmt.Printf("  [%d] %s %s (similarity %.2f)\n", c.ID, c.Filename, pageLabel(c), c.Similarity)
		}
	}
	return nil
}

// pageLabel formats the page range of a citation.
func pageLabel(c rag.Citation) string {
	if c.PageStart == c.PageEnd {
		return fmt.Sprintf("p.%d", c.PageStart)
	}
	return fmt.Sprintf("pp.%d-%d", c.PageStart, c.PageEnd)
}
