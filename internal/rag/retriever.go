package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/carrel-ai/carrel/internal/store"
)

// Searcher is the slice of the store the retriever needs.
type Searcher interface {
	SimilaritySearch(ctx context.Context, knowledgeBaseID uuid.UUID, query []float32, threshold float32, limit int) ([]store.Match, error)
}

// Embedder embeds a single question at query time.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the chunks most similar to a question.
type Retriever struct {
	searcher Searcher
	embedder Embedder
	logger   *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(searcher Searcher, embedder Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{searcher: searcher, embedder: embedder, logger: logger}
}

// Retrieve embeds the question and searches the knowledge base. When
// nothing clears the threshold it retries once at half the threshold
// before giving up; an empty result is returned with a nil error, since
// "nothing relevant" is an answerable state, not a failure.
func (r *Retriever) Retrieve(ctx context.Context, knowledgeBaseID uuid.UUID, question string, topK int, threshold float32) ([]store.Match, error) {
	vec, err := r.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	matches, err := r.searcher.SimilaritySearch(ctx, knowledgeBaseID, vec, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base %s: %w", knowledgeBaseID, err)
	}

	if len(matches) == 0 && threshold > 0 {
		relaxed := threshold / 2
		r.logger.Debug("no matches at threshold, relaxing once",
			"knowledge_base_id", knowledgeBaseID,
			"threshold", threshold,
			"relaxed", relaxed)

		matches, err = r.searcher.SimilaritySearch(ctx, knowledgeBaseID, vec, relaxed, topK)
		if err != nil {
			return nil, fmt.Errorf("searching knowledge base %s at relaxed threshold: %w", knowledgeBaseID, err)
		}
	}

	r.logger.Debug("retrieved chunks",
		"knowledge_base_id", knowledgeBaseID,
		"count", len(matches))
	return matches, nil
}
