// Package embed generates embedding vectors for chunk batches and questions.
//
// The Batcher splits texts into fixed-size batches and embeds them
// concurrently under a rate limit, preserving input order in the output.
// Provider failures surface as ErrUnavailable so callers can distinguish
// them from programming errors.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnavailable indicates the embedding provider failed or returned an
// unusable response. Checked with errors.Is().
var ErrUnavailable = errors.New("embedding provider unavailable")

// Config configures a Batcher. Embedder is required; the rest have
// defaults applied in New.
type Config struct {
	Embedder ai.Embedder

	// BatchSize is the number of texts per provider request. Default: 16.
	BatchSize int

	// Concurrency caps in-flight provider requests. Default: 4.
	Concurrency int

	// RateLimit caps provider requests per second. Zero means no limit.
	RateLimit rate.Limit

	// Dimension, when non-zero, is validated against every returned vector.
	Dimension int

	Logger *slog.Logger
}

// Batcher embeds texts in ordered batches.
type Batcher struct {
	embedder    ai.Embedder
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	dimension   int
	logger      *slog.Logger
}

// New creates a Batcher.
func New(cfg Config) (*Batcher, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, 1)
	}

	return &Batcher{
		embedder:    cfg.Embedder,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
		dimension:   cfg.Dimension,
		logger:      cfg.Logger,
	}, nil
}

// Embed returns one vector per input text, in input order. A failure in any
// batch fails the whole call; partial results are never returned.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			if b.limiter != nil {
				if err := b.limiter.Wait(gctx); err != nil {
					return fmt.Errorf("waiting for rate limiter: %w", err)
				}
			}

			vectors, err := b.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			// Each goroutine writes a disjoint slice range; no lock needed.
			copy(out[start:], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.logger.Debug("embedded texts", "count", len(texts), "batch_size", b.batchSize)
	return out, nil
}

// EmbedOne embeds a single text, typically a question at query time.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (b *Batcher) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = &ai.Document{Content: []*ai.Part{ai.NewTextPart(text)}}
	}

	resp, err := b.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrUnavailable, i)
		}
		if b.dimension > 0 && len(emb.Embedding) != b.dimension {
			return nil, fmt.Errorf("embedder returned %d dimensions, store expects %d",
				len(emb.Embedding), b.dimension)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
