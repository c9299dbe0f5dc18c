// Package ingest runs the document processing pipeline: extract page text,
// split it into token-bounded chunks, embed the chunks, and mark the
// document ready for retrieval.
//
// A document moves through the statuses uploaded -> extracting -> chunking
// -> embedding -> ready. Any stage failure parks it in failed with a
// recorded reason; reprocessing a failed or ready document starts the
// pipeline over and atomically replaces its chunks. At most one pipeline
// run per document is admitted at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carrel-ai/carrel/internal/chunk"
	"github.com/carrel-ai/carrel/internal/extract"
	"github.com/carrel-ai/carrel/internal/store"
)

// ErrAlreadyRunning indicates the document is being processed right now.
var ErrAlreadyRunning = errors.New("document is already being processed")

// DocumentStore is the slice of the store the pipeline needs.
type DocumentStore interface {
	Document(ctx context.Context, id uuid.UUID) (store.Document, error)
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	MarkDocumentReady(ctx context.Context, id uuid.UUID, chunkCount int) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []store.Chunk) error
	AttachEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error
}

// Embedder embeds chunk batches.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// extractFunc matches extract.Pages. Swappable in tests.
type extractFunc func(path, fileType string) ([]extract.Page, error)

// Config configures a Pipeline. Store, Embedder and Tokenizer are required.
type Config struct {
	Store        DocumentStore
	Embedder     Embedder
	Tokenizer    chunk.Tokenizer
	TargetTokens int // per-chunk token budget; chunk.DefaultTargetTokens when zero
	Logger       *slog.Logger
}

// Pipeline processes documents. Safe for concurrent use.
type Pipeline struct {
	store        DocumentStore
	embedder     Embedder
	tokenizer    chunk.Tokenizer
	targetTokens int
	extract      extractFunc
	logger       *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Tokenizer == nil {
		return nil, errors.New("tokenizer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		store:        cfg.Store,
		embedder:     cfg.Embedder,
		tokenizer:    cfg.Tokenizer,
		targetTokens: cfg.TargetTokens,
		extract:      extract.Pages,
		logger:       cfg.Logger,
		running:      make(map[uuid.UUID]struct{}),
	}, nil
}

// Start begins processing the document in the background. Returns
// ErrAlreadyRunning when a run for this document is in flight.
func (p *Pipeline) Start(ctx context.Context, id uuid.UUID) error {
	if err := p.admit(id); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(id)
		if err := p.process(ctx, id); err != nil {
			p.logger.Error("ingestion failed", "document_id", id, "error", err)
		}
	}()
	return nil
}

// Run processes the document synchronously. Returns ErrAlreadyRunning when
// a run for this document is in flight.
func (p *Pipeline) Run(ctx context.Context, id uuid.UUID) error {
	if err := p.admit(id); err != nil {
		return err
	}
	defer p.release(id)
	return p.process(ctx, id)
}

// Wait blocks until all background runs complete.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) admit(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[id]; ok {
		return fmt.Errorf("document %s: %w", id, ErrAlreadyRunning)
	}
	p.running[id] = struct{}{}
	return nil
}

func (p *Pipeline) release(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

func (p *Pipeline) process(ctx context.Context, id uuid.UUID) error {
	doc, err := p.store.Document(ctx, id)
	if err != nil {
		return err
	}

	logger := p.logger.With("document_id", id, "filename", doc.Filename)
	logger.Info("ingestion started")

	// Extract
	if err := p.store.SetDocumentStatus(ctx, id, store.StatusExtracting, ""); err != nil {
		return err
	}
	pages, err := p.extract(doc.Path, doc.FileType)
	if err != nil {
		return p.fail(ctx, id, fmt.Sprintf("extraction failed: %v", err), err)
	}

	// Chunk
	if err := p.store.SetDocumentStatus(ctx, id, store.StatusChunking, ""); err != nil {
		return err
	}
	pieces := chunk.Split(toChunkPages(pages), chunk.Options{
		TargetTokens: p.targetTokens,
		Tokenizer:    p.tokenizer,
	})
	if len(pieces) == 0 {
		reason := "no extractable text"
		return p.fail(ctx, id, reason, errors.New(reason))
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.Chunk{
			ID:              uuid.New(),
			DocumentID:      doc.ID,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			Index:           piece.Index,
			Content:         piece.Content,
			PageStart:       piece.PageStart,
			PageEnd:         piece.PageEnd,
			CharCount:       len(piece.Content),
			TokenCount:      piece.TokenCount,
		}
	}
	if err := p.store.ReplaceChunks(ctx, id, chunks); err != nil {
		return p.fail(ctx, id, fmt.Sprintf("storing chunks failed: %v", err), err)
	}

	// Embed
	if err := p.store.SetDocumentStatus(ctx, id, store.StatusEmbedding, ""); err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return p.fail(ctx, id, fmt.Sprintf("embedding failed: %v", err), err)
	}
	for i, c := range chunks {
		if err := p.store.AttachEmbedding(ctx, c.ID, vectors[i]); err != nil {
			return p.fail(ctx, id, fmt.Sprintf("storing embeddings failed: %v", err), err)
		}
	}

	if err := p.store.MarkDocumentReady(ctx, id, len(chunks)); err != nil {
		return err
	}

	logger.Info("ingestion completed", "chunks", len(chunks))
	return nil
}

// fail records the failed status and reason. The bookkeeping write uses a
// detached context so a canceled run still leaves the document in a
// truthful state.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, reason string, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.SetDocumentStatus(failCtx, id, store.StatusFailed, reason); err != nil {
		p.logger.Error("recording failure status failed", "document_id", id, "error", err)
	}
	return fmt.Errorf("processing document %s: %w", id, cause)
}

func toChunkPages(pages []extract.Page) []chunk.Page {
	out := make([]chunk.Page, len(pages))
	for i, p := range pages {
		out[i] = chunk.Page{Number: p.Number, Text: p.Text}
	}
	return out
}
