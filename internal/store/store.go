// Package store persists documents and their embedded chunks, and serves
// similarity search over them.
//
// Two backends implement the Store interface: Postgres (pgvector, native
// vector search with an in-process fallback ranker) and SQLite (embedded,
// always ranked in-process). Both produce identical search semantics:
// similarity is cosine similarity, results are filtered strictly above the
// threshold and ordered by similarity descending with chunk ID as the
// deterministic tie-break.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding width the schemas are provisioned for.
// gemini-embedding-001 truncated via OutputDimensionality; see config.
const VectorDimension = 768

// Document ingestion statuses. A document moves uploaded -> extracting ->
// chunking -> embedding -> ready; failed is terminal until reprocessed.
const (
	StatusUploaded   = "uploaded"
	StatusExtracting = "extracting"
	StatusChunking   = "chunking"
	StatusEmbedding  = "embedding"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrSearchUnavailable indicates vector search failed in a way the
	// fallback ranker could not recover from.
	ErrSearchUnavailable = errors.New("similarity search unavailable")
)

// Document is a registered source file and its ingestion state.
type Document struct {
	ID              uuid.UUID
	KnowledgeBaseID uuid.UUID
	Filename        string
	FileType        string // "pdf", "txt", "md"
	SizeBytes       int64
	Path            string // location of the uploaded file on disk
	Status          string
	FailureReason   string
	ChunkCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID              uuid.UUID
	DocumentID      uuid.UUID
	KnowledgeBaseID uuid.UUID
	Index           int
	Content         string
	PageStart       int
	PageEnd         int
	CharCount       int
	TokenCount      int
	Embedding       []float32 // nil until AttachEmbedding
}

// Match is a chunk returned from similarity search, annotated with its
// similarity to the query and the owning document's filename.
type Match struct {
	Chunk
	Similarity float32
	Filename   string
}

// Store is the persistence boundary for documents, chunks and search.
type Store interface {
	// CreateDocument registers a new document in status uploaded.
	CreateDocument(ctx context.Context, doc Document) error

	// Document returns a document by ID, or ErrNotFound.
	Document(ctx context.Context, id uuid.UUID) (Document, error)

	// SetDocumentStatus transitions a document's status. When status is
	// StatusFailed, reason records why.
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status, reason string) error

	// MarkDocumentReady sets status ready and records the chunk count.
	MarkDocumentReady(ctx context.Context, id uuid.UUID, chunkCount int) error

	// DeleteDocument removes a document and all its chunks.
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	// ReplaceChunks atomically swaps a document's chunks for the given
	// set. Used on first ingestion and on reprocessing alike.
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error

	// Chunks returns a document's chunks ordered by index.
	Chunks(ctx context.Context, documentID uuid.UUID) ([]Chunk, error)

	// AttachEmbedding stores the embedding vector for one chunk.
	AttachEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error

	// SimilaritySearch returns up to limit chunks from the knowledge base
	// with cosine similarity strictly greater than threshold, ordered by
	// similarity descending. Chunks without embeddings never match.
	SimilaritySearch(ctx context.Context, knowledgeBaseID uuid.UUID, query []float32, threshold float32, limit int) ([]Match, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
