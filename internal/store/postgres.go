package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres is the pgvector-backed Store. Vector search runs natively in
// the database; if the native query fails (missing extension, degraded
// index) the search falls back to ranking candidates in-process so
// retrieval keeps working.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	// disableNative forces the fallback path. Tests only.
	disableNative bool
}

// NewPostgres wraps an existing connection pool. The caller owns running
// migrations before first use; see db.Migrate.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) CreateDocument(ctx context.Context, doc Document) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, knowledge_base_id, filename, file_type, size_bytes, path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.KnowledgeBaseID, doc.Filename, doc.FileType, doc.SizeBytes, doc.Path, StatusUploaded)
	if err != nil {
		return fmt.Errorf("creating document %s: %w", doc.ID, err)
	}
	return nil
}

func (p *Postgres) Document(ctx context.Context, id uuid.UUID) (Document, error) {
	var doc Document
	err := p.pool.QueryRow(ctx, `
		SELECT id, knowledge_base_id, filename, file_type, size_bytes, path,
		       status, failure_reason, chunk_count, created_at, updated_at
		FROM documents WHERE id = $1`, id).Scan(
		&doc.ID, &doc.KnowledgeBaseID, &doc.Filename, &doc.FileType, &doc.SizeBytes,
		&doc.Path, &doc.Status, &doc.FailureReason, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading document %s: %w", id, err)
	}
	return doc, nil
}

func (p *Postgres) SetDocumentStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1`, id, status, reason)
	if err != nil {
		return fmt.Errorf("setting document %s status to %q: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) MarkDocumentReady(ctx context.Context, id uuid.UUID, chunkCount int) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET status = $2, failure_reason = '', chunk_count = $3, updated_at = now()
		WHERE id = $1`, id, StatusReady, chunkCount)
	if err != nil {
		return fmt.Errorf("marking document %s ready: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	// Chunks cascade via the foreign key.
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReplaceChunks swaps the document's chunk set inside one transaction, so
// readers never observe a half-replaced document.
func (p *Postgres) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk replacement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clearing chunks for document %s: %w", documentID, err)
	}

	for _, c := range chunks {
		var emb *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			emb = &v
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, knowledge_base_id, chunk_index, content,
			                    page_start, page_end, char_count, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, documentID, c.KnowledgeBaseID, c.Index, c.Content,
			c.PageStart, c.PageEnd, c.CharCount, c.TokenCount, emb)
		if err != nil {
			return fmt.Errorf("inserting chunk %d of document %s: %w", c.Index, documentID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement: %w", err)
	}

	p.logger.Debug("replaced chunks", "document_id", documentID, "count", len(chunks))
	return nil
}

func (p *Postgres) Chunks(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, knowledge_base_id, chunk_index, content,
		       page_start, page_end, char_count, token_count, embedding
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks for document %s: %w", documentID, err)
	}
	return chunks, nil
}

func scanChunk(rows pgx.Rows) (Chunk, error) {
	var (
		c   Chunk
		emb *pgvector.Vector
	)
	err := rows.Scan(&c.ID, &c.DocumentID, &c.KnowledgeBaseID, &c.Index, &c.Content,
		&c.PageStart, &c.PageEnd, &c.CharCount, &c.TokenCount, &emb)
	if err != nil {
		return Chunk{}, fmt.Errorf("scanning chunk: %w", err)
	}
	if emb != nil {
		c.Embedding = emb.Slice()
	}
	return c, nil
}

func (p *Postgres) AttachEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	tag, err := p.pool.Exec(ctx, `UPDATE chunks SET embedding = $2 WHERE id = $1`, chunkID, vec)
	if err != nil {
		return fmt.Errorf("attaching embedding to chunk %s: %w", chunkID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

// SimilaritySearch runs the pgvector cosine query. On native failure it
// falls back to loading the knowledge base's embedded chunks and ranking
// them in-process with the same semantics.
func (p *Postgres) SimilaritySearch(ctx context.Context, knowledgeBaseID uuid.UUID, query []float32, threshold float32, limit int) ([]Match, error) {
	if !p.disableNative {
		matches, err := p.nativeSearch(ctx, knowledgeBaseID, query, threshold, limit)
		if err == nil {
			return matches, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		p.logger.Warn("native vector search failed, using in-process ranking", "error", err)
	}
	return p.fallbackSearch(ctx, knowledgeBaseID, query, threshold, limit)
}

func (p *Postgres) nativeSearch(ctx context.Context, knowledgeBaseID uuid.UUID, query []float32, threshold float32, limit int) ([]Match, error) {
	vec := pgvector.NewVector(query)
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.knowledge_base_id, c.chunk_index, c.content,
		       c.page_start, c.page_end, c.char_count, c.token_count,
		       1 - (c.embedding <=> $2) AS similarity,
		       d.filename
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.knowledge_base_id = $1
		  AND c.embedding IS NOT NULL
		  AND 1 - (c.embedding <=> $2) > $3
		ORDER BY c.embedding <=> $2, c.id
		LIMIT $4`, knowledgeBaseID, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		err := rows.Scan(&m.ID, &m.DocumentID, &m.KnowledgeBaseID, &m.Index, &m.Content,
			&m.PageStart, &m.PageEnd, &m.CharCount, &m.TokenCount, &m.Similarity, &m.Filename)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

func (p *Postgres) fallbackSearch(ctx context.Context, knowledgeBaseID uuid.UUID, query []float32, threshold float32, limit int) ([]Match, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.knowledge_base_id, c.chunk_index, c.content,
		       c.page_start, c.page_end, c.char_count, c.token_count, c.embedding,
		       d.filename
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.knowledge_base_id = $1 AND c.embedding IS NOT NULL`, knowledgeBaseID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading candidates: %v", ErrSearchUnavailable, err)
	}
	defer rows.Close()

	var candidates []Match
	for rows.Next() {
		var (
			m   Match
			emb *pgvector.Vector
		)
		err := rows.Scan(&m.ID, &m.DocumentID, &m.KnowledgeBaseID, &m.Index, &m.Content,
			&m.PageStart, &m.PageEnd, &m.CharCount, &m.TokenCount, &emb, &m.Filename)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning candidate: %v", ErrSearchUnavailable, err)
		}
		if emb != nil {
			m.Embedding = emb.Slice()
		}
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating candidates: %v", ErrSearchUnavailable, err)
	}

	return Rank(candidates, query, threshold, limit), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
