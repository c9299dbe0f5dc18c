package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var sqliteMigrationsFS embed.FS

// SQLite is the embedded Store backend. It has no vector index; similarity
// search loads the knowledge base's embedded chunks and ranks them
// in-process, matching the Postgres backend's semantics exactly.
// Embeddings are stored as little-endian float32 blobs.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations.
func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure parent directory exists (using stricter permissions)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, logger: logger}, nil
}

func migrateSQLite(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqliteMigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: Don't defer m.Close() because sqlite driver WithInstance doesn't
	// take over the DB connection but Close() might affect connection state

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

var _ Store = (*SQLite)(nil)

func (s *SQLite) CreateDocument(ctx context.Context, doc Document) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, knowledge_base_id, filename, file_type, size_bytes, path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID.String(), doc.KnowledgeBaseID.String(), doc.Filename, doc.FileType,
		doc.SizeBytes, doc.Path, StatusUploaded, now, now)
	if err != nil {
		return fmt.Errorf("creating document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLite) Document(ctx context.Context, id uuid.UUID) (Document, error) {
	var (
		doc     Document
		docID   string
		kbID    string
		created time.Time
		updated time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, knowledge_base_id, filename, file_type, size_bytes, path,
		       status, failure_reason, chunk_count, created_at, updated_at
		FROM documents WHERE id = ?`, id.String()).Scan(
		&docID, &kbID, &doc.Filename, &doc.FileType, &doc.SizeBytes,
		&doc.Path, &doc.Status, &doc.FailureReason, &doc.ChunkCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading document %s: %w", id, err)
	}

	doc.ID, err = uuid.Parse(docID)
	if err != nil {
		return Document{}, fmt.Errorf("corrupt document id %q: %w", docID, err)
	}
	doc.KnowledgeBaseID, err = uuid.Parse(kbID)
	if err != nil {
		return Document{}, fmt.Errorf("corrupt knowledge base id %q: %w", kbID, err)
	}
	doc.CreatedAt = created
	doc.UpdatedAt = updated
	return doc, nil
}

func (s *SQLite) SetDocumentStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		status, reason, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("setting document %s status to %q: %w", id, status, err)
	}
	return checkAffected(res, id)
}

func (s *SQLite) MarkDocumentReady(ctx context.Context, id uuid.UUID, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = '', chunk_count = ?, updated_at = ? WHERE id = ?`,
		StatusReady, chunkCount, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("marking document %s ready: %w", id, err)
	}
	return checkAffected(res, id)
}

func (s *SQLite) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func checkAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk replacement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID.String()); err != nil {
		return fmt.Errorf("clearing chunks for document %s: %w", documentID, err)
	}

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, knowledge_base_id, chunk_index, content,
			                    page_start, page_end, char_count, token_count, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), documentID.String(), c.KnowledgeBaseID.String(), c.Index, c.Content,
			c.PageStart, c.PageEnd, c.CharCount, c.TokenCount, encodeVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("inserting chunk %d of document %s: %w", c.Index, documentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk replacement: %w", err)
	}

	s.logger.Debug("replaced chunks", "document_id", documentID, "count", len(chunks))
	return nil
}

func (s *SQLite) Chunks(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, knowledge_base_id, chunk_index, content,
		       page_start, page_end, char_count, token_count, embedding
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID.String())
	if err != nil {
		return nil, fmt.Errorf("loading chunks for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c     Chunk
			cID   string
			docID string
			kbID  string
			blob  []byte
		)
		err := rows.Scan(&cID, &docID, &kbID, &c.Index, &c.Content,
			&c.PageStart, &c.PageEnd, &c.CharCount, &c.TokenCount, &blob)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.ID, err = uuid.Parse(cID); err != nil {
			return nil, fmt.Errorf("corrupt chunk id %q: %w", cID, err)
		}
		if c.DocumentID, err = uuid.Parse(docID); err != nil {
			return nil, fmt.Errorf("corrupt document id %q: %w", docID, err)
		}
		if c.KnowledgeBaseID, err = uuid.Parse(kbID); err != nil {
			return nil, fmt.Errorf("corrupt knowledge base id %q: %w", kbID, err)
		}
		c.Embedding = decodeVector(blob)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks for document %s: %w", documentID, err)
	}
	return chunks, nil
}

func (s *SQLite) AttachEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET embedding = ? WHERE id = ?`,
		encodeVector(embedding), chunkID.String())
	if err != nil {
		return fmt.Errorf("attaching embedding to chunk %s: %w", chunkID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) SimilaritySearch(ctx context.Context, knowledgeBaseID uuid.UUID, query []float32, threshold float32, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.knowledge_base_id, c.chunk_index, c.content,
		       c.page_start, c.page_end, c.char_count, c.token_count, c.embedding,
		       d.filename
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.knowledge_base_id = ? AND c.embedding IS NOT NULL`, knowledgeBaseID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: loading candidates: %v", ErrSearchUnavailable, err)
	}
	defer rows.Close()

	var candidates []Match
	for rows.Next() {
		var (
			m     Match
			cID   string
			docID string
			kbID  string
			blob  []byte
		)
		err := rows.Scan(&cID, &docID, &kbID, &m.Index, &m.Content,
			&m.PageStart, &m.PageEnd, &m.CharCount, &m.TokenCount, &blob, &m.Filename)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning candidate: %v", ErrSearchUnavailable, err)
		}
		if m.ID, err = uuid.Parse(cID); err != nil {
			return nil, fmt.Errorf("%w: corrupt chunk id %q", ErrSearchUnavailable, cID)
		}
		if m.DocumentID, err = uuid.Parse(docID); err != nil {
			return nil, fmt.Errorf("%w: corrupt document id %q", ErrSearchUnavailable, docID)
		}
		if m.KnowledgeBaseID, err = uuid.Parse(kbID); err != nil {
			return nil, fmt.Errorf("%w: corrupt knowledge base id %q", ErrSearchUnavailable, kbID)
		}
		m.Embedding = decodeVector(blob)
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating candidates: %v", ErrSearchUnavailable, err)
	}

	return Rank(candidates, query, threshold, limit), nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// encodeVector serializes a float32 slice as little-endian bytes. Returns
// nil for an empty vector so the column stays NULL.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector. Trailing bytes that do not
// fill a float32 are ignored.
func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
