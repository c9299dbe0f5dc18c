package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/carrel-ai/carrel/internal/testutil"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "carrel.db"), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return s
}

func testDocument(kb uuid.UUID) Document {
	return Document{
		ID:              uuid.New(),
		KnowledgeBaseID: kb,
		Filename:        "report.pdf",
		FileType:        "pdf",
		SizeBytes:       2048,
		Path:            "/data/report.pdf",
	}
}

func testChunks(doc Document, n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		content := "chunk content " + string(rune('a'+i))
		chunks[i] = Chunk{
			ID:              uuid.New(),
			DocumentID:      doc.ID,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			Index:           i,
			Content:         content,
			PageStart:       i + 1,
			PageEnd:         i + 1,
			CharCount:       len(content),
			TokenCount:      3,
		}
	}
	return chunks
}

func TestSQLiteDocumentLifecycle(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	doc := testDocument(uuid.New())

	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}

	got, err := s.Document(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Document() failed: %v", err)
	}
	if got.Status != StatusUploaded {
		t.Errorf("new document status = %q, want %q", got.Status, StatusUploaded)
	}
	if got.Filename != doc.Filename || got.FileType != doc.FileType {
		t.Errorf("document fields mismatch: %+v", got)
	}
	if got.KnowledgeBaseID != doc.KnowledgeBaseID {
		t.Errorf("knowledge base ID mismatch: %s", got.KnowledgeBaseID)
	}

	// Walk the ingestion statuses
	for _, status := range []string{StatusExtracting, StatusChunking, StatusEmbedding} {
		if err := s.SetDocumentStatus(ctx, doc.ID, status, ""); err != nil {
			t.Fatalf("SetDocumentStatus(%q) failed: %v", status, err)
		}
		got, err = s.Document(ctx, doc.ID)
		if err != nil {
			t.Fatalf("Document() failed: %v", err)
		}
		if got.Status != status {
			t.Errorf("status = %q, want %q", got.Status, status)
		}
	}

	if err := s.MarkDocumentReady(ctx, doc.ID, 7); err != nil {
		t.Fatalf("MarkDocumentReady() failed: %v", err)
	}
	got, err = s.Document(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Document() failed: %v", err)
	}
	if got.Status != StatusReady {
		t.Errorf("status = %q, want %q", got.Status, StatusReady)
	}
	if got.ChunkCount != 7 {
		t.Errorf("chunk count = %d, want 7", got.ChunkCount)
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}
	if _, err := s.Document(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteDocumentNotFound(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := s.Document(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Document() = %v, want ErrNotFound", err)
	}
	if err := s.SetDocumentStatus(ctx, id, StatusExtracting, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetDocumentStatus() = %v, want ErrNotFound", err)
	}
	if err := s.MarkDocumentReady(ctx, id, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkDocumentReady() = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDocument(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteDocument() = %v, want ErrNotFound", err)
	}
	if err := s.AttachEmbedding(ctx, id, []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachEmbedding() = %v, want ErrNotFound", err)
	}
}

func TestSQLiteFailureReason(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	doc := testDocument(uuid.New())

	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if err := s.SetDocumentStatus(ctx, doc.ID, StatusFailed, "no extractable text"); err != nil {
		t.Fatalf("SetDocumentStatus() failed: %v", err)
	}

	got, err := s.Document(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Document() failed: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, StatusFailed)
	}
	if got.FailureReason != "no extractable text" {
		t.Errorf("failure reason = %q", got.FailureReason)
	}

	// Ready clears the failure reason
	if err := s.MarkDocumentReady(ctx, doc.ID, 1); err != nil {
		t.Fatalf("MarkDocumentReady() failed: %v", err)
	}
	got, err = s.Document(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Document() failed: %v", err)
	}
	if got.FailureReason != "" {
		t.Errorf("failure reason not cleared: %q", got.FailureReason)
	}
}

func TestSQLiteReplaceChunks(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	doc := testDocument(uuid.New())

	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}

	first := testChunks(doc, 3)
	if err := s.ReplaceChunks(ctx, doc.ID, first); err != nil {
		t.Fatalf("ReplaceChunks() failed: %v", err)
	}

	got, err := s.Chunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Chunks() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.Embedding != nil {
			t.Errorf("chunk %d should have no embedding yet", i)
		}
	}

	// Reprocessing swaps the set entirely
	second := testChunks(doc, 2)
	if err := s.ReplaceChunks(ctx, doc.ID, second); err != nil {
		t.Fatalf("ReplaceChunks() on reprocess failed: %v", err)
	}
	got, err = s.Chunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Chunks() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks after replacement, got %d", len(got))
	}
	if got[0].ID != second[0].ID {
		t.Errorf("old chunks survived replacement")
	}
}

func TestSQLiteAttachEmbeddingRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	doc := testDocument(uuid.New())

	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	chunks := testChunks(doc, 1)
	if err := s.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks() failed: %v", err)
	}

	vec := []float32{0.25, -1.5, 3.75, 0}
	if err := s.AttachEmbedding(ctx, chunks[0].ID, vec); err != nil {
		t.Fatalf("AttachEmbedding() failed: %v", err)
	}

	got, err := s.Chunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Chunks() failed: %v", err)
	}
	if len(got[0].Embedding) != len(vec) {
		t.Fatalf("embedding length = %d, want %d", len(got[0].Embedding), len(vec))
	}
	for i := range vec {
		if got[0].Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %f, want %f", i, got[0].Embedding[i], vec[i])
		}
	}
}

func TestSQLiteSimilaritySearch(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	kb := uuid.New()
	doc := testDocument(kb)

	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	chunks := testChunks(doc, 4)
	if err := s.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks() failed: %v", err)
	}

	// Chunk 3 gets no embedding and must never be returned.
	embeddings := [][]float32{
		{1, 0, 0},
		{0.9, 0.4359, 0},
		{0, 1, 0},
	}
	for i, emb := range embeddings {
		if err := s.AttachEmbedding(ctx, chunks[i].ID, emb); err != nil {
			t.Fatalf("AttachEmbedding() failed: %v", err)
		}
	}

	matches, err := s.SimilaritySearch(ctx, kb, []float32{1, 0, 0}, 0.5, 10)
	if err != nil {
		t.Fatalf("SimilaritySearch() failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != chunks[0].ID {
		t.Errorf("best match should be chunk 0")
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Errorf("matches not ordered by similarity")
	}
	if matches[0].Filename != doc.Filename {
		t.Errorf("match filename = %q, want %q", matches[0].Filename, doc.Filename)
	}

	// Other knowledge bases stay isolated
	matches, err = s.SimilaritySearch(ctx, uuid.New(), []float32{1, 0, 0}, 0.0, 10)
	if err != nil {
		t.Fatalf("SimilaritySearch() failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("search leaked across knowledge bases: %d matches", len(matches))
	}
}

func TestSQLiteDeleteCascadesChunks(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	doc := testDocument(uuid.New())

	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if err := s.ReplaceChunks(ctx, doc.ID, testChunks(doc, 3)); err != nil {
		t.Fatalf("ReplaceChunks() failed: %v", err)
	}
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}

	chunks, err := s.Chunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Chunks() failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks survived document deletion: %d", len(chunks))
	}
}

func TestVectorCodec(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"nil", nil},
		{"empty", []float32{}},
		{"values", []float32{0, 1, -1, 0.5, -2.25, 1e-6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeVector(encodeVector(tt.vec))
			if len(tt.vec) == 0 {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				return
			}
			if len(got) != len(tt.vec) {
				t.Fatalf("length = %d, want %d", len(got), len(tt.vec))
			}
			for i := range tt.vec {
				if got[i] != tt.vec[i] {
					t.Errorf("value[%d] = %f, want %f", i, got[i], tt.vec[i])
				}
			}
		})
	}
}
