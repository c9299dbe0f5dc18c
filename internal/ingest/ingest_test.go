package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/carrel-ai/carrel/internal/extract"
	"github.com/carrel-ai/carrel/internal/store"
	"github.com/carrel-ai/carrel/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory DocumentStore that records status transitions.
type memStore struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]store.Document
	chunks     map[uuid.UUID][]store.Chunk // by document
	embeddings map[uuid.UUID][]float32     // by chunk
	statuses   []string                    // transition history

	replaceErr error
	statusErr  error
}

func newMemStore() *memStore {
	return &memStore{
		docs:       make(map[uuid.UUID]store.Document),
		chunks:     make(map[uuid.UUID][]store.Chunk),
		embeddings: make(map[uuid.UUID][]float32),
	}
}

func (m *memStore) add(doc store.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

func (m *memStore) Document(_ context.Context, id uuid.UUID) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) SetDocumentStatus(_ context.Context, id uuid.UUID, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	doc, ok := m.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = status
	doc.FailureReason = reason
	m.docs[id] = doc
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memStore) MarkDocumentReady(_ context.Context, id uuid.UUID, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = store.StatusReady
	doc.FailureReason = ""
	doc.ChunkCount = chunkCount
	m.docs[id] = doc
	m.statuses = append(m.statuses, store.StatusReady)
	return nil
}

func (m *memStore) ReplaceChunks(_ context.Context, documentID uuid.UUID, chunks []store.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.chunks[documentID] = chunks
	return nil
}

func (m *memStore) AttachEmbedding(_ context.Context, chunkID uuid.UUID, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[chunkID] = embedding
	return nil
}

func (m *memStore) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

func (m *memStore) doc(id uuid.UUID) store.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id]
}

// seqEmbedder returns vectors whose first element encodes input position.
type seqEmbedder struct {
	err error
}

func (s *seqEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

// byteTokenizer tokenizes each byte. Offline and deterministic; decode
// concatenates back to the exact input.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i])
	}
	return tokens
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func newTestPipeline(t *testing.T, ms *memStore, emb Embedder) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Store:        ms,
		Embedder:     emb,
		Tokenizer:    byteTokenizer{},
		TargetTokens: 64,
		Logger:       testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return p
}

func addDoc(ms *memStore) store.Document {
	doc := store.Document{
		ID:              uuid.New(),
		KnowledgeBaseID: uuid.New(),
		Filename:        "notes.txt",
		FileType:        "txt",
		Path:            "/data/notes.txt",
		Status:          store.StatusUploaded,
	}
	ms.add(doc)
	return doc
}

func stubExtract(p *Pipeline, pages []extract.Page, err error) {
	p.extract = func(_, _ string) ([]extract.Page, error) {
		return pages, err
	}
}

func TestRunHappyPath(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	p := newTestPipeline(t, ms, &seqEmbedder{})
	stubExtract(p, []extract.Page{
		{Number: 1, Text: "First page with a fair amount of text. It keeps going for a while."},
		{Number: 2, Text: "Second page text continues the document."},
	}, nil)

	if err := p.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := []string{store.StatusExtracting, store.StatusChunking, store.StatusEmbedding, store.StatusReady}
	got := ms.history()
	if len(got) != len(want) {
		t.Fatalf("status history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	final := ms.doc(doc.ID)
	if final.Status != store.StatusReady {
		t.Errorf("final status = %q", final.Status)
	}
	chunks := ms.chunks[doc.ID]
	if len(chunks) == 0 {
		t.Fatal("no chunks stored")
	}
	if final.ChunkCount != len(chunks) {
		t.Errorf("chunk count = %d, want %d", final.ChunkCount, len(chunks))
	}

	// Every chunk got its embedding, matched by position
	for i, c := range chunks {
		emb, ok := ms.embeddings[c.ID]
		if !ok {
			t.Fatalf("chunk %d has no embedding", i)
		}
		if emb[0] != float32(i) {
			t.Errorf("chunk %d got embedding for position %v", i, emb[0])
		}
		if c.KnowledgeBaseID != doc.KnowledgeBaseID {
			t.Errorf("chunk %d lost knowledge base attribution", i)
		}
	}
}

func TestRunExtractionFailure(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	p := newTestPipeline(t, ms, &seqEmbedder{})
	stubExtract(p, nil, &extract.Error{Filename: doc.Path, Err: extract.ErrNoText})

	err := p.Run(context.Background(), doc.ID)
	if err == nil {
		t.Fatal("Run() should fail")
	}
	if !errors.Is(err, extract.ErrNoText) {
		t.Errorf("expected ErrNoText in chain, got %v", err)
	}

	final := ms.doc(doc.ID)
	if final.Status != store.StatusFailed {
		t.Errorf("final status = %q, want failed", final.Status)
	}
	if !strings.Contains(final.FailureReason, "extraction failed") {
		t.Errorf("failure reason = %q", final.FailureReason)
	}
}

func TestRunBlankDocumentFails(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	p := newTestPipeline(t, ms, &seqEmbedder{})
	stubExtract(p, []extract.Page{{Number: 1, Text: "   "}}, nil)

	if err := p.Run(context.Background(), doc.ID); err == nil {
		t.Fatal("Run() should fail for blank document")
	}

	final := ms.doc(doc.ID)
	if final.Status != store.StatusFailed {
		t.Errorf("final status = %q, want failed", final.Status)
	}
	if final.FailureReason != "no extractable text" {
		t.Errorf("failure reason = %q", final.FailureReason)
	}
}

func TestRunEmbeddingFailure(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	embedErr := errors.New("provider unavailable")
	p := newTestPipeline(t, ms, &seqEmbedder{err: embedErr})
	stubExtract(p, []extract.Page{{Number: 1, Text: "Plenty of text to chunk and embed."}}, nil)

	err := p.Run(context.Background(), doc.ID)
	if !errors.Is(err, embedErr) {
		t.Fatalf("expected embed error, got %v", err)
	}

	final := ms.doc(doc.ID)
	if final.Status != store.StatusFailed {
		t.Errorf("final status = %q, want failed", final.Status)
	}
	if !strings.Contains(final.FailureReason, "embedding failed") {
		t.Errorf("failure reason = %q", final.FailureReason)
	}
}

func TestRunUnknownDocument(t *testing.T) {
	ms := newMemStore()
	p := newTestPipeline(t, ms, &seqEmbedder{})

	err := p.Run(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReprocessReplacesChunks(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	p := newTestPipeline(t, ms, &seqEmbedder{})
	stubExtract(p, []extract.Page{{Number: 1, Text: "Original content for the first pass."}}, nil)

	if err := p.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	firstIDs := make(map[uuid.UUID]bool)
	for _, c := range ms.chunks[doc.ID] {
		firstIDs[c.ID] = true
	}

	stubExtract(p, []extract.Page{{Number: 1, Text: "Replacement content for the second pass."}}, nil)
	if err := p.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("reprocess Run() failed: %v", err)
	}

	for _, c := range ms.chunks[doc.ID] {
		if firstIDs[c.ID] {
			t.Error("reprocess kept a chunk from the first pass")
		}
		if c.Content != "Replacement content for the second pass." {
			t.Errorf("chunk content = %q", c.Content)
		}
	}
	if ms.doc(doc.ID).Status != store.StatusReady {
		t.Errorf("final status = %q", ms.doc(doc.ID).Status)
	}
}

func TestConcurrentRunRejected(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	p := newTestPipeline(t, ms, &seqEmbedder{})

	release := make(chan struct{})
	p.extract = func(_, _ string) ([]extract.Page, error) {
		<-release
		return []extract.Page{{Number: 1, Text: "Some text."}}, nil
	}

	if err := p.Start(context.Background(), doc.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Admission happens before the goroutine launches, so a second start
	// is rejected immediately while the first is parked in extraction.
	if err := p.Start(context.Background(), doc.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if err := p.Run(context.Background(), doc.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Run() during Start() = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	p.Wait()

	if ms.doc(doc.ID).Status != store.StatusReady {
		t.Errorf("final status = %q, want ready", ms.doc(doc.ID).Status)
	}
}

func TestStartReleasesAfterCompletion(t *testing.T) {
	ms := newMemStore()
	doc := addDoc(ms)
	p := newTestPipeline(t, ms, &seqEmbedder{})
	stubExtract(p, []extract.Page{{Number: 1, Text: "Quick document."}}, nil)

	if err := p.Start(context.Background(), doc.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	p.Wait()

	// A finished run must not block the next one
	if err := p.Run(context.Background(), doc.ID); err != nil {
		t.Errorf("Run() after completed Start() failed: %v", err)
	}
}
