// Package rag answers questions over ingested documents: it retrieves the
// most similar chunks for a question and synthesizes a cited answer from
// them with an LLM.
//
// Retrieval treats an empty result as a normal outcome, not an error; the
// synthesizer then returns a fixed insufficient-information answer without
// calling the model at all. Citations reference retrieved chunks by their
// 1-based position in the prompt; markers the model invents for positions
// that were never provided are dropped.
package rag

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/carrel-ai/carrel/internal/store"
)

// InsufficientContextAnswer is returned verbatim when retrieval finds
// nothing relevant.
const InsufficientContextAnswer = "I don't have enough information in the provided documents to answer this question."

// ErrSynthesis indicates the model call failed or produced no usable text.
var ErrSynthesis = errors.New("answer synthesis failed")

// Defaults applied by Service.Ask when the request leaves them zero.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
)

// Citation points an answer back at a retrieved chunk.
type Citation struct {
	ID         int       `json:"id"` // 1-based marker as used in the answer text
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	PageStart  int       `json:"page_start"`
	PageEnd    int       `json:"page_end"`
	Snippet    string    `json:"snippet"`
	Similarity float32   `json:"similarity"`
}

// Answer is a synthesized response with its supporting citations.
type Answer struct {
	Text            string     `json:"text"`
	Citations       []Citation `json:"citations"`
	ChunksRetrieved int        `json:"chunks_retrieved"`
}

// Service combines retrieval and synthesis into the ask operation.
type Service struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	logger      *slog.Logger
}

// NewService wires a retriever and synthesizer together.
func NewService(retriever *Retriever, synthesizer *Synthesizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: retriever, synthesizer: synthesizer, logger: logger}
}

// AskRequest parameterizes one question. TopK falls back to the package
// default when zero. A nil Threshold means DefaultThreshold; an explicit
// &0 requests unfiltered retrieval.
type AskRequest struct {
	KnowledgeBaseID uuid.UUID
	Question        string
	TopK            int
	Threshold       *float32
}

// Ask retrieves context for the question and synthesizes a cited answer.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	var threshold float32 = DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	matches, err := s.retriever.Retrieve(ctx, req.KnowledgeBaseID, req.Question, req.TopK, threshold)
	if err != nil {
		return Answer{}, err
	}

	answer, err := s.synthesizer.Synthesize(ctx, req.Question, matches)
	if err != nil {
		return Answer{}, err
	}

	s.logger.Debug("answered question",
		"knowledge_base_id", req.KnowledgeBaseID,
		"chunks_retrieved", answer.ChunksRetrieved,
		"citations", len(answer.Citations))
	return answer, nil
}

// snippet truncates chunk content for citation display.
func snippet(content string) string {
	const maxLen = 200
	if len(content) <= maxLen {
		return content
	}
	// Cut on a rune boundary at or below maxLen.
	cut := maxLen
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// citationFor builds the citation for the numbered match.
func citationFor(id int, m store.Match) Citation {
	return Citation{
		ID:         id,
		DocumentID: m.DocumentID,
		Filename:   m.Filename,
		PageStart:  m.PageStart,
		PageEnd:    m.PageEnd,
		Snippet:    snippet(m.Content),
		Similarity: m.Similarity,
	}
}
