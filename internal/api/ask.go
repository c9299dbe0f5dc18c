package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/carrel-ai/carrel/internal/embed"
	"github.com/carrel-ai/carrel/internal/log"
	"github.com/carrel-ai/carrel/internal/rag"
)

// Ask validation constants.
const (
	MaxQuestionLength = 10000
	MaxTopK           = 50
)

// Asker answers questions over a knowledge base.
type Asker interface {
	Ask(ctx context.Context, req rag.AskRequest) (rag.Answer, error)
}

// AskHandler handles question answering endpoints.
type AskHandler struct {
	asker  Asker
	logger log.Logger
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(asker Asker, logger log.Logger) *AskHandler {
	return &AskHandler{asker: asker, logger: logger}
}

// RegisterRoutes registers ask routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/knowledge-bases/{kb}/ask", h.ask)
}

// AskRequest is the request body for asking a question. A missing
// threshold falls back to the service default; an explicit 0 means
// unfiltered retrieval.
type AskRequest struct {
	Question  string   `json:"question"`
	TopK      int      `json:"top_k"`
	Threshold *float32 `json:"threshold"`
}

// ask answers a question against the knowledge base in the URL path.
//
// Returns 503 when the embedding provider or the model is unavailable,
// so that callers can retry.
func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	if h.asker == nil {
		h.logger.Error("ask service is nil")
		writeError(w, http.StatusInternalServerError, "internal_error", "ask service not configured")
		return
	}

	kbID, err := uuid.Parse(r.PathValue("kb"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_knowledge_base_id", "knowledge base id must be a UUID")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "missing_question", "question is required")
		return
	}
	if len(req.Question) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "question_too_long", "question exceeds 10000 bytes")
		return
	}
	if req.TopK < 0 || req.TopK > MaxTopK {
		writeError(w, http.StatusBadRequest, "invalid_top_k", "top_k must be between 0 and 50")
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold >= 1) {
		writeError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be in [0, 1)")
		return
	}

	answer, err := h.asker.Ask(r.Context(), rag.AskRequest{
		KnowledgeBaseID: kbID,
		Question:        req.Question,
		TopK:            req.TopK,
		Threshold:       req.Threshold,
	})
	if err != nil {
		switch {
		case errors.Is(err, embed.ErrUnavailable):
			h.logger.Error("embedding provider unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "embedder_unavailable", "embedding provider unavailable")
		case errors.Is(err, rag.ErrSynthesis):
			h.logger.Error("answer synthesis failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "synthesis_failed", "answer synthesis failed")
		default:
			h.logger.Error("failed to answer question", "error", err, "knowledge_base_id", kbID)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to answer question")
		}
		return
	}

	writeJSON(w, http.StatusOK, answer)
}
