package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/carrel-ai/carrel/internal/ingest"
	"github.com/carrel-ai/carrel/internal/log"
	"github.com/carrel-ai/carrel/internal/store"
)

// Ingester starts document processing in the background.
type Ingester interface {
	Start(ctx context.Context, id uuid.UUID) error
}

// DocumentGetter loads document records.
type DocumentGetter interface {
	Document(ctx context.Context, id uuid.UUID) (store.Document, error)
}

// DocumentHandler handles document status and ingestion endpoints.
type DocumentHandler struct {
	store    DocumentGetter
	pipeline Ingester
	logger   log.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(store DocumentGetter, pipeline Ingester, logger log.Logger) *DocumentHandler {
	return &DocumentHandler{store: store, pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/documents/{id}", h.get)
	mux.HandleFunc("POST /api/documents/{id}/ingest", h.ingest)
}

// DocumentResponse is the response body for document status.
type DocumentResponse struct {
	ID              uuid.UUID `json:"id"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id"`
	Filename        string    `json:"filename"`
	FileType        string    `json:"file_type"`
	SizeBytes       int64     `json:"size_bytes"`
	Status          string    `json:"status"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	ChunkCount      int       `json:"chunk_count"`
}

// get returns the current status of a document.
func (h *DocumentHandler) get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("document store is nil")
		writeError(w, http.StatusInternalServerError, "internal_error", "document store not configured")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document_id", "document id must be a UUID")
		return
	}

	doc, err := h.store.Document(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("failed to load document", "error", err, "document_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load document")
		return
	}

	writeJSON(w, http.StatusOK, DocumentResponse{
		ID:              doc.ID,
		KnowledgeBaseID: doc.KnowledgeBaseID,
		Filename:        doc.Filename,
		FileType:        doc.FileType,
		SizeBytes:       doc.SizeBytes,
		Status:          doc.Status,
		FailureReason:   doc.FailureReason,
		ChunkCount:      doc.ChunkCount,
	})
}

// IngestResponse is the response body for an accepted ingestion.
type IngestResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// ingest starts background processing of a document and returns 202.
// A document already mid-pipeline is rejected with 409; reprocessing
// a ready or failed document is allowed and replaces its chunks.
func (h *DocumentHandler) ingest(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		h.logger.Error("ingest pipeline is nil")
		writeError(w, http.StatusInternalServerError, "internal_error", "ingest pipeline not configured")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document_id", "document id must be a UUID")
		return
	}

	if h.store != nil {
		if _, err := h.store.Document(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "document not found")
				return
			}
			h.logger.Error("failed to load document", "error", err, "document_id", id)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load document")
			return
		}
	}

	// The run outlives the request, so detach from its cancellation.
	if err := h.pipeline.Start(context.WithoutCancel(r.Context()), id); err != nil {
		if errors.Is(err, ingest.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "already_running", "document is already being processed")
			return
		}
		h.logger.Error("failed to start ingestion", "error", err, "document_id", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start ingestion")
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{ID: id, Status: "accepted"})
}
