package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrel-ai/carrel/internal/rag"
)

func TestWriteJSON_AnswerPayload(t *testing.T) {
	w := httptest.NewRecorder()

	writeJSON(w, http.StatusOK, rag.Answer{
		Text:            "Mitochondria produce ATP [1].",
		Citations:       []rag.Citation{{ID: 1, Filename: "bio.pdf", PageStart: 2, PageEnd: 2}},
		ChunksRetrieved: 1,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got rag.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Mitochondria produce ATP [1].", got.Text)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "bio.pdf", got.Citations[0].Filename)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errCode string
		message string
	}{
		{"validation failure", http.StatusBadRequest, "missing_question", "question is required"},
		{"conflict", http.StatusConflict, "already_running", "document is already being processed"},
		{"provider outage", http.StatusServiceUnavailable, "embedder_unavailable", "embedding provider unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			writeError(w, tt.status, tt.errCode, tt.message)

			assert.Equal(t, tt.status, w.Code)

			var got ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.errCode, got.Error)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestWriteError_MessageOmittedWhenEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	writeError(w, http.StatusNotFound, "not_found", "")

	assert.JSONEq(t, `{"error": "not_found"}`, w.Body.String())
}
