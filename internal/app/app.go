// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: Genkit, the
// embedder, the chunk store, the ingestion pipeline, and the question
// answering service. Setup builds them in dependency order; Close tears
// them down in reverse.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/carrel-ai/carrel/internal/config"
	"github.com/carrel-ai/carrel/internal/embed"
	"github.com/carrel-ai/carrel/internal/ingest"
	"github.com/carrel-ai/carrel/internal/log"
	"github.com/carrel-ai/carrel/internal/rag"
	"github.com/carrel-ai/carrel/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Store    store.Store
	Batcher  *embed.Batcher
	Pipeline *ingest.Pipeline
	RAG      *rag.Service
}

// Close gracefully shuts down all resources. It waits for in-flight
// ingestion runs before closing the store they write to.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.Pipeline != nil {
		a.Pipeline.Wait()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			return err
		}
		slog.Info("store closed")
	}

	return nil
}
