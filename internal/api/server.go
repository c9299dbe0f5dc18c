// Package api provides the HTTP REST API for Carrel.
//
// Endpoints:
//
//	POST /api/knowledge-bases/{kb}/ask  →  answer a question with citations
//	POST /api/documents/{id}/ingest     →  start background ingestion (202)
//	GET  /api/documents/{id}            →  document processing status
//	GET  /health                        →  liveness probe
//	GET  /ready                         →  readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: Health check endpoints (/health, /ready)
//   - ask.go: Question answering endpoint
//   - documents.go: Document status and ingestion endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/carrel-ai/carrel/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Answer synthesis can take most of a minute, so this stays generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for Carrel's REST API.
type Server struct {
	mux *http.ServeMux

	// Handlers
	health    *HealthHandler
	ask       *AskHandler
	documents *DocumentHandler
}

// ServerConfig carries the dependencies of the HTTP server.
type ServerConfig struct {
	Asker    Asker
	Store    DocumentGetter
	Pipeline Ingester
	Pinger   Pinger
	Logger   log.Logger
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		health:    NewHealthHandler(cfg.Pinger, cfg.Logger),
		ask:       NewAskHandler(cfg.Asker, cfg.Logger),
		documents: NewDocumentHandler(cfg.Store, cfg.Pipeline, cfg.Logger),
	}

	// Register all routes
	s.health.RegisterRoutes(mux)
	s.ask.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
