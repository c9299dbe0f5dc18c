package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/carrel-ai/carrel/db"
	"github.com/carrel-ai/carrel/internal/chunk"
	"github.com/carrel-ai/carrel/internal/config"
	"github.com/carrel-ai/carrel/internal/embed"
	"github.com/carrel-ai/carrel/internal/ingest"
	"github.com/carrel-ai/carrel/internal/log"
	"github.com/carrel-ai/carrel/internal/rag"
	"github.com/carrel-ai/carrel/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	st, err := provideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st

	batcher, err := embed.New(embed.Config{
		Embedder:    embedder,
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
		RateLimit:   rate.Limit(cfg.EmbedRateLimit),
		Dimension:   cfg.EmbedderDimension,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embed batcher: %w", err)
	}
	a.Batcher = batcher

	tokenizer, err := chunk.NewTikToken()
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	pipeline, err := ingest.New(ingest.Config{
		Store:        st,
		Embedder:     batcher,
		Tokenizer:    tokenizer,
		TargetTokens: cfg.ChunkTargetTokens,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ingest pipeline: %w", err)
	}
	a.Pipeline = pipeline

	synthesizer, err := rag.NewSynthesizer(rag.SynthesizerConfig{
		Genkit:    g,
		ModelName: cfg.FullModelName(),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating synthesizer: %w", err)
	}
	retriever := rag.NewRetriever(st, batcher, logger)
	a.RAG = rag.NewService(retriever, synthesizer, logger)

	return a, nil
}

// provideGenkit initializes Genkit with the Google AI plugin. The plugin
// reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with googleai provider")
	}
	slog.Info("initialized Genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideEmbedder looks up the embedder registered by the Google AI plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

// provideStore opens the configured storage backend.
func provideStore(ctx context.Context, cfg *config.Config, logger log.Logger) (store.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		pool, err := providePostgresPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// providePostgresPool runs migrations and creates a connection pool.
// Pool is configured with sensible defaults for connection management.
func providePostgresPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
