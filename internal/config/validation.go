package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API Key validation (required for all AI operations)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// The vector schema is fixed per database; dimension must be positive and
	// within what gemini-embedding-001 can emit.
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 3072 {
		return fmt.Errorf("%w: must be between 1 and 3072, got %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	// 3. Storage backend validation
	switch c.StorageBackend {
	case BackendPostgres:
		if err := c.validatePostgres(); err != nil {
			return err
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path cannot be empty", ErrInvalidStorageBackend)
		}
	default:
		return fmt.Errorf("%w: %q is not valid, must be %q or %q",
			ErrInvalidStorageBackend, c.StorageBackend, BackendPostgres, BackendSQLite)
	}

	// 4. Ingestion validation
	if c.ChunkTargetTokens < 50 || c.ChunkTargetTokens > 8192 {
		return fmt.Errorf("%w: chunk_target_tokens must be between 50 and 8192, got %d",
			ErrInvalidChunkSize, c.ChunkTargetTokens)
	}

	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 250 {
		return fmt.Errorf("%w: embed_batch_size must be between 1 and 250, got %d",
			ErrInvalidEmbedBatch, c.EmbedBatchSize)
	}

	if c.EmbedConcurrency < 1 || c.EmbedConcurrency > 64 {
		return fmt.Errorf("%w: embed_concurrency must be between 1 and 64, got %d",
			ErrInvalidEmbedBatch, c.EmbedConcurrency)
	}

	if c.EmbedRateLimit < 0 {
		return fmt.Errorf("%w: embed_rate_limit must be >= 0 (0 disables limiting), got %.2f",
			ErrInvalidEmbedBatch, c.EmbedRateLimit)
	}

	// 5. Retrieval validation
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 50 {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and 50, got %d",
			ErrInvalidRetrieval, c.RetrievalTopK)
	}

	if c.RetrievalThreshold < 0 || c.RetrievalThreshold >= 1 {
		return fmt.Errorf("%w: retrieval_threshold must be in [0, 1), got %.2f",
			ErrInvalidRetrieval, c.RetrievalThreshold)
	}

	return nil
}

// validatePostgres validates PostgreSQL settings. Only called when the
// postgres backend is selected.
func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "carrel_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
