// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.carrel/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: Model selection, embedder model and dimension
//   - Storage: PostgreSQL or SQLite backend (see storage.go)
//   - Ingestion: chunk size, embedding batch size and concurrency
//   - Retrieval: top-k and similarity threshold defaults
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder produces incompatible vector dimensions.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidStorageBackend indicates the storage backend is not supported.
	ErrInvalidStorageBackend = errors.New("invalid storage backend")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunkSize indicates the chunk target token count is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidEmbedBatch indicates the embedding batch settings are out of range.
	ErrInvalidEmbedBatch = errors.New("invalid embedding batch settings")

	// ErrInvalidRetrieval indicates the retrieval settings are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval settings")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation Learning).
	// The pgvector schema uses 768 dimensions; see store.VectorDimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultChunkTargetTokens is the token budget per chunk.
	DefaultChunkTargetTokens = 1000

	// DefaultEmbedRateLimit is the default embedding request rate in
	// requests per second, sized for Gemini free-tier quotas.
	DefaultEmbedRateLimit = 10.0

	// DefaultRetrievalTopK is the default number of chunks retrieved per question.
	DefaultRetrievalTopK = 5

	// DefaultRetrievalThreshold is the default minimum similarity for retrieval.
	DefaultRetrievalThreshold float32 = 0.7
)

// Storage backend identifiers used in Config.StorageBackend.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`     // "gemini" (default)
	ModelName string `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "gemini-2.5-flash")

	// Embedder configuration
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Storage configuration (see storage.go for documentation)
	StorageBackend   string `mapstructure:"storage_backend" json:"storage_backend"` // "postgres" or "sqlite"
	SQLitePath       string `mapstructure:"sqlite_path" json:"sqlite_path"`
	DataDir          string `mapstructure:"data_dir" json:"data_dir"` // uploaded document files
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingestion configuration
	ChunkTargetTokens int     `mapstructure:"chunk_target_tokens" json:"chunk_target_tokens"`
	EmbedBatchSize    int     `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedConcurrency  int     `mapstructure:"embed_concurrency" json:"embed_concurrency"`
	EmbedRateLimit    float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // requests/sec; 0 disables limiting

	// Retrieval configuration
	RetrievalTopK      int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	RetrievalThreshold float32 `mapstructure:"retrieval_threshold" json:"retrieval_threshold"`

	// HTTP server configuration (serve mode only)
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.carrel/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".carrel")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(configDir)
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("embedder_dimension", 768)

	// Storage defaults
	viper.SetDefault("storage_backend", BackendPostgres)
	viper.SetDefault("sqlite_path", filepath.Join(configDir, "carrel.db"))
	viper.SetDefault("data_dir", filepath.Join(configDir, "documents"))

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "carrel")
	viper.SetDefault("postgres_password", "carrel_dev_password")
	viper.SetDefault("postgres_db_name", "carrel")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Ingestion defaults
	viper.SetDefault("chunk_target_tokens", DefaultChunkTargetTokens)
	viper.SetDefault("embed_batch_size", 16)
	viper.SetDefault("embed_concurrency", 4)
	viper.SetDefault("embed_rate_limit", DefaultEmbedRateLimit)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	viper.SetDefault("retrieval_threshold", DefaultRetrievalThreshold)

	// Serve defaults
	viper.SetDefault("serve_addr", "localhost:8080")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
// Validation checks its presence in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "CARREL_PROVIDER")
	mustBind("model_name", "CARREL_MODEL_NAME")
	mustBind("embedder_model", "CARREL_EMBEDDER_MODEL")
	mustBind("embedder_dimension", "CARREL_EMBEDDER_DIMENSION")
	mustBind("embed_rate_limit", "CARREL_EMBED_RATE_LIMIT")
	mustBind("storage_backend", "CARREL_STORAGE_BACKEND")
	mustBind("sqlite_path", "CARREL_SQLITE_PATH")
	mustBind("data_dir", "CARREL_DATA_DIR")
	mustBind("serve_addr", "CARREL_SERVE_ADDR")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
