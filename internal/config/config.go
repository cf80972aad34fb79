// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.querypilot/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, temperature, embedder
//   - Pipeline: table selection limits, example retrieval, similarity shortcut
//   - Storage: application PostgreSQL and read-only target PostgreSQL (see storage.go)
//   - Execution: statement timeout, capture limit, page size, export limit, rate limit
//   - HTTP: listen address, CORS, proxy trust
//   - Tracing: OTLP exporter (off by default)
//
// Security: sensitive values (passwords) are masked in MarshalJSON.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
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

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidMaxTables indicates the table selection limit is out of range.
	ErrInvalidMaxTables = errors.New("invalid max tables")

	// ErrInvalidMaxExamples indicates the example retrieval limit is out of range.
	ErrInvalidMaxExamples = errors.New("invalid max examples")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidSchemaPath indicates the schema snapshot path is empty.
	ErrInvalidSchemaPath = errors.New("invalid schema path")

	// ErrInvalidKnowledgeDir indicates the knowledge base directory is empty.
	ErrInvalidKnowledgeDir = errors.New("invalid knowledge directory")

	// ErrInvalidPageSize indicates the result page size is out of range.
	ErrInvalidPageSize = errors.New("invalid page size")

	// ErrInvalidExportMaxRows indicates the export row cap is out of range.
	ErrInvalidExportMaxRows = errors.New("invalid export max rows")

	// ErrInvalidMaxResultRows indicates the executor capture limit is out of range.
	ErrInvalidMaxResultRows = errors.New("invalid max result rows")

	// ErrInvalidQueryTimeout indicates the execution timeout is out of range.
	ErrInvalidQueryTimeout = errors.New("invalid query timeout")

	// ErrInvalidRateLimit indicates the per-user rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidPostgresHost indicates a PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates a PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates a PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates a PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates a PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultPageSize is the default number of rows per result page.
	DefaultPageSize = 500

	// DefaultExportMaxRows is the default CSV export row cap.
	DefaultExportMaxRows = 10000

	// DefaultSimilarityThreshold is the cosine similarity above which a cached
	// example's SQL is reused verbatim instead of calling the model.
	// Set above 1.0 to disable the shortcut.
	DefaultSimilarityThreshold = 0.85
)

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // OTLP HTTP endpoint (host:port)
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName     string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Pipeline configuration
	MaxTables           int     `mapstructure:"max_tables" json:"max_tables"`     // stage-1 table selection cap
	MaxExamples         int     `mapstructure:"max_examples" json:"max_examples"` // examples included in the stage-2 prompt
	SimilarityThreshold float32 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	MaxHistoryMessages  int     `mapstructure:"max_history_messages" json:"max_history_messages"`
	SchemaPath          string  `mapstructure:"schema_path" json:"schema_path"`
	KnowledgeDir        string  `mapstructure:"knowledge_dir" json:"knowledge_dir"`

	// Execution configuration
	QueryTimeoutSeconds int `mapstructure:"query_timeout_seconds" json:"query_timeout_seconds"`
	MaxResultRows       int `mapstructure:"max_result_rows" json:"max_result_rows"` // rows the executor captures into a manifest; 0 = unlimited
	PageSize            int `mapstructure:"page_size" json:"page_size"`
	ExportMaxRows       int `mapstructure:"export_max_rows" json:"export_max_rows"` // CSV download cap; stored results are not affected
	RateLimitPerMinute  int `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute"`

	// Application database (attempts, manifests, conversations, embedding cache)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Target database (read-only; generated SELECT statements run here)
	TargetHost     string `mapstructure:"target_host" json:"target_host"`
	TargetPort     int    `mapstructure:"target_port" json:"target_port"`
	TargetUser     string `mapstructure:"target_user" json:"target_user"`
	TargetPassword string `mapstructure:"target_password" json:"target_password"` // SENSITIVE: masked in MarshalJSON
	TargetDBName   string `mapstructure:"target_db_name" json:"target_db_name"`
	TargetSSLMode  string `mapstructure:"target_ssl_mode" json:"target_ssl_mode"`

	// HTTP server configuration
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".querypilot")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(configDir)

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{".", configDir},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL / TARGET_DATABASE_URL take precedence over individual fields
	if err := cfg.parseDatabaseURLs(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.0) // deterministic SQL generation
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Pipeline defaults
	viper.SetDefault("max_tables", 10)
	viper.SetDefault("max_examples", 3)
	viper.SetDefault("similarity_threshold", DefaultSimilarityThreshold)
	viper.SetDefault("max_history_messages", 10)
	viper.SetDefault("schema_path", "schema.json")
	viper.SetDefault("knowledge_dir", "knowledge")

	// Execution defaults
	viper.SetDefault("query_timeout_seconds", 30)
	viper.SetDefault("max_result_rows", 0) // unlimited: full result sets are frozen
	viper.SetDefault("page_size", DefaultPageSize)
	viper.SetDefault("export_max_rows", DefaultExportMaxRows)
	viper.SetDefault("rate_limit_per_minute", 10)

	// Application database defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "querypilot")
	viper.SetDefault("postgres_password", "querypilot_dev_password")
	viper.SetDefault("postgres_db_name", "querypilot")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Target database defaults
	viper.SetDefault("target_host", "localhost")
	viper.SetDefault("target_port", 5433)
	viper.SetDefault("target_user", "readonly")
	viper.SetDefault("target_password", "readonly_dev_password")
	viper.SetDefault("target_db_name", "warehouse")
	viper.SetDefault("target_ssl_mode", "disable")

	// HTTP defaults
	viper.SetDefault("http_addr", "127.0.0.1:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)

	// Tracing defaults (disabled unless explicitly enabled)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "querypilot")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit plugins,
// not via Viper; Validate() checks their presence based on the provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "QUERYPILOT_PROVIDER")
	mustBind("model_name", "QUERYPILOT_MODEL_NAME")
	mustBind("embedder_model", "QUERYPILOT_EMBEDDER_MODEL")
	mustBind("ollama_host", "QUERYPILOT_OLLAMA_HOST")

	mustBind("schema_path", "QUERYPILOT_SCHEMA_PATH")
	mustBind("knowledge_dir", "QUERYPILOT_KNOWLEDGE_DIR")

	mustBind("http_addr", "QUERYPILOT_HTTP_ADDR")
	mustBind("cors_origins", "QUERYPILOT_CORS_ORIGINS")
	mustBind("trust_proxy", "QUERYPILOT_TRUST_PROXY")

	mustBind("tracing.enabled", "QUERYPILOT_TRACING_ENABLED")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets show the
// first and last 2 characters for debug utility.
//
// This defends against accidental logging of real secrets. It is not
// cryptographically secure; if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
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
// Sensitive fields masked: PostgresPassword, TargetPassword.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.TargetPassword = maskSecret(a.TargetPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
