package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// validSSLModes are the accepted PostgreSQL SSL modes.
// Deprecated allow/prefer are excluded (vulnerable to MITM).
var validSSLModes = []string{"disable", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q is not one of gemini, ollama, openai", ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 3. Pipeline validation
	if c.MaxTables < 1 || c.MaxTables > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidMaxTables, c.MaxTables)
	}

	if c.MaxExamples < 0 || c.MaxExamples > 10 {
		return fmt.Errorf("%w: must be between 0 and 10, got %d", ErrInvalidMaxExamples, c.MaxExamples)
	}

	// Values above 1.0 are allowed: they disable the shortcut entirely
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidThreshold, c.SimilarityThreshold)
	}

	if c.SchemaPath == "" {
		return fmt.Errorf("%w: schema_path cannot be empty", ErrInvalidSchemaPath)
	}

	if c.KnowledgeDir == "" {
		return fmt.Errorf("%w: knowledge_dir cannot be empty", ErrInvalidKnowledgeDir)
	}

	// 4. Execution validation
	if c.QueryTimeoutSeconds < 1 || c.QueryTimeoutSeconds > 600 {
		return fmt.Errorf("%w: must be between 1 and 600 seconds, got %d", ErrInvalidQueryTimeout, c.QueryTimeoutSeconds)
	}

	// Zero disables the capture limit; entire result sets are frozen
	if c.MaxResultRows < 0 {
		return fmt.Errorf("%w: must be zero (unlimited) or positive, got %d", ErrInvalidMaxResultRows, c.MaxResultRows)
	}

	if c.PageSize < 1 || c.PageSize > 10000 {
		return fmt.Errorf("%w: must be between 1 and 10000, got %d", ErrInvalidPageSize, c.PageSize)
	}

	if c.ExportMaxRows < c.PageSize {
		return fmt.Errorf("%w: must be at least page_size (%d), got %d", ErrInvalidExportMaxRows, c.PageSize, c.ExportMaxRows)
	}

	if c.RateLimitPerMinute < 1 || c.RateLimitPerMinute > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidRateLimit, c.RateLimitPerMinute)
	}

	// 5. Database validation (both databases)
	if err := validatePostgres("postgres", c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresPassword, c.PostgresSSLMode); err != nil {
		return err
	}
	if err := validatePostgres("target", c.TargetHost, c.TargetPort, c.TargetDBName, c.TargetPassword, c.TargetSSLMode); err != nil {
		return err
	}

	if c.PostgresPassword == "querypilot_dev_password" || c.TargetPassword == "readonly_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change the password in config.yaml for production deployments")
	}

	return nil
}

// validatePostgres checks one database's connection settings.
// prefix names the config section in error messages ("postgres" or "target").
func validatePostgres(prefix, host string, port int, dbname, password, sslmode string) error {
	if host == "" {
		return fmt.Errorf("%w: %s_host cannot be empty", ErrInvalidPostgresHost, prefix)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s_port must be between 1 and 65535, got %d", ErrInvalidPostgresPort, prefix, port)
	}

	if dbname == "" {
		return fmt.Errorf("%w: %s_db_name cannot be empty", ErrInvalidPostgresDBName, prefix)
	}

	if password == "" {
		return fmt.Errorf("%w: %s_password must be set", ErrInvalidPostgresPassword, prefix)
	}

	if len(password) < 8 {
		return fmt.Errorf("%w: %s_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, prefix, len(password))
	}

	if sslmode == "" {
		return fmt.Errorf("%w: %s_ssl_mode is empty (should have default)", ErrInvalidPostgresSSLMode, prefix)
	}

	if !slices.Contains(validSSLModes, sslmode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, sslmode, validSSLModes)
	}

	return nil
}
