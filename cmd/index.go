package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/querypilot/querypilot/db"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/kb"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/sqlc"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed the knowledge base offline",
	Long: `Scans the knowledge base directory, embeds new or edited examples, and
stores the vectors in the application database.

The server does the same work at startup; running index first keeps server
start fast after large knowledge base edits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex()
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: slog.LevelInfo})
	slog.SetDefault(logger)

	// The embedding cache table must exist before the first index run
	if err := db.Migrate(cfg.AppPostgresURL()); err != nil {
		return fmt.Errorf("migrating application database: %w", err)
	}

	pool, err := newAppPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, embedder, err := llm.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing AI provider: %w", err)
	}
	engine := llm.NewEngine(g, llm.EngineConfig{
		ModelName: cfg.FullModelName(),
		Embedder:  embedder,
		Logger:    logger.With("component", "llm"),
	})

	knowledge := kb.New(cfg.KnowledgeDir, engine, sqlc.New(pool), logger.With("component", "kb"))
	if err := knowledge.Reload(ctx); err != nil {
		return fmt.Errorf("indexing knowledge base: %w", err)
	}

	stats := knowledge.Stats()
	fmt.Printf("Indexed %d examples from %s\n", stats.Examples, cfg.KnowledgeDir)
	return nil
}
