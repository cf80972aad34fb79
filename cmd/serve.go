package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/db"
	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/kb"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/sqlc"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the QueryPilot API server.

The server loads the schema snapshot and the knowledge base at startup, runs
pending database migrations, and listens until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})
	slog.SetDefault(logger)
	logger.Info("starting querypilot", "version", Version)

	if err := db.Migrate(cfg.AppPostgresURL()); err != nil {
		return fmt.Errorf("migrating application database: %w", err)
	}

	appPool, err := newAppPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer appPool.Close()

	targetPool, err := executor.NewTargetPool(ctx, cfg.TargetConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to target database: %w", err)
	}
	defer targetPool.Close()

	g, embedder, err := llm.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing AI provider: %w", err)
	}
	engine := llm.NewEngine(g, llm.EngineConfig{
		ModelName: cfg.FullModelName(),
		Embedder:  embedder,
		Logger:    logger.With("component", "llm"),
	})

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		}, logger.With("component", "observability"))
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("flushing traces failed", "error", err)
			}
		}()
	}

	queries := sqlc.New(appPool)

	catalog := schema.NewCatalog(cfg.SchemaPath, logger.With("component", "schema"))
	if err := catalog.Refresh(); err != nil {
		return fmt.Errorf("loading schema snapshot: %w", err)
	}

	knowledge := kb.New(cfg.KnowledgeDir, engine, queries, logger.With("component", "kb"))
	if err := knowledge.Reload(ctx); err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}

	exec := executor.New(targetPool, executor.Config{
		QueryTimeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		MaxRows:      cfg.MaxResultRows,
	}, logger.With("component", "executor"))

	queryLogger := logger.With("component", "query")
	svc := query.NewService(
		query.NewStore(queries),
		catalog,
		knowledge,
		query.NewSelector(engine, cfg.MaxTables, queryLogger),
		query.NewSynthesizer(engine, cfg.Temperature, queryLogger),
		exec,
		query.Config{
			MaxExamples:         cfg.MaxExamples,
			SimilarityThreshold: cfg.SimilarityThreshold,
			PageSize:            cfg.PageSize,
			ExportMaxRows:       cfg.ExportMaxRows,
		},
		queryLogger,
	)

	conversations := conversation.NewStore(queries, logger.With("component", "conversation"))

	server, err := api.NewServer(api.ServerConfig{
		Logger:             logger.With("component", "api"),
		Query:              svc,
		Conversations:      conversations,
		Catalog:            catalog,
		KB:                 knowledge,
		Pool:               appPool,
		CORSOrigins:        cfg.CORSOrigins,
		RatePerMinute:      cfg.RateLimitPerMinute,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return server.Run(ctx, cfg.HTTPAddr)
}

// newAppPool opens the application database pool (attempts, manifests,
// conversations, embedding cache).
func newAppPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.AppConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing application database config: %w", err)
	}
	pc.MaxConns = 10
	pc.MinConns = 2
	pc.ConnConfig.RuntimeParams["application_name"] = "querypilot"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating application pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging application database: %w", err)
	}
	return pool, nil
}
