package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/kb"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. SQL
	// execution can take the full query timeout before a response starts.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum keep-alive wait between requests.
	IdleTimeout = 120 * time.Second
)

// QueryService is the attempt lifecycle surface the handlers consume.
type QueryService interface {
	Generate(ctx context.Context, userID string, conversationID uuid.UUID, question string, history []*ai.Message) (*query.Attempt, error)
	Rerun(ctx context.Context, attemptID uuid.UUID, history []*ai.Message) (*query.Attempt, error)
	Execute(ctx context.Context, attemptID uuid.UUID) (*query.Attempt, *query.Manifest, error)
	Get(ctx context.Context, attemptID uuid.UUID) (*query.Attempt, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*query.Attempt, error)
	ResultsPage(ctx context.Context, attemptID uuid.UUID, page int) (*query.Page, error)
	ExportCSV(ctx context.Context, attemptID uuid.UUID) (*query.Export, error)
}

// ConversationStore is the conversation surface the handlers consume.
type ConversationStore interface {
	Create(ctx context.Context, userID, title string) (*conversation.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*conversation.Conversation, error)
	Append(ctx context.Context, conversationID, parentID uuid.UUID, role, content string, attemptID uuid.UUID) (*conversation.Message, error)
	Messages(ctx context.Context, conversationID uuid.UUID) ([]*conversation.Message, error)
	Window(ctx context.Context, conversationID, leafID uuid.UUID, n int) ([]*ai.Message, error)
}

// SchemaCatalog is the admin surface over the schema snapshot.
type SchemaCatalog interface {
	Refresh() error
	Stats() (schema.Stats, error)
}

// KnowledgeBase is the admin surface over the example store.
type KnowledgeBase interface {
	Reload(ctx context.Context) error
	Stats() kb.Stats
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger             log.Logger
	Query              QueryService      // Required
	Conversations      ConversationStore // Required
	Catalog            SchemaCatalog     // Optional: nil disables schema admin/stats
	KB                 KnowledgeBase     // Optional: nil disables KB admin/stats
	Pool               *pgxpool.Pool     // Optional: nil disables pool check in /ready
	CORSOrigins        []string          // Allowed origins for CORS
	RatePerMinute      int               // Generation requests per user per minute (0 = 10)
	MaxHistoryMessages int               // Conversation turns passed to generation (0 = 10)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Query == nil {
		return nil, errors.New("query service is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	history := cfg.MaxHistoryMessages
	if history <= 0 {
		history = 10
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}

	qh := &queryHandler{
		svc:           cfg.Query,
		conversations: cfg.Conversations,
		history:       history,
		logger:        logger,
	}
	ch := &conversationHandler{store: cfg.Conversations, logger: logger}
	ah := &adminHandler{catalog: cfg.Catalog, kb: cfg.KB, logger: logger}

	// Generation burns model quota; only those routes are rate limited.
	generateLimit := rateLimitMiddleware(newRateLimiter(perMinute), logger)

	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/queries", generateLimit(http.HandlerFunc(qh.generate)))
	mux.HandleFunc("GET /api/v1/queries", qh.list)
	mux.HandleFunc("GET /api/v1/queries/{id}", qh.get)
	mux.HandleFunc("POST /api/v1/queries/{id}/execute", qh.execute)
	mux.Handle("POST /api/v1/queries/{id}/rerun", generateLimit(http.HandlerFunc(qh.rerun)))
	mux.HandleFunc("GET /api/v1/queries/{id}/results", qh.results)
	mux.HandleFunc("GET /api/v1/queries/{id}/export", qh.export)

	mux.HandleFunc("POST /api/v1/conversations", ch.create)
	mux.HandleFunc("GET /api/v1/conversations", ch.list)
	mux.HandleFunc("GET /api/v1/conversations/{id}", ch.get)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", ch.messages)

	mux.HandleFunc("POST /api/v1/admin/schema/refresh", ah.refreshSchema)
	mux.HandleFunc("POST /api/v1/admin/kb/reload", ah.reloadKB)
	mux.HandleFunc("GET /api/v1/stats", ah.stats)

	// Middleware stack (outermost first):
	//   Recovery -> RequestID -> Logging -> CORS -> User -> Routes
	var handler http.Handler = mux
	handler = userMiddleware(logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack so load balancers need no
	// identity header.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
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
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
