package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/kb"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/schema"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// TableSelector narrows the catalog to the tables relevant to a question.
type TableSelector interface {
	Select(ctx context.Context, snap *schema.Snapshot, question string, history []*ai.Message) ([]string, error)
}

// SQLSynthesizer turns a question plus schema detail into a SELECT statement.
type SQLSynthesizer interface {
	Synthesize(ctx context.Context, question, schemaText string, examples []kb.ScoredExample, history []*ai.Message) (string, error)
}

// Retriever finds knowledge-base examples similar to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (kb.Retrieval, error)
}

// Runner executes read-only SQL against the target warehouse.
type Runner interface {
	Run(ctx context.Context, sql string) (*executor.Result, error)
}

// Config holds the service tunables.
type Config struct {
	MaxExamples         int
	SimilarityThreshold float32
	PageSize            int
	ExportMaxRows       int
}

// Service orchestrates the attempt lifecycle: generation through the
// two-stage pipeline, execution against the warehouse, and access to
// frozen results.
type Service struct {
	store       *Store
	catalog     *schema.Catalog
	retriever   Retriever
	selector    TableSelector
	synthesizer SQLSynthesizer
	runner      Runner
	cfg         Config
	logger      log.Logger
}

func NewService(store *Store, catalog *schema.Catalog, retriever Retriever, selector TableSelector, synthesizer SQLSynthesizer, runner Runner, cfg Config, logger log.Logger) *Service {
	return &Service{
		store:       store,
		catalog:     catalog,
		retriever:   retriever,
		selector:    selector,
		synthesizer: synthesizer,
		runner:      runner,
		cfg:         cfg,
		logger:      logger,
	}
}

// Generate creates an attempt for the question and runs SQL generation.
// The attempt record is returned even when generation fails; in that case the
// error describes the failure and the attempt holds failed_generation.
func (s *Service) Generate(ctx context.Context, userID string, conversationID uuid.UUID, question string, history []*ai.Message) (*Attempt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	attempt, err := s.store.CreateAttempt(ctx, userID, conversationID, question, uuid.Nil)
	if err != nil {
		return nil, err
	}
	return s.runGeneration(ctx, attempt, history)
}

// Rerun creates a fresh attempt for an existing attempt's question and runs
// generation again. The new attempt links back to the original; the original
// and its results are untouched.
func (s *Service) Rerun(ctx context.Context, attemptID uuid.UUID, history []*ai.Message) (*Attempt, error) {
	orig, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.store.CreateAttempt(ctx, orig.UserID, orig.ConversationID, orig.Question, orig.ID)
	if err != nil {
		return nil, err
	}
	return s.runGeneration(ctx, attempt, history)
}

func (s *Service) runGeneration(ctx context.Context, attempt *Attempt, history []*ai.Message) (*Attempt, error) {
	start := time.Now()
	gen, genErr := s.generate(ctx, attempt.Question, history)
	elapsed := time.Since(start).Milliseconds()

	if genErr != nil {
		if err := s.store.MarkGenerationFailed(ctx, attempt.ID, genErr.Error(), elapsed); err != nil {
			s.logger.Error("recording generation failure", "attempt_id", attempt.ID, "error", err)
		}
		attempt.Status = StatusFailedGeneration
		attempt.ErrorMessage = genErr.Error()
		attempt.GenerationMs = elapsed
		s.logger.Warn("generation failed",
			"attempt_id", attempt.ID, "generation_ms", elapsed, "error", genErr)
		return attempt, genErr
	}

	if err := s.store.MarkGenerated(ctx, attempt.ID, gen.sql, gen.tables, elapsed, gen.shortcut, gen.topSimilarity); err != nil {
		return nil, err
	}
	attempt.GeneratedSQL = gen.sql
	attempt.SelectedTables = gen.tables
	attempt.GenerationMs = elapsed
	attempt.UsedShortcut = gen.shortcut
	attempt.TopSimilarity = gen.topSimilarity
	s.logger.Info("generated sql",
		"attempt_id", attempt.ID,
		"tables", gen.tables,
		"shortcut", gen.shortcut,
		"generation_ms", elapsed)
	return attempt, nil
}

type generation struct {
	sql           string
	tables        []string
	shortcut      bool
	topSimilarity float32
}

func (s *Service) generate(ctx context.Context, question string, history []*ai.Message) (generation, error) {
	ret, err := s.retriever.Retrieve(ctx, question, s.cfg.MaxExamples)
	if err != nil {
		s.logger.Warn("knowledge base retrieval failed", "error", err)
		ret = kb.Retrieval{Degraded: true}
	}

	// A near-exact knowledge-base match skips the model pipeline entirely.
	if len(ret.Examples) > 0 && ret.TopSimilarity >= s.cfg.SimilarityThreshold {
		best := ret.Examples[0]
		if err := ValidateSQL(best.SQL); err == nil {
			return generation{
				sql:           ensureSemicolon(best.SQL),
				shortcut:      true,
				topSimilarity: ret.TopSimilarity,
			}, nil
		}
		s.logger.Warn("shortcut example failed validation, using full pipeline",
			"filename", best.Filename)
	}

	snap, err := s.catalog.Snapshot()
	if err != nil {
		return generation{}, fmt.Errorf("schema catalog: %w", err)
	}

	tables, err := s.selector.Select(ctx, snap, question, history)
	if err != nil {
		return generation{}, err
	}

	schemaText := schema.FormatForPrompt(snap.Filter(tables))
	sqlText, err := s.synthesizer.Synthesize(ctx, question, schemaText, ret.Examples, history)
	if err != nil {
		return generation{}, err
	}

	if err := ValidateSQL(sqlText); err != nil {
		return generation{}, err
	}
	return generation{sql: sqlText, tables: tables, topSimilarity: ret.TopSimilarity}, nil
}

// Execute runs the attempt's generated SQL against the target warehouse and
// freezes the result set. The attempt is claimed with a conditional status
// update before any SQL runs, so concurrent calls settle on one execution and
// the rest get ErrAlreadyExecuted. The outcome moves the attempt to success,
// failed_execution, or timeout. A rejected acquisition (pool busy) releases
// the claim and leaves the attempt executable.
func (s *Service) Execute(ctx context.Context, attemptID uuid.UUID) (*Attempt, *Manifest, error) {
	attempt, err := s.store.ClaimExecution(ctx, attemptID)
	if err != nil {
		return attempt, nil, err
	}
	if attempt.GeneratedSQL == "" {
		s.release(ctx, attempt)
		return attempt, nil, fmt.Errorf("%w: attempt has no generated sql", ErrNotExecuted)
	}

	result, err := s.runner.Run(ctx, attempt.GeneratedSQL)
	if err != nil {
		if errors.Is(err, executor.ErrBusy) {
			s.release(ctx, attempt)
			return attempt, nil, err
		}
		status := StatusFailedExecution
		if errors.Is(err, executor.ErrTimeout) {
			status = StatusTimeout
		}
		attempt = s.settle(ctx, attempt, status, err.Error())
		s.logger.Warn("execution failed", "attempt_id", attempt.ID, "status", status, "error", err)
		return attempt, nil, err
	}

	manifest := &Manifest{
		AttemptID:   attempt.ID,
		Columns:     result.Columns,
		Rows:        result.Rows,
		TotalRows:   len(result.Rows),
		PageSize:    s.cfg.PageSize,
		Truncated:   result.Truncated,
		ExecutionMs: result.Duration.Milliseconds(),
	}
	if err := s.store.SaveManifest(ctx, manifest); err != nil {
		attempt = s.settle(ctx, attempt, StatusFailedExecution, "storing results failed")
		return attempt, nil, err
	}
	updated, err := s.store.SetStatus(ctx, attempt.ID, StatusSuccess, "")
	if err != nil {
		return attempt, nil, err
	}
	attempt = updated
	s.logger.Info("execution succeeded",
		"attempt_id", attempt.ID,
		"rows", manifest.TotalRows,
		"truncated", manifest.Truncated,
		"execution_ms", manifest.ExecutionMs)
	return attempt, manifest, nil
}

// release returns a claimed attempt to not_executed when no SQL ran.
func (s *Service) release(ctx context.Context, attempt *Attempt) {
	if err := s.store.ReleaseExecution(ctx, attempt.ID); err != nil {
		s.logger.Error("releasing execution claim", "attempt_id", attempt.ID, "error", err)
	}
	attempt.Status = StatusNotExecuted
}

// settle moves a claimed attempt to a terminal state, falling back to the
// in-memory copy when the update itself fails.
func (s *Service) settle(ctx context.Context, attempt *Attempt, status Status, message string) *Attempt {
	updated, err := s.store.SetStatus(ctx, attempt.ID, status, message)
	if err != nil {
		s.logger.Error("updating attempt status", "attempt_id", attempt.ID, "error", err)
		attempt.Status = status
		attempt.ErrorMessage = message
		return attempt
	}
	return updated
}

// Get returns a single attempt.
func (s *Service) Get(ctx context.Context, attemptID uuid.UUID) (*Attempt, error) {
	return s.store.Get(ctx, attemptID)
}

// List returns the user's attempts, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*Attempt, error) {
	return s.store.List(ctx, userID, limit, offset)
}

// Page is one page of a frozen result set. Pages are 1-based.
type Page struct {
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalRows  int      `json:"total_rows"`
	TotalPages int      `json:"total_pages"`
	Truncated  bool     `json:"truncated"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
}

// ResultsPage returns one page of an executed attempt's results.
func (s *Service) ResultsPage(ctx context.Context, attemptID uuid.UUID, page int) (*Page, error) {
	manifest, err := s.manifest(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	pageSize := manifest.PageSize
	if pageSize <= 0 {
		pageSize = s.cfg.PageSize
	}
	totalPages := (manifest.TotalRows + pageSize - 1) / pageSize

	p := &Page{
		Page:       page,
		PageSize:   pageSize,
		TotalRows:  manifest.TotalRows,
		TotalPages: totalPages,
		Truncated:  manifest.Truncated,
		Columns:    manifest.Columns,
		Rows:       [][]any{},
	}
	if manifest.TotalRows == 0 {
		if page != 1 {
			return nil, fmt.Errorf("%w: result set is empty", ErrPageOutOfRange)
		}
		return p, nil
	}
	if page < 1 || page > totalPages {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, totalPages)
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, len(manifest.Rows))
	p.Rows = manifest.Rows[start:end]
	return p, nil
}

// Export is a rendered CSV download of an attempt's results.
type Export struct {
	Filename  string
	Data      []byte
	Rows      int
	Truncated bool
}

// ExportCSV renders the attempt's full result set as CSV, capped at the
// configured export row limit.
func (s *Service) ExportCSV(ctx context.Context, attemptID uuid.UUID) (*Export, error) {
	manifest, err := s.manifest(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	rows := manifest.Rows
	truncated := manifest.Truncated
	if s.cfg.ExportMaxRows > 0 && len(rows) > s.cfg.ExportMaxRows {
		rows = rows[:s.cfg.ExportMaxRows]
		truncated = true
	}

	var buf bytes.Buffer
	if err := executor.WriteCSV(&buf, manifest.Columns, rows); err != nil {
		return nil, fmt.Errorf("rendering csv: %w", err)
	}
	return &Export{
		Filename:  fmt.Sprintf("results_%s.csv", attemptID),
		Data:      buf.Bytes(),
		Rows:      len(rows),
		Truncated: truncated,
	}, nil
}

// manifest loads the attempt's stored results, distinguishing a missing
// attempt from an attempt that has not executed successfully.
func (s *Service) manifest(ctx context.Context, attemptID uuid.UUID) (*Manifest, error) {
	attempt, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != StatusSuccess {
		return nil, fmt.Errorf("%w: status is %s", ErrNotExecuted, attempt.Status)
	}
	return s.store.GetManifest(ctx, attemptID)
}

func ensureSemicolon(sql string) string {
	sql = strings.TrimSpace(sql)
	if !strings.HasSuffix(sql, ";") {
		sql += ";"
	}
	return sql
}
