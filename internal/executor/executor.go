// Package executor runs generated SQL against the read-only target warehouse
// with a hard timeout, a concurrency cap, and a row capture limit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTimeout indicates the query exceeded the configured timeout. pgx
	// cancels the statement server-side when the context expires.
	ErrTimeout = errors.New("query timed out")

	// ErrBusy indicates all execution slots are taken. Callers should retry
	// later; the attempt is not consumed.
	ErrBusy = errors.New("executor at capacity")
)

const defaultMaxConcurrent = 5

// Config holds execution limits.
type Config struct {
	// QueryTimeout bounds a single statement's wall time.
	QueryTimeout time.Duration
	// MaxRows is the capture limit; reading stops there and the result is
	// marked truncated. Zero means unlimited.
	MaxRows int
	// MaxConcurrent bounds simultaneous executions.
	MaxConcurrent int
}

// Result is a fully captured result set.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

// Executor runs statements on the target pool.
type Executor struct {
	pool   *pgxpool.Pool
	cfg    Config
	sem    chan struct{}
	logger log.Logger
}

func New(pool *pgxpool.Pool, cfg Config, logger log.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Executor{
		pool:   pool,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		logger: logger,
	}
}

// NewTargetPool opens a pool against the target warehouse. Sessions are
// forced read-only at the connection level as a second line of defense
// behind SQL validation.
func NewTargetPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing target config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.ConnConfig.RuntimeParams["application_name"] = "querypilot-executor"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating target pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging target database: %w", err)
	}
	return pool, nil
}

// Run executes one statement and captures up to MaxRows rows.
func (e *Executor) Run(ctx context.Context, sql string) (*Result, error) {
	select {
	case e.sem <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer func() { <-e.sem }()

	runCtx := ctx
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.pool.Query(runCtx, sql)
	if err != nil {
		return nil, e.classify(runCtx, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	captured := make([][]any, 0, 64)
	truncated := false
	for rows.Next() {
		if e.cfg.MaxRows > 0 && len(captured) >= e.cfg.MaxRows {
			truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		captured = append(captured, normalizeRow(vals))
	}
	rows.Close()
	if err := rows.Err(); err != nil && !truncated {
		return nil, e.classify(runCtx, err)
	}

	duration := time.Since(start)
	e.logger.Debug("query executed",
		"rows", len(captured), "truncated", truncated, "duration", duration)
	return &Result{Columns: columns, Rows: captured, Truncated: truncated, Duration: duration}, nil
}

// classify maps driver errors onto the executor's error taxonomy.
func (e *Executor) classify(runCtx context.Context, err error) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", ErrTimeout, e.cfg.QueryTimeout)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" {
		// query_canceled, raised when pgx cancels the running statement.
		return fmt.Errorf("%w after %v", ErrTimeout, e.cfg.QueryTimeout)
	}
	return fmt.Errorf("executing query: %w", err)
}

// normalizeRow converts driver values into JSON-stable representations for
// the frozen manifest.
func normalizeRow(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
