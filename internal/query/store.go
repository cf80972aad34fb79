package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/sqlc"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the subset of generated queries the attempt store needs.
type Querier interface {
	CreateQueryAttempt(ctx context.Context, arg sqlc.CreateQueryAttemptParams) (sqlc.QueryAttempt, error)
	GetQueryAttempt(ctx context.Context, id pgtype.UUID) (sqlc.QueryAttempt, error)
	ListQueryAttempts(ctx context.Context, arg sqlc.ListQueryAttemptsParams) ([]sqlc.QueryAttempt, error)
	RecordGenerationSuccess(ctx context.Context, arg sqlc.RecordGenerationSuccessParams) error
	RecordGenerationFailure(ctx context.Context, arg sqlc.RecordGenerationFailureParams) error
	ClaimAttemptExecution(ctx context.Context, id pgtype.UUID) (sqlc.QueryAttempt, error)
	ReleaseAttemptExecution(ctx context.Context, id pgtype.UUID) error
	UpdateAttemptStatus(ctx context.Context, arg sqlc.UpdateAttemptStatusParams) (sqlc.QueryAttempt, error)
	CreateResultManifest(ctx context.Context, arg sqlc.CreateResultManifestParams) (sqlc.ResultManifest, error)
	GetResultManifest(ctx context.Context, attemptID pgtype.UUID) (sqlc.ResultManifest, error)
}

// Attempt is a single question-to-SQL run with its outcome.
type Attempt struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"user_id"`
	ConversationID    uuid.UUID `json:"conversation_id,omitzero"`
	Question          string    `json:"question"`
	GeneratedSQL      string    `json:"generated_sql,omitempty"`
	SelectedTables    []string  `json:"selected_tables,omitempty"`
	Status            Status    `json:"status"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	GenerationMs      int64     `json:"generation_ms"`
	UsedShortcut      bool      `json:"used_shortcut"`
	TopSimilarity     float32   `json:"top_similarity"`
	ExecutedAt        time.Time `json:"executed_at,omitzero"`
	OriginalAttemptID uuid.UUID `json:"original_attempt_id,omitzero"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Manifest is the frozen result set of a successful execution.
type Manifest struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	Columns     []string  `json:"columns"`
	Rows        [][]any   `json:"rows"`
	TotalRows   int       `json:"total_rows"`
	PageSize    int       `json:"page_size"`
	Truncated   bool      `json:"truncated"`
	ExecutionMs int64     `json:"execution_ms"`
}

// Store persists attempts and result manifests.
type Store struct {
	q Querier
}

func NewStore(q Querier) *Store {
	return &Store{q: q}
}

// CreateAttempt records a new attempt in not_executed state. conversationID
// and originalID may be uuid.Nil.
func (s *Store) CreateAttempt(ctx context.Context, userID string, conversationID uuid.UUID, question string, originalID uuid.UUID) (*Attempt, error) {
	row, err := s.q.CreateQueryAttempt(ctx, sqlc.CreateQueryAttemptParams{
		UserID:            userID,
		ConversationID:    toPgUUID(conversationID),
		Question:          question,
		OriginalAttemptID: toPgUUID(originalID),
	})
	if err != nil {
		return nil, fmt.Errorf("creating attempt: %w", err)
	}
	return attemptFromRow(row), nil
}

// Get returns the attempt or ErrAttemptNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	row, err := s.q.GetQueryAttempt(ctx, toPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
		}
		return nil, fmt.Errorf("loading attempt: %w", err)
	}
	return attemptFromRow(row), nil
}

// List returns the user's attempts, newest first.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]*Attempt, error) {
	rows, err := s.q.ListQueryAttempts(ctx, sqlc.ListQueryAttemptsParams{
		UserID:       userID,
		ResultLimit:  int32(limit),
		ResultOffset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	attempts := make([]*Attempt, len(rows))
	for i, row := range rows {
		attempts[i] = attemptFromRow(row)
	}
	return attempts, nil
}

// MarkGenerated records a successful generation. The attempt stays in
// not_executed state until execution.
func (s *Store) MarkGenerated(ctx context.Context, id uuid.UUID, sql string, tables []string, generationMs int64, usedShortcut bool, topSimilarity float32) error {
	err := s.q.RecordGenerationSuccess(ctx, sqlc.RecordGenerationSuccessParams{
		ID:             toPgUUID(id),
		GeneratedSql:   &sql,
		SelectedTables: tables,
		GenerationMs:   &generationMs,
		UsedShortcut:   usedShortcut,
		TopSimilarity:  &topSimilarity,
	})
	if err != nil {
		return fmt.Errorf("recording generation: %w", err)
	}
	return nil
}

// MarkGenerationFailed moves the attempt to failed_generation.
func (s *Store) MarkGenerationFailed(ctx context.Context, id uuid.UUID, message string, generationMs int64) error {
	err := s.q.RecordGenerationFailure(ctx, sqlc.RecordGenerationFailureParams{
		ID:           toPgUUID(id),
		ErrorMessage: &message,
		GenerationMs: &generationMs,
	})
	if err != nil {
		return fmt.Errorf("recording generation failure: %w", err)
	}
	return nil
}

// ClaimExecution atomically moves a not_executed attempt to executing. The
// conditional update makes concurrent claims race for a single winner: losers
// get ErrAlreadyExecuted, a missing attempt reads as ErrAttemptNotFound.
func (s *Store) ClaimExecution(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	row, err := s.q.ClaimAttemptExecution(ctx, toPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, gerr := s.Get(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return current, fmt.Errorf("%w: status is %s", ErrAlreadyExecuted, current.Status)
		}
		return nil, fmt.Errorf("claiming execution: %w", err)
	}
	return attemptFromRow(row), nil
}

// ReleaseExecution returns a claimed attempt to not_executed. Used when the
// claim was taken but no SQL ran.
func (s *Store) ReleaseExecution(ctx context.Context, id uuid.UUID) error {
	if err := s.q.ReleaseAttemptExecution(ctx, toPgUUID(id)); err != nil {
		return fmt.Errorf("releasing execution claim: %w", err)
	}
	return nil
}

// SetStatus moves the attempt to a terminal execution state and returns the
// refreshed row, executed_at stamped by the database.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status, message string) (*Attempt, error) {
	var msg *string
	if message != "" {
		msg = &message
	}
	row, err := s.q.UpdateAttemptStatus(ctx, sqlc.UpdateAttemptStatusParams{
		ID:           toPgUUID(id),
		Status:       string(status),
		ErrorMessage: msg,
	})
	if err != nil {
		return nil, fmt.Errorf("updating attempt status: %w", err)
	}
	return attemptFromRow(row), nil
}

// SaveManifest freezes an execution's result set for the attempt.
func (s *Store) SaveManifest(ctx context.Context, m *Manifest) error {
	cols, err := json.Marshal(m.Columns)
	if err != nil {
		return fmt.Errorf("encoding columns: %w", err)
	}
	rows, err := json.Marshal(m.Rows)
	if err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}
	_, err = s.q.CreateResultManifest(ctx, sqlc.CreateResultManifestParams{
		AttemptID:   toPgUUID(m.AttemptID),
		ColumnNames: cols,
		RowData:     rows,
		TotalRows:   int32(m.TotalRows),
		PageSize:    int32(m.PageSize),
		Truncated:   m.Truncated,
		ExecutionMs: m.ExecutionMs,
	})
	if err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}
	return nil
}

// GetManifest returns the stored results, or ErrNotExecuted when the attempt
// has none.
func (s *Store) GetManifest(ctx context.Context, attemptID uuid.UUID) (*Manifest, error) {
	row, err := s.q.GetResultManifest(ctx, toPgUUID(attemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: attempt %s", ErrNotExecuted, attemptID)
		}
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	m := &Manifest{
		AttemptID:   fromPgUUID(row.AttemptID),
		TotalRows:   int(row.TotalRows),
		PageSize:    int(row.PageSize),
		Truncated:   row.Truncated,
		ExecutionMs: row.ExecutionMs,
	}
	if err := json.Unmarshal(row.ColumnNames, &m.Columns); err != nil {
		return nil, fmt.Errorf("decoding columns: %w", err)
	}
	if err := json.Unmarshal(row.RowData, &m.Rows); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}
	return m, nil
}

func attemptFromRow(row sqlc.QueryAttempt) *Attempt {
	a := &Attempt{
		ID:                fromPgUUID(row.ID),
		UserID:            row.UserID,
		ConversationID:    fromPgUUID(row.ConversationID),
		Question:          row.Question,
		SelectedTables:    row.SelectedTables,
		Status:            Status(row.Status),
		UsedShortcut:      row.UsedShortcut,
		OriginalAttemptID: fromPgUUID(row.OriginalAttemptID),
		CreatedAt:         row.CreatedAt.Time,
		UpdatedAt:         row.UpdatedAt.Time,
	}
	if row.GeneratedSql != nil {
		a.GeneratedSQL = *row.GeneratedSql
	}
	if row.ErrorMessage != nil {
		a.ErrorMessage = *row.ErrorMessage
	}
	if row.GenerationMs != nil {
		a.GenerationMs = *row.GenerationMs
	}
	if row.TopSimilarity != nil {
		a.TopSimilarity = *row.TopSimilarity
	}
	if row.ExecutedAt.Valid {
		a.ExecutedAt = row.ExecutedAt.Time
	}
	return a
}

// toPgUUID converts a uuid.UUID, mapping uuid.Nil to SQL NULL.
func toPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}
