package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/testutil"

	"github.com/google/uuid"
)

func TestRunBusyWhenSlotsExhausted(t *testing.T) {
	e := New(nil, Config{MaxConcurrent: 1}, log.NewNop())
	e.sem <- struct{}{}

	_, err := e.Run(context.Background(), "SELECT 1")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Run() error = %v, want ErrBusy", err)
	}
}

func TestNormalizeValue(t *testing.T) {
	id := uuid.New()
	if got := normalizeValue([16]byte(id)); got != id.String() {
		t.Errorf("normalizeValue(uuid) = %v, want %s", got, id)
	}
	if got := normalizeValue([]byte("raw")); got != "raw" {
		t.Errorf("normalizeValue(bytes) = %v, want raw", got)
	}
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := normalizeValue(ts); got != "2025-06-01T12:00:00Z" {
		t.Errorf("normalizeValue(time) = %v", got)
	}
	if got := normalizeValue(int64(7)); got != int64(7) {
		t.Errorf("normalizeValue(int64) = %v", got)
	}
}

func TestRunCapturesAndTruncates(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)

	e := New(db.Pool, Config{QueryTimeout: 30 * time.Second, MaxRows: 1000}, log.NewNop())

	res, err := e.Run(context.Background(), "SELECT i AS n, 'row ' || i AS label FROM generate_series(1, 500) AS i")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "n" || res.Columns[1] != "label" {
		t.Errorf("Columns = %v", res.Columns)
	}
	if len(res.Rows) != 500 || res.Truncated {
		t.Errorf("got %d rows (truncated=%v), want 500 untruncated", len(res.Rows), res.Truncated)
	}

	res, err = e.Run(context.Background(), "SELECT i FROM generate_series(1, 1500) AS i")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Rows) != 1000 || !res.Truncated {
		t.Errorf("got %d rows (truncated=%v), want 1000 truncated", len(res.Rows), res.Truncated)
	}

	// MaxRows zero captures the whole result set.
	unbounded := New(db.Pool, Config{QueryTimeout: 30 * time.Second}, log.NewNop())
	res, err = unbounded.Run(context.Background(), "SELECT i FROM generate_series(1, 1500) AS i")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Rows) != 1500 || res.Truncated {
		t.Errorf("got %d rows (truncated=%v), want 1500 untruncated", len(res.Rows), res.Truncated)
	}
}

func TestRunTimeout(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)

	e := New(db.Pool, Config{QueryTimeout: 200 * time.Millisecond}, log.NewNop())

	_, err := e.Run(context.Background(), "SELECT pg_sleep(5)")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestRunQueryError(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)

	e := New(db.Pool, Config{QueryTimeout: 5 * time.Second}, log.NewNop())

	_, err := e.Run(context.Background(), "SELECT * FROM table_that_does_not_exist")
	if err == nil {
		t.Fatal("Run() succeeded on a missing table")
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBusy) {
		t.Errorf("Run() error = %v, want a plain execution error", err)
	}
}
