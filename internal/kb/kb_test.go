package kb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/querypilot/querypilot/internal/log"
)

// stubEmbedder returns registered vectors by text and counts calls.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = vec768(1) // arbitrary default
		}
	}
	return out, nil
}

func (s *stubEmbedder) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// vec768 pads the given components to the cache dimension.
func vec768(vals ...float32) []float32 {
	v := make([]float32, VectorDimension)
	copy(v, vals)
	return v
}

func TestParseExample(t *testing.T) {
	content := "-- Monthly revenue\n-- Trailing 12 months.\nSELECT 1;\n"
	ex := parseExample("monthly.sql", content)

	if ex.Title != "Monthly revenue" {
		t.Errorf("Title = %q, want %q", ex.Title, "Monthly revenue")
	}
	if ex.Description != "Trailing 12 months." {
		t.Errorf("Description = %q", ex.Description)
	}
	if ex.SQL != "SELECT 1;" {
		t.Errorf("SQL = %q", ex.SQL)
	}
	if ex.ContentHash == "" {
		t.Error("ContentHash is empty")
	}
}

func TestParseExampleNoComments(t *testing.T) {
	ex := parseExample("top_customers.sql", "SELECT * FROM users;")
	if ex.Title != "top_customers" {
		t.Errorf("Title = %q, want filename-derived title", ex.Title)
	}
	if ex.SQL != "SELECT * FROM users;" {
		t.Errorf("SQL = %q", ex.SQL)
	}
}

func TestLoadDir(t *testing.T) {
	examples, err := loadDir(filepath.Join("testdata", "knowledge"))
	if err != nil {
		t.Fatalf("loadDir() error: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("loadDir() = %d examples, want 2", len(examples))
	}
	// Sorted by filename
	if examples[0].Filename != "monthly_revenue.sql" || examples[1].Filename != "top_customers.sql" {
		t.Errorf("unexpected order: %s, %s", examples[0].Filename, examples[1].Filename)
	}
	if examples[0].Title != "Monthly revenue by product category" {
		t.Errorf("Title = %q", examples[0].Title)
	}
}

func TestRetrieveOrderingAndThreshold(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"Monthly revenue by product category\nSums order totals per category for the trailing 12 months.": vec768(1, 0),
		"top_customers":    vec768(0, 1),
		"monthly revenue?": vec768(0.9, 0.1),
	}}

	kb := New(filepath.Join("testdata", "knowledge"), emb, nil, log.NewNop())
	if err := kb.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	ret, err := kb.Retrieve(context.Background(), "monthly revenue?", 3)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if ret.Degraded {
		t.Fatal("Retrieve() degraded unexpectedly")
	}
	if len(ret.Examples) != 2 {
		t.Fatalf("Retrieve() = %d examples, want 2", len(ret.Examples))
	}
	if ret.Examples[0].Filename != "monthly_revenue.sql" {
		t.Errorf("top example = %s, want monthly_revenue.sql", ret.Examples[0].Filename)
	}
	if ret.Examples[0].Similarity <= ret.Examples[1].Similarity {
		t.Errorf("results not ordered by similarity: %v vs %v",
			ret.Examples[0].Similarity, ret.Examples[1].Similarity)
	}
	if ret.TopSimilarity != ret.Examples[0].Similarity {
		t.Errorf("TopSimilarity = %v, want %v", ret.TopSimilarity, ret.Examples[0].Similarity)
	}

	// k limits the result count
	ret, err = kb.Retrieve(context.Background(), "monthly revenue?", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ret.Examples) != 1 {
		t.Errorf("Retrieve(k=1) = %d examples, want 1", len(ret.Examples))
	}
}

func TestRetrieveDegradedOnEmbedFailure(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	kb := New(filepath.Join("testdata", "knowledge"), emb, nil, log.NewNop())
	if err := kb.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	emb.setErr(errors.New("embedder down"))

	ret, err := kb.Retrieve(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want nil (degraded mode)", err)
	}
	if !ret.Degraded {
		t.Error("Retrieve() Degraded = false, want true")
	}
	if len(ret.Examples) != 0 {
		t.Errorf("Retrieve() returned %d examples in degraded mode", len(ret.Examples))
	}
}

func TestRetrieveBeforeReload(t *testing.T) {
	kb := New("nonexistent", &stubEmbedder{}, nil, log.NewNop())
	ret, err := kb.Retrieve(context.Background(), "question", 3)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(ret.Examples) != 0 || ret.TopSimilarity != 0 {
		t.Error("Retrieve() before Reload should return an empty result")
	}
}

func TestReloadFailureKeepsOldSet(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	kb := New(filepath.Join("testdata", "knowledge"), emb, nil, log.NewNop())
	if err := kb.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	kb.dir = "nonexistent"
	if err := kb.Reload(context.Background()); err == nil {
		t.Fatal("Reload() with missing dir succeeded, want error")
	}

	if kb.Stats().Examples != 2 {
		t.Error("old example set lost after failed reload")
	}
}

func TestStats(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	kb := New(filepath.Join("testdata", "knowledge"), emb, nil, log.NewNop())

	if s := kb.Stats(); s.Examples != 0 {
		t.Errorf("Stats() before reload = %d examples, want 0", s.Examples)
	}

	if err := kb.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := kb.Stats()
	if s.Examples != 2 {
		t.Errorf("Stats() = %d examples, want 2", s.Examples)
	}
	if s.ReloadedAt.IsZero() {
		t.Error("Stats() ReloadedAt is zero")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched length", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
