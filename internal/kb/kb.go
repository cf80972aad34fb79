// Package kb maintains the knowledge base of curated question/SQL examples.
//
// Examples are loaded from a directory of .sql files. Each example's title
// and description are embedded once and cached in the application database
// (pgvector column), so reload only re-embeds new or edited files. Retrieval
// ranks examples by cosine similarity against the incoming question; the
// whole set is swapped atomically on reload.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/querypilot/querypilot/internal/sqlc"
)

// VectorDimension is the embedding dimension of the kb_embeddings table.
// Embedders must be configured to produce vectors of this size.
const VectorDimension = 768

// ErrDimensionMismatch indicates the embedder returned a vector whose size
// does not match the cache schema.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder computes embedding vectors for texts, in input order.
// Satisfied by *llm.Engine.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache persists example embeddings between restarts.
// Satisfied by *sqlc.Queries.
type Cache interface {
	GetKbEmbedding(ctx context.Context, filename string) (sqlc.KbEmbedding, error)
	UpsertKbEmbedding(ctx context.Context, arg sqlc.UpsertKbEmbeddingParams) error
	DeleteStaleKbEmbeddings(ctx context.Context, filenames []string) error
}

// ScoredExample is an example with its similarity to the current question.
type ScoredExample struct {
	Example
	Similarity float32
}

// Retrieval is the outcome of matching a question against the knowledge base.
type Retrieval struct {
	// Examples holds the top matches, highest similarity first.
	Examples []ScoredExample
	// TopSimilarity is the best score, 0 when no examples matched.
	TopSimilarity float32
	// Degraded is set when question embedding failed; generation proceeds
	// without examples rather than failing the attempt.
	Degraded bool
}

// snapshot is an immutable view of the loaded examples.
type snapshot struct {
	examples   []Example
	reloadedAt time.Time
}

// KnowledgeBase loads, embeds, and retrieves examples.
// Safe for concurrent use; Reload swaps the example set atomically.
type KnowledgeBase struct {
	dir      string
	embedder Embedder
	cache    Cache // nil disables persistence (tests)
	logger   *slog.Logger
	snap     atomic.Pointer[snapshot]
}

// New creates a knowledge base over the given directory.
// Call Reload before first use.
func New(dir string, embedder Embedder, cache Cache, logger *slog.Logger) *KnowledgeBase {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeBase{
		dir:      dir,
		embedder: embedder,
		cache:    cache,
		logger:   logger,
	}
}

// Reload reads the example directory, embeds new or changed examples, and
// atomically replaces the current set. Unchanged examples reuse their cached
// embedding. On failure the previous set stays in place.
func (kb *KnowledgeBase) Reload(ctx context.Context) error {
	examples, err := loadDir(kb.dir)
	if err != nil {
		return err
	}

	// Resolve cached embeddings first so only new/edited files hit the embedder
	var missing []int
	for i := range examples {
		if vec, ok := kb.cachedEmbedding(ctx, &examples[i]); ok {
			examples[i].Embedding = vec
		} else {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = examples[i].EmbeddingText()
		}

		vectors, err := kb.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding %d examples: %w", len(missing), err)
		}

		for j, i := range missing {
			if len(vectors[j]) != VectorDimension {
				return fmt.Errorf("%w: example %s produced %d dimensions, want %d",
					ErrDimensionMismatch, examples[i].Filename, len(vectors[j]), VectorDimension)
			}
			examples[i].Embedding = vectors[j]
			kb.storeEmbedding(ctx, &examples[i])
		}
	}

	kb.pruneCache(ctx, examples)

	kb.snap.Store(&snapshot{examples: examples, reloadedAt: time.Now()})
	kb.logger.Info("knowledge base reloaded",
		"examples", len(examples),
		"embedded", len(missing),
	)
	return nil
}

// Retrieve returns the top-k examples most similar to the question.
// An embedding failure degrades to an empty result instead of erroring so a
// flaky embedder cannot block SQL generation.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, question string, k int) (Retrieval, error) {
	snap := kb.snap.Load()
	if snap == nil || len(snap.examples) == 0 || k <= 0 {
		return Retrieval{}, nil
	}

	vectors, err := kb.embedder.Embed(ctx, []string{question})
	if err != nil {
		kb.logger.Warn("question embedding failed, retrieval degraded",
			"error", err,
		)
		return Retrieval{Degraded: true}, nil
	}
	qvec := vectors[0]

	scored := make([]ScoredExample, 0, len(snap.examples))
	for _, ex := range snap.examples {
		scored = append(scored, ScoredExample{
			Example:    ex,
			Similarity: cosineSimilarity(qvec, ex.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })

	if len(scored) > k {
		scored = scored[:k]
	}

	return Retrieval{
		Examples:      scored,
		TopSimilarity: scored[0].Similarity,
	}, nil
}

// Stats describes the current example set for admin endpoints.
type Stats struct {
	Examples   int       `json:"examples"`
	ReloadedAt time.Time `json:"reloaded_at"`
}

// Stats returns example count and last reload time.
func (kb *KnowledgeBase) Stats() Stats {
	snap := kb.snap.Load()
	if snap == nil {
		return Stats{}
	}
	return Stats{Examples: len(snap.examples), ReloadedAt: snap.reloadedAt}
}

// cachedEmbedding looks up a cached vector matching the example's content hash.
func (kb *KnowledgeBase) cachedEmbedding(ctx context.Context, ex *Example) ([]float32, bool) {
	if kb.cache == nil {
		return nil, false
	}

	row, err := kb.cache.GetKbEmbedding(ctx, ex.Filename)
	if err != nil || row.ContentHash != ex.ContentHash {
		return nil, false
	}

	vec := row.Embedding.Slice()
	if len(vec) != VectorDimension {
		return nil, false
	}
	return vec, true
}

// storeEmbedding persists a freshly computed vector. Failures only log;
// the in-memory set is already correct.
func (kb *KnowledgeBase) storeEmbedding(ctx context.Context, ex *Example) {
	if kb.cache == nil {
		return
	}

	err := kb.cache.UpsertKbEmbedding(ctx, sqlc.UpsertKbEmbeddingParams{
		Filename:    ex.Filename,
		ContentHash: ex.ContentHash,
		Embedding:   pgvector.NewVector(ex.Embedding),
	})
	if err != nil {
		kb.logger.Warn("caching example embedding", "file", ex.Filename, "error", err)
	}
}

// pruneCache drops cache rows for examples that no longer exist on disk.
func (kb *KnowledgeBase) pruneCache(ctx context.Context, examples []Example) {
	if kb.cache == nil {
		return
	}

	filenames := make([]string, len(examples))
	for i, ex := range examples {
		filenames[i] = ex.Filename
	}
	if err := kb.cache.DeleteStaleKbEmbeddings(ctx, filenames); err != nil {
		kb.logger.Warn("pruning embedding cache", "error", err)
	}
}

// cosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
