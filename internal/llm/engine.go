// Package llm provides the completion engine used by the generation pipeline.
//
// The engine wraps Genkit model and embedder calls with bounded
// exponential-backoff retry for transient provider failures and a client-side
// rate limiter. Errors that survive all retries surface as ErrUnavailable;
// permanent errors fail fast so callers can map them to their own taxonomy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// ErrUnavailable indicates the model provider kept failing with transient
// errors after all retries were exhausted.
var ErrUnavailable = errors.New("model service unavailable")

// CompletionRequest is a single prompt to the model.
type CompletionRequest struct {
	System      string        // system instruction, empty to omit
	Prompt      string        // user prompt text
	History     []*ai.Message // prior conversation turns, oldest first
	Temperature float32
}

// EngineConfig configures a completion engine.
type EngineConfig struct {
	// ModelName is the provider-qualified model (e.g. "googleai/gemini-2.5-flash").
	ModelName string
	// Embedder computes embedding vectors for retrieval.
	Embedder ai.Embedder
	// Retry bounds the backoff loop. Zero value uses DefaultRetryConfig.
	Retry RetryConfig
	// RequestsPerMinute caps outgoing provider calls. 0 disables the limiter.
	RequestsPerMinute int
	Logger            *slog.Logger
}

// Engine executes completions and embeddings against the configured provider.
// Safe for concurrent use.
type Engine struct {
	g        *genkit.Genkit
	model    string
	embedder ai.Embedder
	retry    RetryConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewEngine creates an engine on top of an initialized Genkit instance.
func NewEngine(g *genkit.Genkit, cfg EngineConfig) *Engine {
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 && retryCfg.InitialInterval == 0 {
		retryCfg = DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		g:        g,
		model:    cfg.ModelName,
		embedder: cfg.Embedder,
		retry:    retryCfg,
		limiter:  limiter,
		logger:   logger,
	}
}

// Complete sends the request to the model and returns the response text.
func (e *Engine) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := slices.Clone(req.History)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.Prompt)))

	opts := []ai.GenerateOption{
		ai.WithModelName(e.model),
		ai.WithMessages(messages...),
		ai.WithConfig(map[string]any{"temperature": req.Temperature}),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}

	resp, err := withRetry(ctx, e, "generate", func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, e.g, opts...)
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Embed computes embedding vectors for the given texts, in input order.
func (e *Engine) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := withRetry(ctx, e, "embed", func(ctx context.Context) (*ai.EmbedResponse, error) {
		return e.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// withRetry executes fn with exponential backoff on transient errors.
// Each attempt is rate limited, including retries.
func withRetry[T any](ctx context.Context, e *Engine, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := e.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= e.retry.MaxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			e.logger.Debug("model call succeeded",
				"op", op,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return result, nil
		}

		lastErr = err

		// Permanent errors fail fast
		if !retryableError(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		if attempt == e.retry.MaxRetries {
			break
		}

		e.logger.Debug("retrying after transient error",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, e.retry.MaxInterval)
		}
	}

	return zero, fmt.Errorf("%s after %d retries (elapsed: %v): %w: %w",
		op, e.retry.MaxRetries, time.Since(start), ErrUnavailable, lastErr)
}
