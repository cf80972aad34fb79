package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/testutil"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

// failingModel registers a model that fails with err for the first failures
// calls, then answers with reply. Returns a counter of total calls.
func failingModel(g *genkit.Genkit, name string, failures int, err error, reply string) *int {
	calls := 0
	genkit.DefineModel(g, name, &ai.ModelOptions{
		Supports: &ai.ModelSupports{Multiturn: true, SystemRole: true},
	}, func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		calls++
		if calls <= failures {
			return nil, err
		}
		return &ai.ModelResponse{
			Request: req,
			Message: &ai.Message{
				Role:    ai.RoleModel,
				Content: []*ai.Part{ai.NewTextPart(reply)},
			},
		}, nil
	})
	return &calls
}

func TestCompleteReturnsText(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	mock := testutil.NewMockLLM("SELECT 1")
	mock.AddResponse("how many users", "SELECT count(*) FROM users")
	mock.RegisterModel(g)

	engine := NewEngine(g, EngineConfig{
		ModelName: "mock/test-model",
		Retry:     fastRetry(1),
	})

	got, err := engine.Complete(ctx, CompletionRequest{
		System: "You write SQL.",
		Prompt: "How many users signed up last week?",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT count(*) FROM users" {
		t.Errorf("Complete() = %q", got)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].UserMessage, "last week") {
		t.Errorf("prompt not forwarded to model: %q", calls[0].UserMessage)
	}
}

func TestCompleteIncludesHistory(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	var gotMessages int
	genkit.DefineModel(g, "mock/history-model", &ai.ModelOptions{
		Supports: &ai.ModelSupports{Multiturn: true},
	}, func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		gotMessages = len(req.Messages)
		return &ai.ModelResponse{
			Request: req,
			Message: &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart("ok")}},
		}, nil
	})

	engine := NewEngine(g, EngineConfig{ModelName: "mock/history-model", Retry: fastRetry(0)})

	history := []*ai.Message{
		ai.NewTextMessage(ai.RoleUser, "show orders"),
		ai.NewTextMessage(ai.RoleModel, "SELECT * FROM orders;"),
	}
	if _, err := engine.Complete(ctx, CompletionRequest{Prompt: "only last month", History: history}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	// Two history turns plus the new prompt.
	if gotMessages != 3 {
		t.Errorf("model received %d messages, want 3", gotMessages)
	}
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	calls := failingModel(g, "mock/flaky", 2, errors.New("429 rate limit exceeded"), "SELECT 1")

	engine := NewEngine(g, EngineConfig{ModelName: "mock/flaky", Retry: fastRetry(3)})

	got, err := engine.Complete(ctx, CompletionRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Errorf("Complete() = %q", got)
	}
	if *calls != 3 {
		t.Errorf("model calls = %d, want 3", *calls)
	}
}

func TestCompletePermanentErrorFailsFast(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	calls := failingModel(g, "mock/broken", 10, errors.New("401 invalid API key"), "")

	engine := NewEngine(g, EngineConfig{ModelName: "mock/broken", Retry: fastRetry(3)})

	_, err := engine.Complete(ctx, CompletionRequest{Prompt: "q"})
	if err == nil {
		t.Fatal("Complete() succeeded, want error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("permanent error reported as ErrUnavailable")
	}
	if *calls != 1 {
		t.Errorf("model calls = %d, want 1 (no retries)", *calls)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	calls := failingModel(g, "mock/down", 10, errors.New("503 Service Unavailable"), "")

	engine := NewEngine(g, EngineConfig{ModelName: "mock/down", Retry: fastRetry(2)})

	_, err := engine.Complete(ctx, CompletionRequest{Prompt: "q"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if *calls != 3 {
		t.Errorf("model calls = %d, want 3 (initial + 2 retries)", *calls)
	}
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	mock := testutil.NewMockEmbedder(8)
	embedder := mock.RegisterEmbedder(g)

	engine := NewEngine(g, EngineConfig{
		ModelName: "mock/test-model",
		Embedder:  embedder,
		Retry:     fastRetry(0),
	})

	vectors, err := engine.Embed(ctx, []string{"top customers", "monthly revenue"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 8 {
			t.Errorf("vector %d has %d dimensions, want 8", i, len(v))
		}
	}

	// Same input must produce the same vector.
	again, err := engine.Embed(ctx, []string{"top customers"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i := range again[0] {
		if again[0][i] != vectors[0][i] {
			t.Fatal("embedding is not deterministic")
		}
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	embedder := genkit.DefineEmbedder(g, "mock/short-embedder", &ai.EmbedderOptions{},
		func(_ context.Context, _ *ai.EmbedRequest) (*ai.EmbedResponse, error) {
			return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{1}}}}, nil
		})

	engine := NewEngine(g, EngineConfig{Embedder: embedder, Retry: fastRetry(0)})

	_, err := engine.Embed(ctx, []string{"a", "b"})
	if err == nil {
		t.Fatal("Embed() succeeded with mismatched vector count")
	}
}
