package observability

import (
	"context"
	"os"
	"testing"

	"github.com/querypilot/querypilot/internal/log"
)

func TestSetupDefaultEndpoint(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Setup(ctx, Config{
		Environment: "test",
		ServiceName: "test-service",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown")
	}

	// Shutdown must not panic even when no collector is listening.
	_ = shutdown(ctx)
}

func TestSetupSetsServiceEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "")

	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{
		Endpoint:    "localhost:4318",
		Environment: "staging",
		ServiceName: "querypilot",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer func() { _ = shutdown(ctx) }()

	if got := os.Getenv("OTEL_SERVICE_NAME"); got != "querypilot" {
		t.Errorf("OTEL_SERVICE_NAME = %q", got)
	}
	if got := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); got != "deployment.environment=staging" {
		t.Errorf("OTEL_RESOURCE_ATTRIBUTES = %q", got)
	}
}

func TestSetupCollectorUnavailable(t *testing.T) {
	ctx := context.Background()

	// Exporter creation does not dial; spans fail to export silently.
	shutdown, err := Setup(ctx, Config{
		Endpoint:    "localhost:1",
		Environment: "test",
		ServiceName: "unreachable-test",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	_ = shutdown(ctx)
}
