// Package observability wires OpenTelemetry tracing into the service.
//
// Spans are exported over OTLP HTTP to a local collector (OTel Collector or
// a vendor agent listening on the standard OTLP port). The exporter is
// registered on Genkit's TracerProvider, so model calls and our own spans
// land in the same trace tree.
package observability

import (
	"context"
	"os"

	"github.com/querypilot/querypilot/internal/log"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultEndpoint is the standard local OTLP HTTP endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for the trace exporter.
type Config struct {
	// Endpoint is the OTLP HTTP collector address (default: localhost:4318).
	Endpoint string
	// Environment tags spans with the deployment environment.
	Environment string
	// ServiceName is the name shown in the tracing backend.
	ServiceName string
}

// Setup registers an OTLP exporter with Genkit's TracerProvider.
// Returns a shutdown function that flushes pending spans. Exporter creation
// failure disables tracing instead of failing startup.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads service identity from the environment.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
