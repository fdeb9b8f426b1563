package tracer

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/yndnr/rxcheckpoint"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns span recording on.
	Enabled bool
	// Exporter is "stdout" or "none".
	Exporter string
	// ServiceName is reported as service.name.
	ServiceName string
	// SampleRatio is the fraction of root spans sampled, 0 < r <= 1.
	SampleRatio float64
	// Output receives stdout exporter spans (defaults to os.Stdout).
	Output io.Writer
}

// Provider manages the OpenTelemetry tracer provider.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New creates a provider from cfg. A disabled config yields a no-op provider.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	}
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		opts = append(opts, sdktrace.WithSampler(
			sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))))
	}

	switch cfg.Exporter {
	case "", "none":
	case "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("tracer: stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("tracer: unknown exporter %q", cfg.Exporter)
	}

	return NewWithSDK(sdktrace.NewTracerProvider(opts...)), nil
}

// NewWithSDK wraps an existing SDK provider. Shutdown shuts it down.
func NewWithSDK(tp *sdktrace.TracerProvider) *Provider {
	return &Provider{sdk: tp, tracer: tp.Tracer(instrumentationName)}
}

// Noop returns a provider whose spans record nothing.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// Tracer returns the underlying tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Start starts an internal span. It is safe on a nil provider.
func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// Shutdown flushes and stops the SDK provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// End completes a span, recording err when non-nil.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Event adds an event to the span in ctx, if it is recording.
func Event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
