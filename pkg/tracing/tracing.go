// Package tracing wires OpenTelemetry for the store: a span per
// mutation batch and a child span per mutating request. The exporter
// is configuration-selected (OTLP over gRPC or HTTP, stdout for
// development, or none), and a disabled service degrades to no-op
// without touching call sites.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter selects where spans go.
type Exporter string

const (
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterStdout   Exporter = "stdout"
	ExporterNone     Exporter = "none"
)

// Config tunes the tracing service.
type Config struct {
	Enabled      bool
	ServiceName  string
	Version      string
	Environment  string
	Exporter     Exporter
	Endpoint     string
	Insecure     bool
	SamplingRate float64
	Timeout      time.Duration
}

// DefaultConfig traces everything to stdout, the development setup.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		ServiceName:  "qcore",
		Version:      "0.1.0",
		Environment:  "local",
		Exporter:     ExporterStdout,
		SamplingRate: 1.0,
		Timeout:      10 * time.Second,
	}
}

// Service owns the tracer provider and its shutdown.
type Service struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// NewService builds the provider, registers it globally, and returns
// the handle the process shuts down with. A disabled config yields a
// no-op provider.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if !cfg.Enabled || cfg.Exporter == ExporterNone {
		return &Service{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build trace exporter: %w", err)
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
		attribute.String("deployment.environment", cfg.Environment),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SamplingRate > 0 && cfg.SamplingRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Service{provider: provider, shutdown: provider.Shutdown}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	switch cfg.Exporter {
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithTimeout(timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	case ExporterStdout, "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// TracerProvider returns the provider for wiring into components that
// take one explicitly (e.g. the store's WithTracerProvider option).
func (s *Service) TracerProvider() trace.TracerProvider { return s.provider }

// Tracer returns a named tracer from the service's provider.
func (s *Service) Tracer(name string) trace.Tracer { return s.provider.Tracer(name) }

// StartSpan opens a span on the service's provider.
func (s *Service) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.Tracer("qcore").Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the current span with err, if a span is recording.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() && err != nil {
		span.RecordError(err)
	}
}

// TraceID returns the current trace id for log correlation, empty when
// no span is active.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown flushes pending spans.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx)
}
