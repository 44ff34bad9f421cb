// Package tracing provides distributed tracing for substrate on the
// OpenTelemetry SDK.
//
// Spans nest under the ambient context, propagate across process boundaries
// with W3C tracecontext headers, and are sampled at a configurable ratio.
// Spans that are dropped by the sampler are still recorded in-process so
// error details are never lost to sampling.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/chanuka/substrate/correlation"
)

// Exporter kinds.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// DefaultServiceName identifies spans when no service name is configured.
const DefaultServiceName = "substrate"

// Config defines tracer behavior.
type Config struct {
	// ServiceName tags exported spans. Empty defaults to "substrate".
	ServiceName string `yaml:"service_name"`

	// SampleRate is the fraction of root traces exported, in [0, 1].
	// Zero exports nothing; spans are still recorded in-process.
	SampleRate float64 `yaml:"sample_rate"`

	// Exporter is "stdout" or "none". Empty defaults to "none".
	Exporter string `yaml:"exporter"`
}

// ShutdownFunc flushes and stops a Tracer.
type ShutdownFunc func(context.Context) error

// Tracer wraps an OpenTelemetry tracer with substrate conventions.
type Tracer struct {
	tracer     trace.Tracer
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
	shutdown   ShutdownFunc
}

// New creates a Tracer from Config.
func New(cfg Config) (*Tracer, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(recordingSampler{
			base: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		}),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	}

	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing: create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	provider := sdktrace.NewTracerProvider(opts...)
	return &Tracer{
		tracer:     provider.Tracer(serviceName),
		provider:   provider,
		propagator: propagation.TraceContext{},
		shutdown:   provider.Shutdown,
	}, nil
}

// StartSpan starts a span nested under the ambient context. The span carries
// the ambient correlation id as an attribute when one is established.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := correlation.ID(ctx); id != "" {
		attrs = append(attrs, attribute.String("correlation_id", id))
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// CurrentSpan returns the span on the ambient context. When none exists a
// no-op span is returned.
func (t *Tracer) CurrentSpan(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// RecordError marks the span failed and records the error event.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Inject writes the span context on ctx into the carrier using W3C
// tracecontext headers, for cross-process continuation.
func (t *Tracer) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	t.propagator.Inject(ctx, carrier)
}

// Extract reads a propagated span context from the carrier into ctx.
func (t *Tracer) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return t.propagator.Extract(ctx, carrier)
}

// InjectHTTP injects the span context into HTTP headers.
func (t *Tracer) InjectHTTP(ctx context.Context, header http.Header) {
	t.Inject(ctx, propagation.HeaderCarrier(header))
}

// ExtractHTTP extracts a propagated span context from HTTP headers.
func (t *Tracer) ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return t.Extract(ctx, propagation.HeaderCarrier(header))
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// recordingSampler defers the export decision to the base sampler but
// upgrades Drop to RecordOnly, so unexported spans (error spans included)
// still record their events and status in-process.
type recordingSampler struct {
	base sdktrace.Sampler
}

func (s recordingSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	result := s.base.ShouldSample(p)
	if result.Decision == sdktrace.Drop {
		result.Decision = sdktrace.RecordOnly
	}
	return result
}

func (s recordingSampler) Description() string {
	return "RecordingSampler{" + s.base.Description() + "}"
}
