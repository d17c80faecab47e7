// Package tracing exports OpenTelemetry spans for gsraster processes and
// carries a conversion's identity (id, device, resolution, job) through them,
// so one trace follows a request from the API into the executor's worker.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	"gsraster/pkg/models"
)

const instrumentationName = "gsraster"

// Span attributes shared by the API, the executor and the runner.
const (
	ConversionIDKey = attribute.Key("gsraster.conversion.id")
	JobIDKey        = attribute.Key("gsraster.job.id")
	ExecutorKey     = attribute.Key("gsraster.executor")
	ToolKey         = attribute.Key("gsraster.tool")
	DeviceKey       = attribute.Key("gsraster.device")
	ResolutionKey   = attribute.Key("gsraster.resolution")
	InputsKey       = attribute.Key("gsraster.inputs")
	KindKey         = attribute.Key("gsraster.outcome.kind")
	ExitCodeKey     = attribute.Key("gsraster.outcome.exit_code")
)

// Config holds tracing configuration.
type Config struct {
	Service string
	Version string
	// Endpoint is the OTLP/HTTP collector, host:port.
	Endpoint string
	Enabled  bool
	// SampleRatio applies to root spans only; children follow their parent.
	SampleRatio float64
}

// DefaultConfig returns a disabled config for service. Export starts once an
// endpoint is configured and Enabled is set.
func DefaultConfig(service string) Config {
	return Config{
		Service:     service,
		Version:     "0.3.0",
		Endpoint:    "localhost:4318",
		SampleRatio: 1.0,
	}
}

// Provider owns the exporting tracer provider, if any.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// Init installs the global tracer provider and W3C propagation. With export
// disabled only the propagator is installed, so trace context still flows
// between the API and the executor.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	host, _ := os.Hostname()
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.Service),
		semconv.ServiceVersionKey.String(cfg.Version),
		semconv.HostNameKey.String(host),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Tracer returns the gsraster tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Conversion describes a conversion request. Zero values are left out.
func Conversion(id, device string, resolution, inputs int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id != "" {
		attrs = append(attrs, ConversionIDKey.String(id))
	}
	if device != "" {
		attrs = append(attrs, DeviceKey.String(device))
	}
	if resolution > 0 {
		attrs = append(attrs, ResolutionKey.Int(resolution))
	}
	if inputs > 0 {
		attrs = append(attrs, InputsKey.Int(inputs))
	}
	return attrs
}

// Outcome describes how a job ended.
func Outcome(o models.Outcome) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		KindKey.String(string(o.Kind)),
		ExitCodeKey.Int(o.Code()),
	}
	if o.JobID != "" {
		attrs = append(attrs, JobIDKey.String(o.JobID))
	}
	return attrs
}

// Start opens a span on the gsraster tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Step runs fn inside a child span named name and records its error.
func Step(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Start(ctx, name, attrs...)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Annotate adds attrs to the span in ctx.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetError records err on the span in ctx and marks it failed.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace ID in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Inject serializes the trace context in ctx for a queued request.
func Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Extract resumes the trace a queued request was enqueued under.
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}
