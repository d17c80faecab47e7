package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	tracing "gsraster/pkg/observability"
)

const conversionTagKey = "conversion_tag"

// ConversionTag identifies the conversion a request created or read.
// Handlers set it with TagConversion; the tracing and metrics middleware
// report it once the handler returns.
type ConversionTag struct {
	ID         string
	Device     string
	Resolution int
	Inputs     int
}

// TagConversion records which conversion the request is about.
func TagConversion(c *gin.Context, tag ConversionTag) {
	c.Set(conversionTagKey, tag)
	tracing.Annotate(c.Request.Context(), tracing.Conversion(tag.ID, tag.Device, tag.Resolution, tag.Inputs)...)
}

// taggedConversion returns the tag set by the handler, if any.
func taggedConversion(c *gin.Context) (ConversionTag, bool) {
	v, ok := c.Get(conversionTagKey)
	if !ok {
		return ConversionTag{}, false
	}
	tag, ok := v.(ConversionTag)
	return tag, ok
}

// TracingMiddleware starts a server span per request, continuing any trace
// the caller propagated, and echoes the trace ID in X-Trace-ID so a client
// can match its conversion to the executor's spans.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(c.Request.Method),
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPTargetKey.String(c.Request.URL.Path),
				semconv.HTTPClientIPKey.String(c.ClientIP()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header("X-Trace-ID", sc.TraceID().String())
		}

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
		if id := c.GetString("request_id"); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		if principal := c.GetString(ContextKeyPrincipal); principal != "" {
			span.SetAttributes(semconv.EnduserIDKey.String(principal))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
