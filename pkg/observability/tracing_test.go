package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"gsraster/pkg/models"
)

// recordSpans installs an in-memory provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prevProvider, prevPropagator := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return rec
}

func TestConversion_OmitsZeroValues(t *testing.T) {
	assert.Empty(t, Conversion("", "", 0, 0))

	attrs := Conversion("c-1", "png16m", 300, 2)
	assert.ElementsMatch(t, attrs, []attribute.KeyValue{
		ConversionIDKey.String("c-1"),
		DeviceKey.String("png16m"),
		ResolutionKey.Int(300),
		InputsKey.Int(2),
	})
}

func TestOutcome(t *testing.T) {
	now := time.Now()
	o := models.FailedOutcome("job-1", models.KindToolInvocationFailed, 3, "", "exit 3", now, now)

	assert.ElementsMatch(t, Outcome(o), []attribute.KeyValue{
		KindKey.String("TOOL_INVOCATION_FAILED"),
		ExitCodeKey.Int(3),
		JobIDKey.String("job-1"),
	})
}

func TestStep_RecordsError(t *testing.T) {
	rec := recordSpans(t)
	boom := errors.New("store down")

	err := Step(context.Background(), "store.record_outcome", func(ctx context.Context) error {
		return boom
	}, ConversionIDKey.String("c-1"))
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "store.record_outcome", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), ConversionIDKey.String("c-1"))
	require.Len(t, spans[0].Events(), 1)
}

func TestStep_NestsUnderCaller(t *testing.T) {
	rec := recordSpans(t)

	ctx, parent := Start(context.Background(), "executor.process")
	require.NoError(t, Step(ctx, "logs.store", func(ctx context.Context) error { return nil }))
	parent.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestInjectExtract_CarryTraceAcrossQueue(t *testing.T) {
	recordSpans(t)

	ctx, span := Start(context.Background(), "api.submit")
	defer span.End()

	carrier := Inject(ctx)
	require.Contains(t, carrier, "traceparent")

	resumed := Extract(context.Background(), carrier)
	assert.Equal(t, TraceID(ctx), TraceID(resumed))
	assert.NotEmpty(t, TraceID(resumed))
}

func TestInjectExtract_NoTrace(t *testing.T) {
	recordSpans(t)

	assert.Nil(t, Inject(context.Background()))
	assert.Equal(t, "", TraceID(Extract(context.Background(), nil)))
}

func TestInit_Disabled(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	p, err := Init(context.Background(), DefaultConfig("gsraster-test"))
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}
