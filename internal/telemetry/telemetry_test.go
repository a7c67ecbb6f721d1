package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "test-service", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Non-routable address so no actual export happens.
	shutdown, err := Setup(context.Background(), "test-service", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestEnd_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := Start(context.Background(), "engine.complete")
	End(span, errors.New("boom"))

	_, okSpan := Start(context.Background(), "engine.fail")
	End(okSpan, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "engine.complete", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestHeadersCarryTraceContext(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, span := Start(context.Background(), "send")
	defer span.End()

	h := map[string]string{}
	InjectHeaders(ctx, h)
	require.Contains(t, h, "traceparent")

	got := ExtractHeaders(context.Background(), h)
	_, child := Start(got, "receive")
	child.End()
	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}
