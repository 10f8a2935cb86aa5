package otelhelper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func record(t *testing.T, err error) sdktrace.ReadOnlySpan {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, span := StartSpan(t.Context(), tracer, "analysis.run", attribute.String(AnalysisIDKey, "a1"))
	SetError(span, err, attribute.String(AnalyzerIDKey, "ngrams"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	return spans[0]
}

func TestSetError(t *testing.T) {
	span := record(t, errors.New("boom"))

	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "boom", span.Status().Description)
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)
	assert.Contains(t, span.Attributes(), attribute.String(AnalysisIDKey, "a1"))
}

func TestSetError_Cancelled(t *testing.T) {
	span := record(t, fmt.Errorf("stage aborted: %w", context.Canceled))

	assert.Equal(t, codes.Unset, span.Status().Code)
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "cancelled", span.Events()[0].Name)
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(t.Context(), NoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
