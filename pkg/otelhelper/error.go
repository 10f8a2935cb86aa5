package otelhelper

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed. A cancelled context is recorded as a
// "cancelled" event and leaves the status unset.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if errors.Is(err, context.Canceled) {
		span.AddEvent("cancelled", trace.WithAttributes(attrs...))

		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
