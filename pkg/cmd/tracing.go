package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/mangotango/pkg/config"
	"github.com/dukex/mangotango/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns the OTLP tracer when tracing is enabled and a no-op
// tracer otherwise. A tracer that fails to start is logged and replaced by
// the no-op tracer so analyses still run.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, logger *slog.Logger, cfg *config.Config) (trace.Tracer, otelhelper.ShutdownFunc) {
	noop := func(context.Context) error { return nil }

	if !cfg.Tracing.Enabled {
		return otelhelper.NoopTracer(), noop
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, otelhelper.Options{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: config.Version,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to start tracer, continuing without tracing", "error", err)

		return otelhelper.NoopTracer(), noop
	}

	return tracer, shutdown
}
