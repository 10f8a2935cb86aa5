// Package app is the caller layer over the artifact store, the analyzer suite
// and the run orchestrator. It enforces the lifecycle rules the lower layers
// leave to their callers: mappings are validated before a draft exists and
// failed runs never leave a draft behind.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/mangotango/pkg/otelhelper"
	"github.com/dukex/mangotango/pkg/registry"
	"github.com/dukex/mangotango/pkg/storage"
	"github.com/dukex/mangotango/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

var ErrRunCancelled = fmt.Errorf("analysis run cancelled: %w", context.Canceled)

var ErrUnknownOutput = errors.New("unknown output")

// ConfigurationError lists every problem found in a column mapping.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid analysis configuration: " + strings.Join(e.Problems, "; ")
}

// RunError reports the analyzer that failed a run.
type RunError struct {
	Analyzer string
	Err      error
	Trace    string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("analyzer %s failed: %v", e.Analyzer, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type App struct {
	logger   *slog.Logger
	store    *storage.Store
	suite    *registry.Suite
	executor *workflow.Executor
	tracer   trace.Tracer
}

func New(logger *slog.Logger, store *storage.Store, suite *registry.Suite, tracer trace.Tracer) *App {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &App{
		logger:   logger.With("module", "app"),
		store:    store,
		suite:    suite,
		executor: workflow.NewExecutor(logger, store, suite, tracer),
		tracer:   tracer,
	}
}

func (a *App) Store() *storage.Store {
	return a.store
}

func (a *App) Suite() *registry.Suite {
	return a.suite
}
