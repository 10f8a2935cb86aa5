// Package workflow runs analyses: the primary analyzer followed by its
// secondary analyzers in dependency order, each wired to the artifact store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/otelhelper"
	"github.com/dukex/mangotango/pkg/registry"
	"github.com/dukex/mangotango/pkg/storage"
	"github.com/dukex/mangotango/pkg/table"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnknownAnalyzer = errors.New("unknown analyzer")
	ErrFinalized       = errors.New("analysis is already finalized")
)

type Phase string

const (
	PhaseStart  Phase = "start"
	PhaseFinish Phase = "finish"
)

// Event marks the start or finish of one stage of a run.
type Event struct {
	RunID      string
	AnalyzerID string
	Kind       models.DeclarationKind
	Phase      Phase
}

// StageError reports the analyzer whose stage failed. Trace holds the
// goroutine stack when the entry point panicked.
type StageError struct {
	AnalyzerID string
	Kind       models.DeclarationKind
	Err        error
	Trace      string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s analyzer %s failed: %v", e.Kind, e.AnalyzerID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Filter selects the secondaries to run; nil runs the autorun ones.
	// Dependencies of selected secondaries always run.
	Filter registry.Filter
}

// SecondaryFilter returns Filter, defaulting to registry.AutorunOnly.
func (o Options) SecondaryFilter() registry.Filter {
	if o.Filter == nil {
		return registry.AutorunOnly
	}

	return o.Filter
}

type Executor struct {
	logger *slog.Logger
	store  *storage.Store
	suite  *registry.Suite
	tracer trace.Tracer
}

func NewExecutor(logger *slog.Logger, store *storage.Store, suite *registry.Suite, tracer trace.Tracer) *Executor {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		logger: logger.With("module", "workflow_executor"),
		store:  store,
		suite:  suite,
		tracer: tracer,
	}
}

// Execute returns a sequential stream of stage events for a draft analysis;
// a finalized analysis yields ErrFinalized and is never touched. The primary analyzer
// runs first, then the selected secondaries in toposorted order. Once every
// stage finished the analysis is saved with is_draft=false. The stream ends
// with a single error on the first failure or cancellation; the analysis is
// then left a draft and the caller is responsible for deleting it.
// Stopping the iteration early also leaves the analysis a draft.
func (e *Executor) Execute(ctx context.Context, analysis *models.Analysis, opts Options) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		runID := uuid.NewString()
		logger := e.logger.With(
			"run_id", runID,
			"project_id", analysis.ProjectID,
			"analysis_id", analysis.AnalysisID,
		)

		if !analysis.IsDraft {
			yield(Event{}, fmt.Errorf("%w: %s", ErrFinalized, analysis.AnalysisID))

			return
		}

		primary, ok := e.suite.Primary(analysis.PrimaryAnalyzerID)
		if !ok {
			yield(Event{}, fmt.Errorf("%w: %s", ErrUnknownAnalyzer, analysis.PrimaryAnalyzerID))

			return
		}

		secondaries := e.suite.ToposortedSecondaries(primary.ID, opts.SecondaryFilter())

		logger.Info("Starting analysis run",
			"primary", primary.ID,
			"secondaries", len(secondaries))

		stage := func(id string, kind models.DeclarationKind, run func(ctx context.Context, logger *slog.Logger) error) bool {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)

				return false
			}

			event := Event{RunID: runID, AnalyzerID: id, Kind: kind, Phase: PhaseStart}
			if !yield(event, nil) {
				return false
			}

			if err := e.runStage(ctx, logger, runID, analysis, id, kind, run); err != nil {
				yield(Event{}, err)

				return false
			}

			event.Phase = PhaseFinish

			return yield(event, nil)
		}

		if !stage(primary.ID, models.KindPrimary, func(ctx context.Context, logger *slog.Logger) error {
			return e.runPrimary(ctx, logger, analysis, primary)
		}) {
			return
		}

		for _, decl := range secondaries {
			if !stage(decl.ID, models.KindSecondary, func(ctx context.Context, logger *slog.Logger) error {
				return e.runSecondary(ctx, logger, analysis, primary, decl)
			}) {
				return
			}
		}

		finalized := *analysis
		finalized.IsDraft = false

		if err := e.store.SaveAnalysis(ctx, &finalized); err != nil {
			yield(Event{}, fmt.Errorf("failed to finalize analysis: %w", err))

			return
		}
		analysis.IsDraft = false

		logger.Info("Completed analysis run")
	}
}

func (e *Executor) runStage(
	ctx context.Context,
	logger *slog.Logger,
	runID string,
	analysis *models.Analysis,
	id string,
	kind models.DeclarationKind,
	run func(ctx context.Context, logger *slog.Logger) error,
) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "analysis.stage",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.ProjectIDKey, analysis.ProjectID),
		attribute.String(otelhelper.AnalysisIDKey, analysis.AnalysisID),
		attribute.String(otelhelper.AnalyzerIDKey, id),
		attribute.String(otelhelper.AnalyzerKindKey, string(kind)),
	)
	defer span.End()

	logger = logger.With("analyzer_id", id, "kind", kind)
	logger.Info("Running analyzer")

	err := invoke(func() error { return run(ctx, logger) })
	if err == nil {
		err = ctx.Err()
	}

	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.AnalyzerIDKey, id))
		logger.Error("Analyzer failed", "error", err)

		stageErr := &StageError{AnalyzerID: id, Kind: kind, Err: err}

		var p *panicError
		if errors.As(err, &p) {
			stageErr.Trace = p.stack
		}

		return stageErr
	}

	logger.Info("Analyzer completed")

	return nil
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()

	return fn()
}

// withTempDir runs fn with a scratch directory that is removed afterwards.
func withTempDir(id string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", "mangotango-"+id+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}

	defer os.RemoveAll(dir)

	return fn(dir)
}

func (e *Executor) runPrimary(ctx context.Context, logger *slog.Logger, analysis *models.Analysis, decl *models.AnalyzerDeclaration) error {
	return withTempDir(decl.ID, func(dir string) error {
		pc := &primaryContext{
			outputs: newOutputs(decl.Outputs, func(outputID string) string {
				return e.store.PrimaryOutputPath(analysis, outputID)
			}),
			tempDir: dir,
			logger:  logger,
		}
		pc.input = func() (table.Reader, error) {
			return openInput(e.store.InputPath(analysis.ProjectID), decl.Input, analysis.ColumnMapping, analysis.ColumnSemantics)
		}

		err := decl.EntryPoint(ctx, pc)
		if closeErr := pc.closeAll(logger); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		return pc.verify()
	})
}

func (e *Executor) dependencyReader(analysis *models.Analysis, primaryID string, allowed []string) dependencies {
	return dependencies{
		store:    e.store,
		analysis: analysis,
		allowed:  allowed,
		lookup: func(secondaryID string) (*models.SecondaryAnalyzerDeclaration, bool) {
			return e.suite.Secondary(primaryID, secondaryID)
		},
	}
}

func (e *Executor) runSecondary(
	ctx context.Context,
	logger *slog.Logger,
	analysis *models.Analysis,
	primary *models.AnalyzerDeclaration,
	decl *models.SecondaryAnalyzerDeclaration,
) error {
	return withTempDir(decl.ID, func(dir string) error {
		sc := &secondaryContext{
			outputs: newOutputs(decl.Outputs, func(outputID string) string {
				return e.store.SecondaryOutputPath(analysis, decl.ID, outputID)
			}),
			dependencies: e.dependencyReader(analysis, primary.ID, decl.DependsOn),
			tempDir:      dir,
			logger:       logger,
			base:         baseReader(e.store, analysis, primary),
		}

		err := decl.EntryPoint(ctx, sc)
		if closeErr := sc.closeAll(logger); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		return sc.verify()
	})
}

// Render runs a presenter over a finalized analysis, writing its view to w.
// The presenter's state directory persists between renders.
func (e *Executor) Render(ctx context.Context, analysis *models.Analysis, presenterID string, w io.Writer) error {
	primary, ok := e.suite.Primary(analysis.PrimaryAnalyzerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnalyzer, analysis.PrimaryAnalyzerID)
	}

	decl, ok := e.suite.Presenter(primary.ID, presenterID)
	if !ok {
		return fmt.Errorf("%w: presenter %s", ErrUnknownAnalyzer, presenterID)
	}

	stateDir := e.store.PresenterStateDir(analysis, presenterID)
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return fmt.Errorf("failed to create presenter state directory: %w", err)
	}

	return e.runStage(ctx, e.logger, uuid.NewString(), analysis, decl.ID, models.KindPresenter, func(ctx context.Context, logger *slog.Logger) error {
		return withTempDir(decl.ID, func(dir string) error {
			pc := &presenterContext{
				dependencies: e.dependencyReader(analysis, primary.ID, decl.DependsOn),
				tempDir:      dir,
				stateDir:     stateDir,
				logger:       logger,
				base:         baseReader(e.store, analysis, primary),
			}

			return decl.Render(ctx, pc, w)
		})
	})
}
