package app

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/otelhelper"
	"github.com/dukex/mangotango/pkg/storage"
	"github.com/dukex/mangotango/pkg/table"
	"go.opentelemetry.io/otel/attribute"
)

// ExportableOutput is one non-internal output with artifacts on disk.
type ExportableOutput struct {
	// SecondaryID is empty for primary outputs.
	SecondaryID string
	Output      models.AnalyzerOutput
}

func (o ExportableOutput) Name() string {
	return storage.ExportName(o.SecondaryID, o.Output.ID)
}

// ExportableOutputs lists the primary outputs followed by the outputs of every
// secondary analyzer that ran for the analysis.
func (a *App) ExportableOutputs(_ context.Context, analysis *models.Analysis) ([]ExportableOutput, error) {
	primary, err := a.primary(analysis.PrimaryAnalyzerID)
	if err != nil {
		return nil, err
	}

	var outputs []ExportableOutput
	for _, out := range primary.Outputs {
		if !out.Internal {
			outputs = append(outputs, ExportableOutput{Output: out})
		}
	}

	ran, err := a.store.SecondaryOutputSets(analysis)
	if err != nil {
		return nil, err
	}

	for _, decl := range a.suite.Secondaries(primary.ID) {
		if !slices.Contains(ran, decl.ID) {
			continue
		}

		for _, out := range decl.Outputs {
			if !out.Internal {
				outputs = append(outputs, ExportableOutput{SecondaryID: decl.ID, Output: out})
			}
		}
	}

	return outputs, nil
}

// FindOutput resolves an export name as listed by ExportableOutputs.
func (a *App) FindOutput(ctx context.Context, analysis *models.Analysis, name string) (ExportableOutput, error) {
	outputs, err := a.ExportableOutputs(ctx, analysis)
	if err != nil {
		return ExportableOutput{}, err
	}

	for _, out := range outputs {
		if out.Name() == name {
			return out, nil
		}
	}

	return ExportableOutput{}, fmt.Errorf("%w: %s", ErrUnknownOutput, name)
}

// ChunkSize resolves the rows per exported file: the override when given,
// otherwise the saved setting. Zero means a single file.
func (a *App) ChunkSize(ctx context.Context, override *int) (int, error) {
	if override != nil {
		return *override, nil
	}

	settings, err := a.store.Settings(ctx)
	if err != nil {
		return 0, err
	}

	if settings.ExportChunkSize == nil {
		return 0, nil
	}

	return *settings.ExportChunkSize, nil
}

func (a *App) Export(
	ctx context.Context,
	analysis *models.Analysis,
	output ExportableOutput,
	format table.Format,
	chunkOverride *int,
	progress func(float64),
) (*storage.ExportResult, error) {
	chunkSize, err := a.ChunkSize(ctx, chunkOverride)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "analysis.export",
		attribute.String(otelhelper.ProjectIDKey, analysis.ProjectID),
		attribute.String(otelhelper.AnalysisIDKey, analysis.AnalysisID),
		attribute.String(otelhelper.OutputIDKey, output.Name()),
		attribute.String(otelhelper.ExportFormatKey, string(format)),
	)
	defer span.End()

	result, err := a.store.ExportOutput(ctx, storage.ExportRequest{
		Analysis:    analysis,
		SecondaryID: output.SecondaryID,
		Output:      output.Output,
		Format:      format,
		ChunkSize:   chunkSize,
		Progress:    progress,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return result, nil
}

// Present renders a presenter's view of a finalized analysis to w.
func (a *App) Present(ctx context.Context, analysis *models.Analysis, presenterID string, w io.Writer) error {
	return a.executor.Render(ctx, analysis, presenterID, w)
}
