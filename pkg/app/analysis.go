package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/mangotango/pkg/automap"
	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/workflow"
)

func (a *App) primary(analyzerID string) (*models.AnalyzerDeclaration, error) {
	decl, ok := a.suite.Primary(analyzerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownAnalyzer, analyzerID)
	}

	return decl, nil
}

// PlanMapping proposes a column mapping for running analyzerID on a project.
func (a *App) PlanMapping(ctx context.Context, projectID, analyzerID string) (*automap.Result, error) {
	decl, err := a.primary(analyzerID)
	if err != nil {
		return nil, err
	}

	columns, err := a.ProjectColumns(ctx, projectID)
	if err != nil {
		return nil, err
	}

	candidates := make([]automap.Candidate, len(columns))
	for i, c := range columns {
		candidates[i] = automap.Candidate{Name: c.Name, Type: c.DataType}
	}

	result := automap.Automap(candidates, decl.Input.Columns)

	return &result, nil
}

// CheckMapping returns a ConfigurationError describing every input column
// that is unmapped, mapped to a missing dataset column, or mapped to an
// incompatible one.
func (a *App) CheckMapping(ctx context.Context, projectID, analyzerID string, mapping map[string]string) error {
	_, _, err := a.checkMapping(ctx, projectID, analyzerID, mapping)

	return err
}

func (a *App) checkMapping(ctx context.Context, projectID, analyzerID string, mapping map[string]string) (*models.AnalyzerDeclaration, []ColumnInfo, error) {
	decl, err := a.primary(analyzerID)
	if err != nil {
		return nil, nil, err
	}

	columns, err := a.ProjectColumns(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	types := columnTypes(columns)

	var problems []string
	for _, input := range decl.Input.Columns {
		name, ok := mapping[input.Name]
		if !ok || name == "" {
			problems = append(problems, fmt.Sprintf("column %q is not mapped", input.Name))

			continue
		}

		actual, ok := types[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("column %q is mapped to unknown column %q", input.Name, name))

			continue
		}

		if !automap.Compatible(input.DataType, actual) {
			problems = append(problems, fmt.Sprintf("column %q expects %s but %q is %s", input.Name, input.DataType, name, actual))
		}
	}

	for key := range mapping {
		if _, ok := decl.Input.Column(key); !ok {
			problems = append(problems, fmt.Sprintf("analyzer %s has no input column %q", analyzerID, key))
		}
	}

	if len(problems) > 0 {
		slices.Sort(problems)

		return nil, nil, &ConfigurationError{Problems: problems}
	}

	return decl, columns, nil
}

// columnSemantics records, per analyzer input column, the semantic its
// mapped dataset column was accepted under, so runs convert values the same
// way the mapping was checked.
func columnSemantics(decl *models.AnalyzerDeclaration, columns []ColumnInfo, mapping map[string]string) map[string]string {
	byName := make(map[string]string, len(columns))
	for _, c := range columns {
		byName[c.Name] = c.Semantic
	}

	semantics := make(map[string]string, len(decl.Input.Columns))
	for _, input := range decl.Input.Columns {
		semantics[input.Name] = byName[mapping[input.Name]]
	}

	return semantics
}

// CreateAnalysis validates the mapping and records a draft analysis. Nothing
// is created when the mapping is invalid. An empty displayName defaults to the
// analyzer name.
func (a *App) CreateAnalysis(ctx context.Context, projectID, analyzerID, displayName string, mapping map[string]string) (*models.Analysis, error) {
	decl, columns, err := a.checkMapping(ctx, projectID, analyzerID, mapping)
	if err != nil {
		return nil, err
	}

	if displayName == "" {
		displayName = decl.Name
	}

	return a.initDraft(ctx, projectID, analyzerID, displayName, mapping, columnSemantics(decl, columns, mapping))
}

func (a *App) initDraft(
	ctx context.Context,
	projectID, analyzerID, displayName string,
	mapping, semantics map[string]string,
) (*models.Analysis, error) {
	analysis, err := a.store.InitAnalysis(ctx, projectID, displayName, analyzerID, mapping)
	if err != nil {
		return nil, err
	}

	analysis.ColumnSemantics = semantics
	if err := a.store.SaveAnalysis(ctx, analysis); err != nil {
		a.discardDraft(ctx, analysis)

		return nil, err
	}

	return analysis, nil
}

func (a *App) discardDraft(ctx context.Context, analysis *models.Analysis) {
	if err := a.store.DeleteAnalysis(context.WithoutCancel(ctx), analysis); err != nil {
		a.logger.Error("Failed to delete draft analysis",
			"project_id", analysis.ProjectID,
			"analysis_id", analysis.AnalysisID,
			"error", err)
	}
}

// RunAnalysis runs the analysis to completion, passing each stage event to
// onEvent. When the run fails or is cancelled a draft analysis is deleted
// with all of its artifacts.
func (a *App) RunAnalysis(ctx context.Context, analysis *models.Analysis, opts workflow.Options, onEvent func(workflow.Event)) error {
	if !analysis.IsDraft {
		return fmt.Errorf("%w: %s", workflow.ErrFinalized, analysis.AnalysisID)
	}

	var runErr error

	for event, err := range a.executor.Execute(ctx, analysis, opts) {
		if err != nil {
			runErr = err

			break
		}

		if onEvent != nil {
			onEvent(event)
		}
	}

	if runErr == nil {
		return nil
	}

	if analysis.IsDraft {
		a.discardDraft(ctx, analysis)
	}

	if errors.Is(runErr, context.Canceled) {
		return ErrRunCancelled
	}

	var stageErr *workflow.StageError
	if errors.As(runErr, &stageErr) {
		return &RunError{Analyzer: stageErr.AnalyzerID, Err: stageErr.Err, Trace: stageErr.Trace}
	}

	return runErr
}

// RerunAnalysis runs a finalized analysis again into a fresh draft with the
// same analyzer, mapping and display name. The previous analysis is deleted
// only once the new one is finalized; on failure it is left untouched and
// the new draft is discarded.
func (a *App) RerunAnalysis(
	ctx context.Context,
	previous *models.Analysis,
	opts workflow.Options,
	onEvent func(workflow.Event),
) (*models.Analysis, error) {
	semantics := maps.Clone(previous.ColumnSemantics)
	if semantics == nil {
		decl, columns, err := a.checkMapping(ctx, previous.ProjectID, previous.PrimaryAnalyzerID, previous.ColumnMapping)
		if err != nil {
			return nil, err
		}

		semantics = columnSemantics(decl, columns, previous.ColumnMapping)
	}

	analysis, err := a.initDraft(ctx, previous.ProjectID, previous.PrimaryAnalyzerID, previous.DisplayName,
		maps.Clone(previous.ColumnMapping), semantics)
	if err != nil {
		return nil, err
	}

	if err := a.RunAnalysis(ctx, analysis, opts, onEvent); err != nil {
		return nil, err
	}

	if err := a.store.DeleteAnalysis(ctx, previous); err != nil {
		return analysis, fmt.Errorf("analysis %s replaced by %s but could not be deleted: %w",
			previous.AnalysisID, analysis.AnalysisID, err)
	}

	a.logger.Info("Replaced analysis",
		"project_id", analysis.ProjectID,
		"previous_id", previous.AnalysisID,
		"analysis_id", analysis.AnalysisID)

	return analysis, nil
}

// PruneDrafts deletes analyses left as drafts by interrupted runs.
func (a *App) PruneDrafts(ctx context.Context, projectID string) (int, error) {
	drafts, err := a.store.ListDraftAnalyses(ctx, projectID)
	if err != nil {
		return 0, err
	}

	for i, draft := range drafts {
		if err := a.store.DeleteAnalysis(ctx, draft); err != nil {
			return i, err
		}
	}

	if len(drafts) > 0 {
		a.logger.Info("Pruned draft analyses", "project_id", projectID, "count", len(drafts))
	}

	return len(drafts), nil
}
