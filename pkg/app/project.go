package app

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/dukex/mangotango/pkg/importer"
	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/semantic"
)

// PreviewRows is the number of leading rows used to infer column semantics.
const PreviewRows = 100

// CreateProject imports the file at path and records a new project for it.
func (a *App) CreateProject(ctx context.Context, displayName string, imp importer.Importer, path string) (*models.Project, error) {
	staged, err := a.store.StagingPath()
	if err != nil {
		return nil, err
	}

	result, err := imp.Import(ctx, path, staged)
	if err != nil {
		_ = os.Remove(staged)

		return nil, err
	}

	project, err := a.store.InitProject(ctx, displayName, staged)
	if err != nil {
		_ = os.Remove(staged)

		return nil, err
	}

	a.logger.Info("Imported project input",
		"project_id", project.ID,
		"rows", result.Rows,
		"columns", len(result.Schema))

	return project, nil
}

// ColumnInfo describes one dataset column as seen by the automapper.
type ColumnInfo struct {
	Name     string
	Physical semantic.Type
	// Semantic is the name of the inferred semantic, empty when none matched.
	Semantic string
	DataType semantic.Type
	Preview  []any
}

// ProjectColumns infers each input column's semantic type from a preview of
// its first rows.
func (a *App) ProjectColumns(ctx context.Context, projectID string) ([]ColumnInfo, error) {
	if _, err := a.store.Project(ctx, projectID); err != nil {
		return nil, err
	}

	reader, err := a.store.OpenInput(projectID)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	preview, err := reader.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	preview = preview[:min(len(preview), PreviewRows)]

	schema := reader.Schema()
	columns := make([]ColumnInfo, len(schema))

	for i, col := range schema {
		values := make([]any, len(preview))
		for j, row := range preview {
			values[j] = row[i]
		}

		info := ColumnInfo{Name: col.Name, Physical: col.Type, DataType: col.Type, Preview: values}
		if sem := semantic.Infer(col.Type, values); sem != nil {
			info.Semantic = sem.Name
			info.DataType = sem.DataType
		}
		columns[i] = info
	}

	return columns, nil
}

func columnTypes(columns []ColumnInfo) map[string]semantic.Type {
	types := make(map[string]semantic.Type, len(columns))
	for _, c := range columns {
		types[c.Name] = c.DataType
	}

	return types
}
