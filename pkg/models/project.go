package models

import (
	"path"
	"strings"
	"time"
)

// LegacyAnalysisPrefix marks analysis records synthesized from the layout
// that predates the metadata store.
const LegacyAnalysisPrefix = "__v1__"

type Project struct {
	ID          string `json:"id"           validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
}

// Analysis is one configured (and possibly finished) run of a primary
// analyzer over a project's input.
type Analysis struct {
	AnalysisID        string `json:"analysis_id"         validate:"required"`
	ProjectID         string `json:"project_id"          validate:"required"`
	DisplayName       string `json:"display_name"        validate:"required"`
	PrimaryAnalyzerID string `json:"primary_analyzer_id" validate:"required"`

	// Path is the analysis directory relative to the project directory.
	Path string `json:"path" validate:"required"`

	// ColumnMapping maps analyzer input column names to dataset column names.
	ColumnMapping map[string]string `json:"column_mapping"`
	// ColumnSemantics maps analyzer input column names to the semantic the
	// mapped dataset column was accepted under. An empty name means no
	// semantic matched; a nil map lets the run infer semantics itself.
	ColumnSemantics map[string]string `json:"column_semantics,omitempty"`
	CreateTimestamp time.Time         `json:"create_timestamp"`
	IsDraft         bool              `json:"is_draft"`
}

// AnalysisPath is the directory of a regular analysis relative to its project.
func AnalysisPath(analysisID string) string {
	return path.Join("analysis", analysisID)
}

// LegacyAnalysisPath is where the pre-metadata layout kept an analyzer's outputs.
func LegacyAnalysisPath(analyzerID string) string {
	return path.Join("analyzers", analyzerID)
}

func (a *Analysis) IsLegacy() bool {
	return strings.HasPrefix(a.AnalysisID, LegacyAnalysisPrefix)
}

// Settings is the persisted process-wide configuration.
type Settings struct {
	// ExportChunkSize is nil when never chosen, 0 for single-file exports and
	// otherwise the maximum number of rows per exported file.
	ExportChunkSize *int `json:"export_chunk_size" validate:"omitnil,min=0"`
}
