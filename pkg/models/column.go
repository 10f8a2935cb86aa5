// Package models defines analyzer declarations and the persisted project,
// analysis and settings records.
package models

import (
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

// InputColumn is a column an analyzer expects from the dataset.
type InputColumn struct {
	Name              string        `json:"name"                          validate:"required"`
	HumanReadableName string        `json:"human_readable_name,omitempty"`
	DataType          semantic.Type `json:"data_type"                     validate:"required,semantic_type"`
	Description       string        `json:"description,omitempty"`

	// NameHints help the automapper pick a dataset column. Each hint is a
	// space separated list of words that must all occur in the column name.
	NameHints []string `json:"name_hints,omitempty"`
}

func (c InputColumn) HumanReadableNameOrFallback() string {
	if c.HumanReadableName != "" {
		return c.HumanReadableName
	}

	return c.Name
}

type OutputColumn struct {
	Name              string        `json:"name"                          validate:"required"`
	HumanReadableName string        `json:"human_readable_name,omitempty"`
	DataType          semantic.Type `json:"data_type"                     validate:"required,semantic_type"`
	Description       string        `json:"description,omitempty"`
}

func (c OutputColumn) HumanReadableNameOrFallback() string {
	if c.HumanReadableName != "" {
		return c.HumanReadableName
	}

	return c.Name
}

type AnalyzerInput struct {
	Columns []InputColumn `json:"columns" validate:"required,min=1,dive"`
}

// Column returns the input column with the given name.
func (in AnalyzerInput) Column(name string) (InputColumn, bool) {
	for _, c := range in.Columns {
		if c.Name == name {
			return c, true
		}
	}

	return InputColumn{}, false
}

// Schema is the shape an entry point reads from its input.
func (in AnalyzerInput) Schema() table.Schema {
	schema := make(table.Schema, len(in.Columns))
	for i, c := range in.Columns {
		schema[i] = table.Column{Name: c.Name, Type: c.DataType}
	}

	return schema
}

type AnalyzerOutput struct {
	ID          string         `json:"id"                    validate:"required"`
	Name        string         `json:"name"                  validate:"required"`
	Description string         `json:"description,omitempty"`
	Columns     []OutputColumn `json:"columns"               validate:"required,min=1,dive"`

	// Internal outputs feed other analyzers and are never offered for export.
	Internal bool `json:"internal,omitempty"`
}

// Schema is the canonical stored schema of the output.
func (out AnalyzerOutput) Schema() table.Schema {
	schema := make(table.Schema, len(out.Columns))
	for i, c := range out.Columns {
		schema[i] = table.Column{Name: c.Name, Type: c.DataType}
	}

	return schema
}

// DisplaySchema renames the columns of schema that the output declares to
// their human readable names. Undeclared columns keep their name.
func (out AnalyzerOutput) DisplaySchema(schema table.Schema) table.Schema {
	names := make(map[string]string, len(out.Columns))
	for _, c := range out.Columns {
		names[c.Name] = c.HumanReadableNameOrFallback()
	}

	return schema.Rename(names)
}
