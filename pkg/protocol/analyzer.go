// Package protocol defines the contracts between the run orchestrator and
// pluggable analyzers and presenters.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/mangotango/pkg/table"
)

// TableReader gives read access to one stored table.
type TableReader interface {
	// Path returns the canonical file path of the table
	Path() string

	// Open streams the table. The caller closes the returned reader.
	Open() (table.Reader, error)
}

// TableWriter is bound to the canonical path of one declared output.
type TableWriter interface {
	// Path returns the file path the output is written to
	Path() string

	// Create opens a writer using the output's declared schema. The caller
	// closes the returned writer; the output counts as written once closed.
	Create() (table.Writer, error)
}

// AssetsReader reads the finalized outputs of one analyzer.
type AssetsReader interface {
	Table(outputID string) (TableReader, error)
}

// PrimaryContext is handed to a primary analyzer's entry point.
type PrimaryContext interface {
	TempDir() string
	Logger() *slog.Logger

	// Input returns the dataset with columns renamed to the analyzer's
	// declared input names and values coerced to their semantic types.
	Input() (table.Reader, error)

	Output(outputID string) (TableWriter, error)
}

// SecondaryContext is handed to a secondary analyzer's entry point.
type SecondaryContext interface {
	TempDir() string
	Logger() *slog.Logger

	// Base reads the primary analyzer's outputs.
	Base() AssetsReader

	// Dependency reads the outputs of a secondary analyzer listed in
	// depends_on. Any other id is rejected.
	Dependency(secondaryID string) (AssetsReader, error)

	Output(outputID string) (TableWriter, error)
}

type PrimaryEntryPoint func(ctx context.Context, pc PrimaryContext) error

type SecondaryEntryPoint func(ctx context.Context, sc SecondaryContext) error
