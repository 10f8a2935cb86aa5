package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dukex/mangotango/pkg/importer"
)

// NewImporter picks the importer for path. delimiter overrides the sniffed
// CSV delimiter; ".tsv" files default to tabs.
func NewImporter(logger *slog.Logger, path, delimiter string) (importer.Importer, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv", ".txt", "":
		csv := importer.NewCSV(logger)

		switch {
		case delimiter == `\t`:
			csv.Delimiter = '\t'
		case delimiter != "":
			r, size := utf8.DecodeRuneInString(delimiter)
			if size != len(delimiter) {
				return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
			}

			csv.Delimiter = r
		case ext == ".tsv":
			csv.Delimiter = '\t'
		}

		return csv, nil
	default:
		return nil, fmt.Errorf("unsupported input file type %q", ext)
	}
}
