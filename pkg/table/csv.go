package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/mangotango/pkg/semantic"
)

// CSVWriter writes a header line followed by one record per row.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	schema Schema
	record []string
}

func CreateCSV(path string, schema Schema) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(schema.Names()); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("failed to write header to %s: %w", path, err)
	}

	return &CSVWriter{file: file, writer: w, schema: schema, record: make([]string, len(schema))}, nil
}

func (w *CSVWriter) Schema() Schema { return w.schema }

func (w *CSVWriter) Write(rows ...Row) error {
	for _, row := range rows {
		if err := checkWidth(w.schema, row); err != nil {
			return err
		}

		for i, v := range row {
			w.record[i] = semantic.Format(v)
		}

		if err := w.writer.Write(w.record); err != nil {
			return fmt.Errorf("failed to write record to %s: %w", w.file.Name(), err)
		}
	}

	return nil
}

func (w *CSVWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		_ = w.file.Close()

		return fmt.Errorf("failed to flush %s: %w", w.file.Name(), err)
	}

	return w.file.Close()
}
