package table

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Sheet1"

// XLSXWriter streams rows into the first sheet of a workbook. The workbook is
// saved to disk on Close.
type XLSXWriter struct {
	path   string
	book   *excelize.File
	stream *excelize.StreamWriter
	schema Schema
	next   int
}

func CreateXLSX(path string, schema Schema) (*XLSXWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	book := excelize.NewFile()
	stream, err := book.NewStreamWriter(xlsxSheet)
	if err != nil {
		_ = book.Close()

		return nil, fmt.Errorf("failed to open sheet: %w", err)
	}

	w := &XLSXWriter{path: path, book: book, stream: stream, schema: schema, next: 1}

	header := make([]any, len(schema))
	for i, name := range schema.Names() {
		header[i] = name
	}
	if err := w.setRow(header); err != nil {
		_ = book.Close()

		return nil, err
	}

	return w, nil
}

func (w *XLSXWriter) setRow(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		return err
	}

	if err := w.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("failed to write row %d to %s: %w", w.next, w.path, err)
	}
	w.next++

	return nil
}

func (w *XLSXWriter) Schema() Schema { return w.schema }

func (w *XLSXWriter) Write(rows ...Row) error {
	for _, row := range rows {
		if err := checkWidth(w.schema, row); err != nil {
			return err
		}

		values := make([]any, len(row))
		for i, v := range row {
			switch value := v.(type) {
			case time.Duration:
				values[i] = semantic.FormatTimeOfDay(value)
			default:
				values[i] = value
			}
		}

		if err := w.setRow(values); err != nil {
			return err
		}
	}

	return nil
}

func (w *XLSXWriter) Close() error {
	defer w.book.Close()

	if err := w.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}

	if err := w.book.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save %s: %w", w.path, err)
	}

	return nil
}
