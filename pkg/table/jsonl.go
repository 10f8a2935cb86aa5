package table

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/mangotango/pkg/semantic"
)

// JSONLinesWriter writes one JSON object per line with keys in schema order.
type JSONLinesWriter struct {
	file   *os.File
	buf    *bufio.Writer
	schema Schema
	keys   [][]byte
}

func CreateJSONLines(path string, schema Schema) (*JSONLinesWriter, error) {
	keys := make([][]byte, len(schema))
	for i, c := range schema {
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return &JSONLinesWriter{file: file, buf: bufio.NewWriter(file), schema: schema, keys: keys}, nil
}

func (w *JSONLinesWriter) Schema() Schema { return w.schema }

func (w *JSONLinesWriter) Write(rows ...Row) error {
	for _, row := range rows {
		if err := checkWidth(w.schema, row); err != nil {
			return err
		}

		_ = w.buf.WriteByte('{')
		for i, v := range row {
			if i > 0 {
				_ = w.buf.WriteByte(',')
			}
			_, _ = w.buf.Write(w.keys[i])
			_ = w.buf.WriteByte(':')

			if d, ok := v.(time.Duration); ok {
				v = semantic.FormatTimeOfDay(d)
			}

			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("column %q: %w", w.schema[i].Name, err)
			}
			_, _ = w.buf.Write(encoded)
		}

		if _, err := w.buf.WriteString("}\n"); err != nil {
			return fmt.Errorf("failed to write to %s: %w", w.file.Name(), err)
		}
	}

	return nil
}

func (w *JSONLinesWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()

		return fmt.Errorf("failed to flush %s: %w", w.file.Name(), err)
	}

	return w.file.Close()
}
