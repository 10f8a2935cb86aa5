// Package table carries rows of semantically typed values between storage and
// analyzers. The canonical on-disk form is Parquet; CSV, XLSX and line-delimited
// JSON are write-only export formats.
package table

import (
	"errors"
	"fmt"
	"io"

	"github.com/dukex/mangotango/pkg/semantic"
)

// DefaultBatchSize is the number of rows a Reader returns per batch.
const DefaultBatchSize = 1024

var (
	ErrUnknownColumn  = errors.New("unknown column")
	ErrSchemaMismatch = errors.New("row does not match schema")
)

type Column struct {
	Name string        `json:"name"`
	Type semantic.Type `json:"type"`
}

// Schema is an ordered list of uniquely named columns.
type Schema []Column

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}

	return names
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}

	return -1
}

func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, c := range s {
		if c.Name == "" {
			return fmt.Errorf("%w: empty column name", ErrSchemaMismatch)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrSchemaMismatch, c.Name)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("%w: column %q has unknown type %q", ErrSchemaMismatch, c.Name, c.Type)
		}
		seen[c.Name] = true
	}

	return nil
}

// Rename returns a copy of the schema with columns renamed through names.
// Columns absent from names keep their name.
func (s Schema) Rename(names map[string]string) Schema {
	renamed := make(Schema, len(s))
	for i, c := range s {
		if name, ok := names[c.Name]; ok && name != "" {
			c.Name = name
		}
		renamed[i] = c
	}

	return renamed
}

// Row holds one value per schema column, nil for null.
type Row []any

// Reader streams rows in batches. Next returns io.EOF once exhausted.
type Reader interface {
	Schema() Schema
	// NumRows is the total row count, or -1 when unknown.
	NumRows() int64
	Next() ([]Row, error)
	Close() error
}

type Writer interface {
	Schema() Schema
	Write(rows ...Row) error
	Close() error
}

// Copy streams every batch of r into w and returns the number of rows copied.
func Copy(w Writer, r Reader) (int64, error) {
	var n int64
	for {
		batch, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		if err := w.Write(batch...); err != nil {
			return n, err
		}
		n += int64(len(batch))
	}
}

// ReadAll drains r and closes it.
func ReadAll(r Reader) ([]Row, error) {
	defer r.Close()

	var rows []Row
	for {
		batch, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
}

// MemReader serves rows held in memory.
type MemReader struct {
	schema    Schema
	rows      []Row
	batchSize int
	offset    int
}

func NewMemReader(schema Schema, rows []Row) *MemReader {
	return &MemReader{schema: schema, rows: rows, batchSize: DefaultBatchSize}
}

func (m *MemReader) Schema() Schema { return m.schema }

func (m *MemReader) NumRows() int64 { return int64(len(m.rows)) }

func (m *MemReader) Next() ([]Row, error) {
	if m.offset >= len(m.rows) {
		return nil, io.EOF
	}

	end := min(m.offset+m.batchSize, len(m.rows))
	batch := m.rows[m.offset:end]
	m.offset = end

	return batch, nil
}

func (m *MemReader) Close() error { return nil }

// MapReader wraps a Reader, replacing its schema and transforming each row.
type MapReader struct {
	inner  Reader
	schema Schema
	fn     func(Row) (Row, error)
}

func NewMapReader(inner Reader, schema Schema, fn func(Row) (Row, error)) *MapReader {
	return &MapReader{inner: inner, schema: schema, fn: fn}
}

func (m *MapReader) Schema() Schema { return m.schema }

func (m *MapReader) NumRows() int64 { return m.inner.NumRows() }

func (m *MapReader) Next() ([]Row, error) {
	batch, err := m.inner.Next()
	if err != nil {
		return nil, err
	}

	out := make([]Row, len(batch))
	for i, row := range batch {
		if out[i], err = m.fn(row); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (m *MapReader) Close() error { return m.inner.Close() }

func checkWidth(schema Schema, row Row) error {
	if len(row) != len(schema) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrSchemaMismatch, len(row), len(schema))
	}

	return nil
}
