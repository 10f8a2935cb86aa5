package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/parquet-go/parquet-go"
)

// schemaMetadataKey stores the ordered semantic schema in the file footer so
// column order and meaning survive Parquet's name-sorted group layout.
const schemaMetadataKey = "mangotango.schema"

func parquetNode(t semantic.Type) parquet.Node {
	switch t {
	case semantic.Integer:
		return parquet.Int(64)
	case semantic.Float:
		return parquet.Leaf(parquet.DoubleType)
	case semantic.Boolean:
		return parquet.Leaf(parquet.BooleanType)
	case semantic.Datetime:
		return parquet.Timestamp(parquet.Microsecond)
	case semantic.Time:
		return parquet.Time(parquet.Microsecond)
	default:
		return parquet.String()
	}
}

func toParquetValue(t semantic.Type, v any) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}

	cast, err := semantic.Cast(v, t)
	if err != nil {
		return parquet.Value{}, err
	}

	switch value := cast.(type) {
	case string:
		return parquet.ByteArrayValue([]byte(value)), nil
	case int64:
		return parquet.Int64Value(value), nil
	case float64:
		return parquet.DoubleValue(value), nil
	case bool:
		return parquet.BooleanValue(value), nil
	case time.Time:
		return parquet.Int64Value(value.UnixMicro()), nil
	case time.Duration:
		return parquet.Int64Value(value.Microseconds()), nil
	default:
		return parquet.Value{}, fmt.Errorf("%w: unsupported value %T", ErrSchemaMismatch, cast)
	}
}

func fromParquetValue(t semantic.Type, v parquet.Value) any {
	if v.IsNull() {
		return nil
	}

	var raw any
	switch v.Kind() {
	case parquet.Int32:
		raw = int64(v.Int32())
	case parquet.Int64:
		raw = v.Int64()
	case parquet.Float:
		raw = float64(v.Float())
	case parquet.Double:
		raw = v.Double()
	case parquet.Boolean:
		raw = v.Boolean()
	default:
		raw = string(v.ByteArray())
	}

	switch t {
	case semantic.Datetime:
		if micros, ok := raw.(int64); ok {
			return time.UnixMicro(micros).UTC()
		}
	case semantic.Time:
		if micros, ok := raw.(int64); ok {
			return time.Duration(micros) * time.Microsecond
		}
	}

	return raw
}

// ParquetWriter writes rows to a Parquet file with one optional leaf per column.
type ParquetWriter struct {
	file      *os.File
	writer    *parquet.Writer
	schema    Schema
	leafIndex []int
}

// CreateParquet creates (or truncates) path, making parent directories.
func CreateParquet(path string, schema Schema) (*ParquetWriter, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	group := parquet.Group{}
	for _, c := range schema {
		group[c.Name] = parquet.Optional(parquetNode(c.Type))
	}
	pschema := parquet.NewSchema("table", group)

	leafIndex := make([]int, len(schema))
	for i, c := range schema {
		for j, field := range pschema.Fields() {
			if field.Name() == c.Name {
				leafIndex[i] = j
			}
		}
	}

	meta, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return &ParquetWriter{
		file:      file,
		writer:    parquet.NewWriter(file, pschema, parquet.KeyValueMetadata(schemaMetadataKey, string(meta))),
		schema:    schema,
		leafIndex: leafIndex,
	}, nil
}

func (w *ParquetWriter) Schema() Schema { return w.schema }

func (w *ParquetWriter) Write(rows ...Row) error {
	if len(rows) == 0 {
		return nil
	}

	prows := make([]parquet.Row, len(rows))
	for r, row := range rows {
		if err := checkWidth(w.schema, row); err != nil {
			return err
		}

		prow := make(parquet.Row, len(w.schema))
		for i, c := range w.schema {
			value, err := toParquetValue(c.Type, row[i])
			if err != nil {
				return fmt.Errorf("column %q: %w", c.Name, err)
			}

			definition := 1
			if row[i] == nil {
				definition = 0
			}
			prow[w.leafIndex[i]] = value.Level(0, definition, w.leafIndex[i])
		}
		prows[r] = prow
	}

	if _, err := w.writer.WriteRows(prows); err != nil {
		return fmt.Errorf("failed to write rows to %s: %w", w.file.Name(), err)
	}

	return nil
}

func (w *ParquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		_ = w.file.Close()

		return fmt.Errorf("failed to finalize %s: %w", w.file.Name(), err)
	}

	return w.file.Close()
}

// ParquetReader streams rows from a Parquet file.
type ParquetReader struct {
	file      *os.File
	reader    *parquet.Reader
	schema    Schema
	position  map[int]int // leaf column index → schema position
	numRows   int64
	batchSize int
	buf       []parquet.Row
	done      bool
}

func OpenParquet(path string) (*ParquetReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	pf, err := openParquetFile(file)
	if err != nil {
		_ = file.Close()

		return nil, err
	}

	schema, err := fileSchema(pf)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("failed to read schema of %s: %w", path, err)
	}

	position := make(map[int]int, len(schema))
	for j, field := range pf.Schema().Fields() {
		if i := schema.Index(field.Name()); i >= 0 {
			position[j] = i
		}
	}

	return &ParquetReader{
		file:      file,
		reader:    parquet.NewReader(file),
		schema:    schema,
		position:  position,
		numRows:   pf.NumRows(),
		batchSize: DefaultBatchSize,
		buf:       make([]parquet.Row, DefaultBatchSize),
	}, nil
}

func openParquetFile(file *os.File) (*parquet.File, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", file.Name(), err)
	}

	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", file.Name(), err)
	}

	return pf, nil
}

func fileSchema(pf *parquet.File) (Schema, error) {
	if meta, ok := pf.Lookup(schemaMetadataKey); ok {
		var schema Schema
		if err := json.Unmarshal([]byte(meta), &schema); err != nil {
			return nil, err
		}

		return schema, nil
	}

	fields := pf.Schema().Fields()
	schema := make(Schema, 0, len(fields))
	for _, field := range fields {
		schema = append(schema, Column{Name: field.Name(), Type: leafType(field)})
	}

	return schema, nil
}

func leafType(field parquet.Field) semantic.Type {
	typ := field.Type()
	if lt := typ.LogicalType(); lt != nil {
		switch {
		case lt.Timestamp != nil:
			return semantic.Datetime
		case lt.Time != nil:
			return semantic.Time
		}
	}

	switch typ.Kind() {
	case parquet.Int32, parquet.Int64:
		return semantic.Integer
	case parquet.Float, parquet.Double:
		return semantic.Float
	case parquet.Boolean:
		return semantic.Boolean
	default:
		return semantic.Text
	}
}

func (r *ParquetReader) Schema() Schema { return r.schema }

func (r *ParquetReader) NumRows() int64 { return r.numRows }

func (r *ParquetReader) Next() ([]Row, error) {
	if r.done {
		return nil, io.EOF
	}

	n, err := r.reader.ReadRows(r.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read rows from %s: %w", r.file.Name(), err)
	}
	if errors.Is(err, io.EOF) {
		r.done = true
	}
	if n == 0 {
		r.done = true

		return nil, io.EOF
	}

	rows := make([]Row, n)
	for k := range n {
		row := make(Row, len(r.schema))
		for _, v := range r.buf[k] {
			i, ok := r.position[v.Column()]
			if !ok {
				continue
			}
			row[i] = fromParquetValue(r.schema[i].Type, v)
		}
		rows[k] = row
	}

	return rows, nil
}

func (r *ParquetReader) Close() error {
	_ = r.reader.Close()

	return r.file.Close()
}

// ParquetRowCount reads the row count from the file footer without scanning.
func ParquetRowCount(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	pf, err := openParquetFile(file)
	if err != nil {
		return 0, err
	}

	return pf.NumRows(), nil
}

// WriteParquet writes rows to path in one call.
func WriteParquet(path string, schema Schema, rows []Row) error {
	w, err := CreateParquet(path, schema)
	if err != nil {
		return err
	}

	if err := w.Write(rows...); err != nil {
		_ = w.Close()

		return err
	}

	return w.Close()
}
