package workflow

import (
	"errors"
	"fmt"
	"io"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

// replayReader serves an already consumed first batch before resuming the
// wrapped reader.
type replayReader struct {
	table.Reader

	pending []table.Row
}

func (r *replayReader) Next() ([]table.Row, error) {
	if r.pending != nil {
		batch := r.pending
		r.pending = nil

		return batch, nil
	}

	return r.Reader.Next()
}

func columnValues(rows []table.Row, idx int) []any {
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[idx]
	}

	return values
}

// coerce converts a stored value to the analyzer's declared type. Values that
// cannot be converted become null.
func coerce(v any, sem *semantic.Semantic, target semantic.Type) any {
	if sem != nil && !target.IsString() {
		v = sem.Convert(v)
	}

	cast, err := semantic.Cast(v, target)
	if err != nil {
		return nil
	}

	return cast
}

// openInput reads the dataset at path through the analysis column mapping,
// converting and casting each mapped column to the declared input type.
// semantics names the semantic each input column was accepted under; when it
// is nil the semantics are inferred from the first batch.
func openInput(path string, input models.AnalyzerInput, mapping, semantics map[string]string) (table.Reader, error) {
	src, err := table.OpenParquet(path)
	if err != nil {
		return nil, err
	}

	schema := src.Schema()
	indexes := make([]int, len(input.Columns))

	for i, col := range input.Columns {
		name, ok := mapping[col.Name]
		if !ok {
			_ = src.Close()

			return nil, fmt.Errorf("%w: %s", ErrUnmappedColumn, col.Name)
		}

		if indexes[i] = schema.Index(name); indexes[i] < 0 {
			_ = src.Close()

			return nil, fmt.Errorf("%w: %s (mapped from %s)", table.ErrUnknownColumn, name, col.Name)
		}
	}

	first, err := src.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = src.Close()

		return nil, err
	}

	resolved := make([]*semantic.Semantic, len(input.Columns))
	for i, col := range input.Columns {
		if semantics == nil {
			resolved[i] = semantic.Infer(schema[indexes[i]].Type, columnValues(first, indexes[i]))

			continue
		}

		if resolved[i], err = lookupSemantic(semantics[col.Name]); err != nil {
			_ = src.Close()

			return nil, fmt.Errorf("input column %s: %w", col.Name, err)
		}
	}

	targets := input.Schema()
	replay := &replayReader{Reader: src, pending: first}

	return table.NewMapReader(replay, targets, func(row table.Row) (table.Row, error) {
		out := make(table.Row, len(indexes))
		for i, idx := range indexes {
			out[i] = coerce(row[idx], resolved[i], targets[i].Type)
		}

		return out, nil
	}), nil
}

func lookupSemantic(name string) (*semantic.Semantic, error) {
	if name == "" {
		return nil, nil //nolint:nilnil // no semantic matched the column
	}

	sem, ok := semantic.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSemantic, name)
	}

	return sem, nil
}
