// Package importer converts user files into a project's canonical columnar
// input.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

// SniffSize is how much of a file is inspected to pick a delimiter.
const SniffSize = 64 * 1024

var (
	ErrEmptyFile = errors.New("file has no header row")

	delimiters = []rune{',', ';', '|', '\t'}
)

// Importer writes the dataset found at src to dst as a Parquet table.
type Importer interface {
	Import(ctx context.Context, src, dst string) (*Result, error)
}

type Result struct {
	Schema table.Schema
	Rows   int64
}

type CSV struct {
	logger *slog.Logger

	// Delimiter overrides sniffing when set.
	Delimiter rune
}

func NewCSV(logger *slog.Logger) *CSV {
	return &CSV{logger: logger.With("module", "csv_importer")}
}

// Sniff picks the delimiter whose count is non-zero and identical across the
// most lines of sample. Ties go to the earlier candidate; ',' is the fallback.
func Sniff(sample []byte) rune {
	lines := bytes.Split(sample, []byte("\n"))
	if len(lines) > 1 && len(sample) >= SniffSize {
		// the last line is likely truncated
		lines = lines[:len(lines)-1]
	}

	best, bestScore := ',', 0
	for _, d := range delimiters {
		first := bytes.Count(lines[0], []byte(string(d)))
		if first == 0 {
			continue
		}

		score := 0
		for _, line := range lines {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if bytes.Count(line, []byte(string(d))) == first {
				score++
			}
		}

		if score > bestScore {
			best, bestScore = d, score
		}
	}

	return best
}

func (c *CSV) open(path string, delimiter rune) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	return f, r, nil
}

func (c *CSV) delimiter(path string) (rune, error) {
	if c.Delimiter != 0 {
		return c.Delimiter, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sample := make([]byte, SniffSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Sniff(sample[:n]), nil
}

// Import reads src twice: once to infer column types, once to write dst.
func (c *CSV) Import(ctx context.Context, src, dst string) (*Result, error) {
	delimiter, err := c.delimiter(src)
	if err != nil {
		return nil, err
	}

	header, kinds, err := c.infer(ctx, src, delimiter)
	if err != nil {
		return nil, err
	}

	schema := make(table.Schema, len(header))
	for i, name := range header {
		schema[i] = table.Column{Name: name, Type: kinds[i].result()}
	}

	c.logger.Info("Importing CSV",
		"path", src,
		"delimiter", string(delimiter),
		"columns", schema.Names())

	rows, err := c.write(ctx, src, dst, delimiter, schema)
	if err != nil {
		_ = os.Remove(dst)

		return nil, err
	}

	return &Result{Schema: schema, Rows: rows}, nil
}

func (c *CSV) infer(ctx context.Context, path string, delimiter rune) ([]string, []*kind, error) {
	f, r, err := c.open(path, delimiter)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := columnNames(record)
	kinds := make([]*kind, len(header))
	for i := range kinds {
		kinds[i] = newKind()
	}

	for line := 0; ; line++ {
		if line%table.DefaultBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read record: %w", err)
		}

		for i := range kinds {
			if i < len(record) {
				kinds[i].observe(record[i])
			}
		}
	}

	return header, kinds, nil
}

func (c *CSV) write(ctx context.Context, src, dst string, delimiter rune, schema table.Schema) (int64, error) {
	f, r, err := c.open(src, delimiter)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := r.Read(); err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	w, err := table.CreateParquet(dst, schema)
	if err != nil {
		return 0, err
	}

	total, err := copyRecords(ctx, r, w)
	if err != nil {
		_ = w.Close()

		return 0, err
	}

	return total, w.Close()
}

func copyRecords(ctx context.Context, r *csv.Reader, w table.Writer) (int64, error) {
	var (
		schema = w.Schema()
		total  int64
		batch  = make([]table.Row, 0, table.DefaultBatchSize)
	)

	flush := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Write(batch...); err != nil {
			return err
		}
		total += int64(len(batch))
		batch = batch[:0]

		return nil
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read record: %w", err)
		}

		row := make(table.Row, len(schema))
		for i, col := range schema {
			if i < len(record) {
				row[i] = parseValue(record[i], col.Type)
			}
		}
		batch = append(batch, row)

		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}

	return total, nil
}

// columnNames fills blank headers and suffixes duplicates.
func columnNames(record []string) []string {
	names := make([]string, len(record))
	seen := make(map[string]int, len(record))

	for i, raw := range record {
		name := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}

		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = name + "_" + strconv.Itoa(n+1)
		}
		seen[name]++

		names[i] = name
	}

	return names
}

// kind narrows a column's physical type as values are observed.
type kind struct {
	integer, float, boolean bool
	seen                    bool
}

func newKind() *kind {
	return &kind{integer: true, float: true, boolean: true}
}

func (k *kind) observe(raw string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return
	}
	k.seen = true

	if k.integer {
		_, err := strconv.ParseInt(s, 10, 64)
		k.integer = err == nil
	}
	if k.float {
		_, err := strconv.ParseFloat(s, 64)
		k.float = err == nil
	}
	if k.boolean {
		_, ok := parseBool(s)
		k.boolean = ok
	}
}

func (k *kind) result() semantic.Type {
	switch {
	case !k.seen:
		return semantic.Text
	case k.integer:
		return semantic.Integer
	case k.float:
		return semantic.Float
	case k.boolean:
		return semantic.Boolean
	default:
		return semantic.Text
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func parseValue(raw string, t semantic.Type) any {
	s := strings.TrimSpace(raw)

	switch t {
	case semantic.Integer:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	case semantic.Float:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	case semantic.Boolean:
		if v, ok := parseBool(s); ok {
			return v
		}
	default:
		if raw == "" {
			return nil
		}

		return raw
	}

	return nil
}
