package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/storage"
	"github.com/dukex/mangotango/pkg/table"
)

var (
	ErrUndeclaredOutput     = errors.New("output is not declared by the analyzer")
	ErrUndeclaredDependency = errors.New("dependency is not declared by the analyzer")
	ErrMissingOutput        = errors.New("declared output was not written")
	ErrUnmappedColumn       = errors.New("input column is not mapped")
	ErrUnknownSemantic      = errors.New("unknown column semantic")
)

type tableReader struct {
	path string
}

func (r tableReader) Path() string { return r.path }

func (r tableReader) Open() (table.Reader, error) {
	reader, err := table.OpenParquet(r.path)
	if err != nil {
		return nil, err
	}

	return reader, nil
}

// tableWriter records the outputs that were actually created.
type tableWriter struct {
	path    string
	schema  table.Schema
	created func(w *trackedWriter)
}

func (w tableWriter) Path() string { return w.path }

func (w tableWriter) Create() (table.Writer, error) {
	writer, err := table.CreateParquet(w.path, w.schema)
	if err != nil {
		return nil, err
	}

	tracked := &trackedWriter{Writer: writer}
	w.created(tracked)

	return tracked, nil
}

// trackedWriter makes Close idempotent so the executor can close writers an
// entry point left open.
type trackedWriter struct {
	table.Writer

	once sync.Once
	err  error
}

func (w *trackedWriter) Close() error {
	w.once.Do(func() { w.err = w.Writer.Close() })

	return w.err
}

type assetsReader struct {
	outputs []models.AnalyzerOutput
	path    func(outputID string) string
}

func (a assetsReader) Table(outputID string) (protocol.TableReader, error) {
	for _, out := range a.outputs {
		if out.ID == outputID {
			return tableReader{path: a.path(outputID)}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUndeclaredOutput, outputID)
}

// outputs hands out writers for declared outputs and tracks which were created.
type outputs struct {
	mu       sync.Mutex
	declared []models.AnalyzerOutput
	path     func(outputID string) string
	written  map[string]bool
	writers  []*trackedWriter
}

func newOutputs(declared []models.AnalyzerOutput, path func(string) string) *outputs {
	return &outputs{declared: declared, path: path, written: make(map[string]bool)}
}

func (o *outputs) Output(outputID string) (protocol.TableWriter, error) {
	for _, out := range o.declared {
		if out.ID != outputID {
			continue
		}

		return tableWriter{
			path:   o.path(outputID),
			schema: out.Schema(),
			created: func(w *trackedWriter) {
				o.mu.Lock()
				o.written[outputID] = true
				o.writers = append(o.writers, w)
				o.mu.Unlock()
			},
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUndeclaredOutput, outputID)
}

// closeAll closes every writer handed out, including those the entry point
// already closed, and returns the first close error.
func (o *outputs) closeAll(logger *slog.Logger) error {
	o.mu.Lock()
	writers := o.writers
	o.writers = nil
	o.mu.Unlock()

	var first error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			logger.Warn("Failed to close output writer", "error", err)

			if first == nil {
				first = err
			}
		}
	}

	return first
}

// verify fails unless every declared output was created and exists on disk.
func (o *outputs) verify() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, out := range o.declared {
		if !o.written[out.ID] {
			return fmt.Errorf("%w: %s", ErrMissingOutput, out.ID)
		}

		if _, err := os.Stat(o.path(out.ID)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMissingOutput, out.ID, err)
		}
	}

	return nil
}

type primaryContext struct {
	*outputs

	tempDir string
	logger  *slog.Logger
	input   func() (table.Reader, error)
}

func (c *primaryContext) TempDir() string { return c.tempDir }
func (c *primaryContext) Logger() *slog.Logger { return c.logger }
func (c *primaryContext) Input() (table.Reader, error) { return c.input() }

// dependencies resolves the secondary outputs a declaration may read.
type dependencies struct {
	store    *storage.Store
	analysis *models.Analysis
	lookup   func(secondaryID string) (*models.SecondaryAnalyzerDeclaration, bool)
	allowed  []string
}

func (d dependencies) Dependency(secondaryID string) (protocol.AssetsReader, error) {
	if !slices.Contains(d.allowed, secondaryID) {
		return nil, fmt.Errorf("%w: %s", ErrUndeclaredDependency, secondaryID)
	}

	decl, ok := d.lookup(secondaryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndeclaredDependency, secondaryID)
	}

	return assetsReader{
		outputs: decl.Outputs,
		path: func(outputID string) string {
			return d.store.SecondaryOutputPath(d.analysis, secondaryID, outputID)
		},
	}, nil
}

func baseReader(store *storage.Store, analysis *models.Analysis, primary *models.AnalyzerDeclaration) assetsReader {
	return assetsReader{
		outputs: primary.Outputs,
		path: func(outputID string) string {
			return store.PrimaryOutputPath(analysis, outputID)
		},
	}
}

type secondaryContext struct {
	*outputs
	dependencies

	tempDir string
	logger  *slog.Logger
	base    assetsReader
}

func (c *secondaryContext) TempDir() string { return c.tempDir }
func (c *secondaryContext) Logger() *slog.Logger { return c.logger }
func (c *secondaryContext) Base() protocol.AssetsReader { return c.base }

type presenterContext struct {
	dependencies

	tempDir  string
	stateDir string
	logger   *slog.Logger
	base     assetsReader
}

func (c *presenterContext) TempDir() string { return c.tempDir }
func (c *presenterContext) StateDir() string { return c.stateDir }
func (c *presenterContext) Logger() *slog.Logger { return c.logger }
func (c *presenterContext) Base() protocol.AssetsReader { return c.base }
