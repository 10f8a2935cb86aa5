// Package file provides the file-based metadata store: a single JSON document
// guarded by an advisory file lock.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/mangotango/pkg/persistence"
	"github.com/gofrs/flock"
	"github.com/xeipuuv/gojsonschema"
)

// DocumentVersion is written to every saved document.
const DocumentVersion = 1

// DefaultLockRetryDelay is how often a blocked transaction retries the lock.
const DefaultLockRetryDelay = 50 * time.Millisecond

const documentSchema = `{
	"type": "object",
	"required": ["version", "records"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"records": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["class_", "data"],
				"properties": {
					"class_": {"type": "string", "minLength": 1},
					"data": {"type": "object"}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

type document struct {
	Version int                  `json:"version"`
	Records []persistence.Record `json:"records"`
}

// Persistence implements persistence.Persistence over one JSON file.
type Persistence struct {
	logger     *slog.Logger
	path       string
	lock       *flock.Flock
	retryDelay time.Duration
}

// NewPersistence opens the store at path, creating parent directories for it
// and for lockPath. The document itself is created on first write.
func NewPersistence(logger *slog.Logger, path, lockPath string) (*Persistence, error) {
	path = strings.Replace(path, "file://", "", 1)

	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Persistence{
		logger:     logger,
		path:       path,
		lock:       flock.New(lockPath),
		retryDelay: DefaultLockRetryDelay,
	}, nil
}

func (p *Persistence) Path() string {
	return p.path
}

func (p *Persistence) View(ctx context.Context, fn func(persistence.Tx) error) error {
	return p.transact(ctx, false, fn)
}

func (p *Persistence) Update(ctx context.Context, fn func(persistence.Tx) error) error {
	return p.transact(ctx, true, fn)
}

// HealthCheck loads and validates the document under the lock.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.View(ctx, func(persistence.Tx) error { return nil })
}

// Close performs any necessary cleanup. The lock is only held inside
// transactions, so there is nothing to release.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) transact(ctx context.Context, writable bool, fn func(persistence.Tx) error) error {
	locked, err := p.lock.TryLockContext(ctx, p.retryDelay)
	if err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrLockUnavailable, err)
	}
	if !locked {
		return persistence.ErrLockUnavailable
	}

	defer func() {
		if err := p.lock.Unlock(); err != nil {
			p.logger.Error("Failed to release metadata lock", "path", p.lock.Path(), "error", err)
		}
	}()

	doc, err := p.load()
	if err != nil {
		return err
	}

	t := &tx{records: doc.Records, writable: writable}
	if err := fn(t); err != nil {
		return err
	}

	if !t.dirty {
		return nil
	}

	doc.Records = t.records

	return p.save(doc)
}

func (p *Persistence) load() (*document, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Version: DocumentVersion, Records: []persistence.Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.path, err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", persistence.ErrCorruptStore, p.path, err)
	}

	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return nil, fmt.Errorf("%w: %s: %s", persistence.ErrCorruptStore, p.path, strings.Join(problems, "; "))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", persistence.ErrCorruptStore, p.path, err)
	}

	return &doc, nil
}

// save replaces the document atomically so a crash never leaves it half written.
func (p *Persistence) save(doc *document) error {
	doc.Version = DocumentVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".db-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to sync metadata: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metadata: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", p.path, err)
	}

	return nil
}

type tx struct {
	records  []persistence.Record
	writable bool
	dirty    bool
}

func (t *tx) Records() []persistence.Record {
	return t.records
}

func (t *tx) SetRecords(records []persistence.Record) error {
	if !t.writable {
		return persistence.ErrReadOnlyTransaction
	}

	t.records = records
	t.dirty = true

	return nil
}
