package persistence

import (
	"context"
	"encoding/json"
)

// Record classes stored in the metadata document.
const (
	ClassProject  = "project"
	ClassAnalysis = "analysis"
	ClassSettings = "settings"
)

// Record is one tagged entry of the metadata document.
type Record struct {
	Class string          `json:"class_"`
	Data  json.RawMessage `json:"data"`
}

// Tx exposes the metadata document inside one locked transaction.
type Tx interface {
	// Records returns the records in insertion order. The slice must not be
	// modified in place; pass a new slice to SetRecords instead.
	Records() []Record

	// SetRecords replaces the document's records. It fails with
	// ErrReadOnlyTransaction inside View.
	SetRecords(records []Record) error
}

// Persistence is a metadata store where every transaction runs under a
// cross-process exclusive lock held only for that transaction. Transactions
// must not be nested.
type Persistence interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
