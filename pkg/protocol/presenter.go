package protocol

import (
	"context"
	"io"
	"log/slog"
)

// PresenterContext gives a presenter read-only access to finalized outputs and
// a state directory that persists between renders of the same analysis.
type PresenterContext interface {
	TempDir() string
	StateDir() string
	Logger() *slog.Logger
	Base() AssetsReader
	Dependency(secondaryID string) (AssetsReader, error)
}

// PresenterRender writes a human readable view of the outputs to w.
type PresenterRender func(ctx context.Context, pc PresenterContext, w io.Writer) error
