// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/mangotango/pkg/analyzers"
	"github.com/dukex/mangotango/pkg/registry"
)

// NewRegistry builds the suite of built-in analyzers. An invalid built-in
// suite is a programming error.
func NewRegistry(logger *slog.Logger) *registry.Suite {
	return registry.MustNewSuite(logger, analyzers.All()...)
}
