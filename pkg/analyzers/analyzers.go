// Package analyzers bundles the built-in analyzer suite.
package analyzers

import (
	"log/slog"

	"github.com/dukex/mangotango/pkg/analyzers/ngrams"
	"github.com/dukex/mangotango/pkg/analyzers/temporal"
	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/registry"
)

// All returns the declarations of every built-in analyzer and presenter.
func All() []models.Declaration {
	return []models.Declaration{
		models.Primary(ngrams.Analyzer),
		models.Secondary(ngrams.Stats),
		models.Presenter(ngrams.Summary),
		models.Primary(temporal.Analyzer),
		models.Secondary(temporal.Peaks),
	}
}

func NewSuite(logger *slog.Logger) (*registry.Suite, error) {
	return registry.NewSuite(logger, All()...)
}
