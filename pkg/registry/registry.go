// Package registry holds the analyzer suite: every primary, secondary and
// presenter declaration known to the process, validated once at startup.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/mangotango/pkg/models"
)

var (
	ErrInvalidDeclaration = errors.New("invalid analyzer declaration")
	ErrDuplicateID        = errors.New("duplicate analyzer id")
	ErrUnknownBase        = errors.New("unknown base analyzer")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrDependencyCycle    = errors.New("dependency cycle")
)

// Suite is immutable after construction.
type Suite struct {
	logger       *slog.Logger
	declarations []models.Declaration
	primaries    []*models.AnalyzerDeclaration
	primaryByID  map[string]*models.AnalyzerDeclaration
	secondaries  map[string][]*models.SecondaryAnalyzerDeclaration
	presenters   map[string][]*models.PresenterDeclaration
}

func newSuite(logger *slog.Logger, decls []models.Declaration) *Suite {
	s := &Suite{
		logger:       logger,
		declarations: decls,
		primaryByID:  make(map[string]*models.AnalyzerDeclaration),
		secondaries:  make(map[string][]*models.SecondaryAnalyzerDeclaration),
		presenters:   make(map[string][]*models.PresenterDeclaration),
	}

	for _, decl := range decls {
		switch v := decl.Value().(type) {
		case *models.AnalyzerDeclaration:
			s.primaries = append(s.primaries, v)
			s.primaryByID[v.ID] = v
		case *models.SecondaryAnalyzerDeclaration:
			s.secondaries[v.BaseAnalyzerID] = append(s.secondaries[v.BaseAnalyzerID], v)
		case *models.PresenterDeclaration:
			s.presenters[v.BaseAnalyzerID] = append(s.presenters[v.BaseAnalyzerID], v)
		}
	}

	return s
}

// NewSuite registers decls and validates the resulting graph: ids are
// unique, every secondary and presenter hangs off a registered primary, every
// depends_on entry names a secondary of the same base and the secondaries of
// a base form no cycle.
func NewSuite(logger *slog.Logger, decls ...models.Declaration) (*Suite, error) {
	validate := models.NewValidator()
	seen := make(map[string]bool, len(decls))

	for i, decl := range decls {
		value := decl.Value()
		if value == nil {
			return nil, fmt.Errorf("%w: declaration %d has kind %q without a matching payload", ErrInvalidDeclaration, i, decl.Kind)
		}

		if err := validate.Struct(value); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDeclaration, decl.ID(), err)
		}

		if seen[decl.ID()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, decl.ID())
		}
		seen[decl.ID()] = true
	}

	s := newSuite(logger, decls)

	for _, decl := range decls {
		var base string
		var deps []string

		switch v := decl.Value().(type) {
		case *models.SecondaryAnalyzerDeclaration:
			base, deps = v.BaseAnalyzerID, v.DependsOn
		case *models.PresenterDeclaration:
			base, deps = v.BaseAnalyzerID, v.DependsOn
		default:
			continue
		}

		if _, ok := s.primaryByID[base]; !ok {
			return nil, fmt.Errorf("%w: %s declares base %q", ErrUnknownBase, decl.ID(), base)
		}

		for _, dep := range deps {
			if _, ok := s.Secondary(base, dep); !ok {
				return nil, fmt.Errorf("%w: %s depends on %q, which is not a secondary analyzer of %s", ErrUnknownDependency, decl.ID(), dep, base)
			}
		}
	}

	for _, primary := range s.primaries {
		if err := s.checkCycles(primary.ID); err != nil {
			return nil, err
		}
	}

	logger.Info("Analyzer suite registered",
		"primaries", len(s.primaries),
		"declarations", len(decls))

	return s, nil
}

// MustNewSuite is NewSuite for static registrations; a bad registry is a
// programming error.
func MustNewSuite(logger *slog.Logger, decls ...models.Declaration) *Suite {
	s, err := NewSuite(logger, decls...)
	if err != nil {
		panic(err)
	}

	return s
}

func (s *Suite) checkCycles(primaryID string) error {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int)
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
				}
			}

			cycle := append(append([]string{}, path[start:]...), id)

			return fmt.Errorf("%w under %s: %s", ErrDependencyCycle, primaryID, strings.Join(cycle, " -> "))
		}

		state[id] = visiting
		path = append(path, id)

		decl, _ := s.Secondary(primaryID, id)
		for _, dep := range decl.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		state[id] = done

		return nil
	}

	for _, decl := range s.secondaries[primaryID] {
		if err := visit(decl.ID); err != nil {
			return err
		}
	}

	return nil
}

// Declarations returns every registered declaration in registration order.
func (s *Suite) Declarations() []models.Declaration {
	return s.declarations
}

func (s *Suite) Primary(id string) (*models.AnalyzerDeclaration, bool) {
	decl, ok := s.primaryByID[id]

	return decl, ok
}

func (s *Suite) Primaries() []*models.AnalyzerDeclaration {
	return s.primaries
}

// DistributedPrimaries returns the primaries flagged for distribution to users.
func (s *Suite) DistributedPrimaries() []*models.AnalyzerDeclaration {
	var out []*models.AnalyzerDeclaration
	for _, decl := range s.primaries {
		if decl.IsDistributed {
			out = append(out, decl)
		}
	}

	return out
}

func (s *Suite) Secondaries(primaryID string) []*models.SecondaryAnalyzerDeclaration {
	return s.secondaries[primaryID]
}

func (s *Suite) Secondary(primaryID, id string) (*models.SecondaryAnalyzerDeclaration, bool) {
	for _, decl := range s.secondaries[primaryID] {
		if decl.ID == id {
			return decl, true
		}
	}

	return nil, false
}

func (s *Suite) Presenters(primaryID string) []*models.PresenterDeclaration {
	return s.presenters[primaryID]
}

func (s *Suite) Presenter(primaryID, id string) (*models.PresenterDeclaration, bool) {
	for _, decl := range s.presenters[primaryID] {
		if decl.ID == id {
			return decl, true
		}
	}

	return nil, false
}

// Filter selects which secondaries of a primary are run.
type Filter func(*models.SecondaryAnalyzerDeclaration) bool

func AllSecondaries(*models.SecondaryAnalyzerDeclaration) bool { return true }

func AutorunOnly(decl *models.SecondaryAnalyzerDeclaration) bool { return decl.Autorun }

// Only selects the named secondaries.
func Only(ids ...string) Filter {
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	return func(decl *models.SecondaryAnalyzerDeclaration) bool {
		return selected[decl.ID]
	}
}

// ToposortedSecondaries returns the secondaries of primaryID accepted by
// filter, plus everything they transitively depend on, with every
// declaration placed after its dependencies. Registration order is kept
// where dependencies allow. A dangling dependency or a cycle panics: the
// suite rejects both at construction.
func (s *Suite) ToposortedSecondaries(primaryID string, filter Filter) []*models.SecondaryAnalyzerDeclaration {
	if filter == nil {
		filter = AllSecondaries
	}

	var (
		result   []*models.SecondaryAnalyzerDeclaration
		visited  = make(map[string]bool)
		visiting = make(map[string]bool)
	)

	var visit func(decl *models.SecondaryAnalyzerDeclaration)
	visit = func(decl *models.SecondaryAnalyzerDeclaration) {
		if visited[decl.ID] {
			return
		}
		if visiting[decl.ID] {
			panic(fmt.Sprintf("registry: dependency cycle through %q under %q", decl.ID, primaryID))
		}
		visiting[decl.ID] = true

		for _, dep := range decl.DependsOn {
			depDecl, ok := s.Secondary(primaryID, dep)
			if !ok {
				panic(fmt.Sprintf("registry: %q depends on unregistered secondary %q under %q", decl.ID, dep, primaryID))
			}
			visit(depDecl)
		}

		visited[decl.ID] = true
		result = append(result, decl)
	}

	for _, decl := range s.secondaries[primaryID] {
		if filter(decl) {
			visit(decl)
		}
	}

	return result
}
