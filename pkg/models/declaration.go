package models

import (
	"github.com/dukex/mangotango/pkg/protocol"
)

// DeclarationKind discriminates the analyzer variants a suite accepts.
type DeclarationKind string

const (
	KindPrimary   DeclarationKind = "primary"
	KindSecondary DeclarationKind = "secondary"
	KindPresenter DeclarationKind = "presenter"
)

// AnalyzerBase is shared by every declaration kind.
type AnalyzerBase struct {
	ID               string `json:"id"                          validate:"required"`
	Version          string `json:"version"                     validate:"required"`
	Name             string `json:"name"                        validate:"required"`
	ShortDescription string `json:"short_description"`
	LongDescription  string `json:"long_description,omitempty"`
}

// AnalyzerDeclaration describes a primary analyzer, the root of a dependency
// tree that consumes the user's mapped dataset.
type AnalyzerDeclaration struct {
	AnalyzerBase

	Input         AnalyzerInput              `json:"input"          validate:"required"`
	Outputs       []AnalyzerOutput           `json:"outputs"        validate:"required,min=1,dive"`
	EntryPoint    protocol.PrimaryEntryPoint `json:"-"              validate:"required"`
	IsDistributed bool                       `json:"is_distributed"`
}

func (d *AnalyzerDeclaration) Output(id string) (AnalyzerOutput, bool) {
	return findOutput(d.Outputs, id)
}

type SecondaryAnalyzerDeclaration struct {
	AnalyzerBase

	BaseAnalyzerID string                       `json:"base_analyzer_id" validate:"required"`
	DependsOn      []string                     `json:"depends_on,omitempty"`
	Autorun        bool                         `json:"autorun"`
	Outputs        []AnalyzerOutput             `json:"outputs"          validate:"required,min=1,dive"`
	EntryPoint     protocol.SecondaryEntryPoint `json:"-"                validate:"required"`
}

func (d *SecondaryAnalyzerDeclaration) Output(id string) (AnalyzerOutput, bool) {
	return findOutput(d.Outputs, id)
}

// DependsOnID reports whether id is listed in depends_on.
func (d *SecondaryAnalyzerDeclaration) DependsOnID(id string) bool {
	for _, dep := range d.DependsOn {
		if dep == id {
			return true
		}
	}

	return false
}

// PresenterDeclaration renders finalized outputs and produces no artifacts.
type PresenterDeclaration struct {
	AnalyzerBase

	BaseAnalyzerID string                   `json:"base_analyzer_id" validate:"required"`
	DependsOn      []string                 `json:"depends_on,omitempty"`
	Render         protocol.PresenterRender `json:"-"                validate:"required"`
}

// Declaration is a closed tagged variant; exactly the field named by Kind is set.
type Declaration struct {
	Kind      DeclarationKind
	Primary   *AnalyzerDeclaration
	Secondary *SecondaryAnalyzerDeclaration
	Presenter *PresenterDeclaration
}

func Primary(d *AnalyzerDeclaration) Declaration {
	return Declaration{Kind: KindPrimary, Primary: d}
}

func Secondary(d *SecondaryAnalyzerDeclaration) Declaration {
	return Declaration{Kind: KindSecondary, Secondary: d}
}

func Presenter(d *PresenterDeclaration) Declaration {
	return Declaration{Kind: KindPresenter, Presenter: d}
}

// Base returns the common fields of whichever variant is set.
func (d Declaration) Base() AnalyzerBase {
	switch v := d.Value().(type) {
	case *AnalyzerDeclaration:
		return v.AnalyzerBase
	case *SecondaryAnalyzerDeclaration:
		return v.AnalyzerBase
	case *PresenterDeclaration:
		return v.AnalyzerBase
	default:
		return AnalyzerBase{}
	}
}

func (d Declaration) ID() string {
	return d.Base().ID
}

// Value returns the populated variant, or nil when Kind and payload disagree.
func (d Declaration) Value() any {
	switch {
	case d.Kind == KindPrimary && d.Primary != nil:
		return d.Primary
	case d.Kind == KindSecondary && d.Secondary != nil:
		return d.Secondary
	case d.Kind == KindPresenter && d.Presenter != nil:
		return d.Presenter
	default:
		return nil
	}
}

func findOutput(outputs []AnalyzerOutput, id string) (AnalyzerOutput, bool) {
	for _, out := range outputs {
		if out.ID == id {
			return out, true
		}
	}

	return AnalyzerOutput{}, false
}
