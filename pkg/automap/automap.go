// Package automap matches dataset columns to an analyzer's declared input
// columns using a ranked type compatibility table and column name hints.
package automap

import (
	"strings"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/semantic"
)

// HintBonus is added to a candidate's score when one of the target's name
// hints matches the candidate name.
const HintBonus = 10

// compatibility lists, for each expected type, the acceptable actual types
// from most to least preferred. Types in the same inner list rank equally.
var compatibility = map[semantic.Type][][]semantic.Type{
	semantic.Text:       {{semantic.Text}, {semantic.Identifier, semantic.URL}},
	semantic.Integer:    {{semantic.Integer}},
	semantic.Float:      {{semantic.Float, semantic.Integer}},
	semantic.Boolean:    {{semantic.Boolean}},
	semantic.Datetime:   {{semantic.Datetime}},
	semantic.Time:       {{semantic.Time}, {semantic.Datetime}},
	semantic.Identifier: {{semantic.Identifier}, {semantic.URL, semantic.Datetime}, {semantic.Integer}, {semantic.Text}},
	semantic.URL:        {{semantic.URL}},
}

// Score rates how well a column of type actual serves where expected is
// declared: 0 for the same type, the negative 1-based preference rank for a
// listed alternative. ok is false when the types are incompatible.
func Score(expected, actual semantic.Type) (score int, ok bool) {
	if expected == actual {
		return 0, true
	}

	for rank, group := range compatibility[expected] {
		for _, t := range group {
			if t == actual {
				return -(rank + 1), true
			}
		}
	}

	return 0, false
}

// Compatible reports whether actual can be used where expected is declared.
func Compatible(expected, actual semantic.Type) bool {
	_, ok := Score(expected, actual)

	return ok
}

// MatchesNameHint reports whether every space separated word of hint occurs
// in name, ignoring case.
func MatchesNameHint(name, hint string) bool {
	words := strings.Fields(strings.ToLower(hint))
	if len(words) == 0 {
		return false
	}

	name = strings.ToLower(name)
	for _, word := range words {
		if !strings.Contains(name, word) {
			return false
		}
	}

	return true
}

// Candidate is a dataset column offered to the automapper.
type Candidate struct {
	Name string
	Type semantic.Type
}

type Result struct {
	// Mapping maps target column names to candidate names.
	Mapping map[string]string
	// Unmapped lists targets without a compatible candidate, in target order.
	Unmapped []string
}

func candidateScore(target models.InputColumn, candidate Candidate) (int, bool) {
	score, ok := Score(target.DataType, candidate.Type)
	if !ok {
		return 0, false
	}

	for _, hint := range target.NameHints {
		if MatchesNameHint(candidate.Name, hint) {
			score += HintBonus

			break
		}
	}

	return score, true
}

// Automap picks, for each target independently, the compatible candidate
// with the strictly highest score. Ties keep the earliest candidate, and the
// same candidate may serve several targets.
func Automap(candidates []Candidate, targets []models.InputColumn) Result {
	result := Result{Mapping: make(map[string]string, len(targets))}

	for _, target := range targets {
		best := -1
		bestScore := 0

		for i, candidate := range candidates {
			score, ok := candidateScore(target, candidate)
			if !ok {
				continue
			}

			if best < 0 || score > bestScore {
				best = i
				bestScore = score
			}
		}

		if best < 0 {
			result.Unmapped = append(result.Unmapped, target.Name)

			continue
		}

		result.Mapping[target.Name] = candidates[best].Name
	}

	return result
}
