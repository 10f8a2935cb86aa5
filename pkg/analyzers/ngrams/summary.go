package ngrams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
)

const (
	SummaryID = "ngram_summary"

	// TopN is how many n-grams the summary lists.
	TopN = 10

	summaryStateFile = "summary.json"
)

var Summary = &models.PresenterDeclaration{
	AnalyzerBase: models.AnalyzerBase{
		ID:               SummaryID,
		Version:          "0.1.0",
		Name:             "Repetition summary",
		ShortDescription: "Lists the most repeated n-grams",
	},
	BaseAnalyzerID: ID,
	DependsOn:      []string{StatsID},
	Render:         renderSummary,
}

// summaryState is kept between renders so that n-grams entering the top list
// can be marked as new.
type summaryState struct {
	Renders      int       `json:"renders"`
	LastRendered time.Time `json:"last_rendered"`
	Top          []string  `json:"top"`
}

func loadSummaryState(path string) (*summaryState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &summaryState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presenter state: %w", err)
	}

	var state summaryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode presenter state: %w", err)
	}

	return &state, nil
}

func renderSummary(_ context.Context, pc protocol.PresenterContext, w io.Writer) error {
	dep, err := pc.Dependency(StatsID)
	if err != nil {
		return err
	}

	rows, err := protocol.ReadTable(dep, OutputStats)
	if err != nil {
		return err
	}
	rows = rows[:min(len(rows), TopN)]

	statePath := filepath.Join(pc.StateDir(), summaryStateFile)
	state, err := loadSummaryState(statePath)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPS\tPOSTERS\tN-GRAM\t")

	top := make([]string, len(rows))
	for i, row := range rows {
		words, _ := row[1].(string)
		top[i] = words

		marker := ""
		if state.Renders > 0 && !slices.Contains(state.Top, words) {
			marker = "new"
		}

		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", row[3], row[4], words, marker)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if state.Renders > 0 {
		fmt.Fprintf(w, "\nPreviously rendered %s\n", state.LastRendered.Format(time.RFC3339))
	}

	state.Renders++
	state.LastRendered = time.Now().UTC()
	state.Top = top

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode presenter state: %w", err)
	}

	if err := os.WriteFile(statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write presenter state: %w", err)
	}

	pc.Logger().Debug("Rendered n-gram summary", "rows", len(rows), "renders", state.Renders)

	return nil
}
