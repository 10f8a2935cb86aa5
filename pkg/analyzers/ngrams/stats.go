package ngrams

import (
	"cmp"
	"context"
	"slices"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

const (
	StatsID = "ngram_stats"

	ColTotalReps       = "total_reps"
	ColDistinctPosters = "distinct_posters"

	OutputStats = "ngram_stats"
)

var Stats = &models.SecondaryAnalyzerDeclaration{
	AnalyzerBase: models.AnalyzerBase{
		ID:               StatsID,
		Version:          "0.1.0",
		Name:             "N-gram statistics",
		ShortDescription: "Counts repetitions and distinct posters of each n-gram",
	},
	BaseAnalyzerID: ID,
	Autorun:        true,
	Outputs: []models.AnalyzerOutput{{
		ID:   OutputStats,
		Name: "N-gram repetition statistics",
		Columns: []models.OutputColumn{
			{Name: ColNgramID, HumanReadableName: "N-gram ID", DataType: semantic.Identifier},
			{Name: ColWords, HumanReadableName: "N-gram", DataType: semantic.Text},
			{Name: ColLength, HumanReadableName: "Length", DataType: semantic.Integer},
			{Name: ColTotalReps, HumanReadableName: "Total repetitions", DataType: semantic.Integer},
			{Name: ColDistinctPosters, HumanReadableName: "Distinct posters", DataType: semantic.Integer},
		},
	}},
	EntryPoint: computeStats,
}

type ngramStat struct {
	id      string
	words   string
	length  int64
	reps    int64
	posters map[string]struct{}
}

// summarize joins the three base outputs into one stat per n-gram, sorted by
// total repetitions, most repeated first. Ties keep definition order.
func summarize(messageNgrams, definitions, authors []table.Row) []table.Row {
	authorsOf := make(map[string][]string)
	for _, row := range authors {
		author, _ := row[0].(string)
		message, _ := row[1].(string)
		authorsOf[message] = append(authorsOf[message], author)
	}

	stats := make([]*ngramStat, len(definitions))
	byID := make(map[string]*ngramStat, len(definitions))
	for i, row := range definitions {
		s := &ngramStat{posters: make(map[string]struct{})}
		s.id, _ = row[0].(string)
		s.words, _ = row[1].(string)
		s.length, _ = row[2].(int64)

		stats[i] = s
		byID[s.id] = s
	}

	for _, row := range messageNgrams {
		message, _ := row[0].(string)
		id, _ := row[1].(string)
		count, _ := row[2].(int64)

		s, ok := byID[id]
		if !ok {
			continue
		}

		s.reps += count
		for _, author := range authorsOf[message] {
			s.posters[author] = struct{}{}
		}
	}

	slices.SortStableFunc(stats, func(a, b *ngramStat) int {
		return cmp.Compare(b.reps, a.reps)
	})

	rows := make([]table.Row, 0, len(stats))
	for _, s := range stats {
		if s.reps == 0 {
			continue
		}

		rows = append(rows, table.Row{s.id, s.words, s.length, s.reps, int64(len(s.posters))})
	}

	return rows
}

func computeStats(ctx context.Context, sc protocol.SecondaryContext) error {
	base := sc.Base()

	messageNgrams, err := protocol.ReadTable(base, OutputMessageNgrams)
	if err != nil {
		return err
	}

	definitions, err := protocol.ReadTable(base, OutputNgrams)
	if err != nil {
		return err
	}

	authors, err := protocol.ReadTable(base, OutputMessageAuthors)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	rows := summarize(messageNgrams, definitions, authors)
	sc.Logger().Info("Summarized n-grams", "ngrams", len(rows))

	out, err := sc.Output(OutputStats)
	if err != nil {
		return err
	}

	return protocol.WriteTable(out, rows)
}
