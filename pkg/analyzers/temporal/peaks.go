package temporal

import (
	"context"
	"math"
	"time"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

const (
	PeaksID = "temporal_peaks"

	ColZScore = "z_score"
	ColIsPeak = "is_peak"

	OutputPeaks = "interval_peaks"

	// PeakDeviations is how many standard deviations above the mean an
	// interval count must be to be flagged.
	PeakDeviations = 2.0
)

var Peaks = &models.SecondaryAnalyzerDeclaration{
	AnalyzerBase: models.AnalyzerBase{
		ID:               PeaksID,
		Version:          "0.1.0",
		Name:             "Activity peaks",
		ShortDescription: "Flags time-of-day intervals with unusually high activity",
	},
	BaseAnalyzerID: ID,
	Autorun:        true,
	Outputs: []models.AnalyzerOutput{{
		ID:   OutputPeaks,
		Name: "Interval activity peaks",
		Columns: []models.OutputColumn{
			{Name: ColIntervalStart, HumanReadableName: "Interval start", DataType: semantic.Time},
			{Name: ColCount, HumanReadableName: "Count", DataType: semantic.Integer},
			{Name: ColZScore, HumanReadableName: "Z-score", DataType: semantic.Float},
			{Name: ColIsPeak, HumanReadableName: "Peak", DataType: semantic.Boolean},
		},
	}},
	EntryPoint: findPeaks,
}

// flagPeaks scores each interval count against the mean and population
// standard deviation of all counts.
func flagPeaks(intervals []table.Row) []table.Row {
	if len(intervals) == 0 {
		return nil
	}

	counts := make([]float64, len(intervals))
	var sum float64
	for i, row := range intervals {
		n, _ := row[0].(int64)
		counts[i] = float64(n)
		sum += counts[i]
	}
	mean := sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	stddev := math.Sqrt(variance / float64(len(counts)))

	rows := make([]table.Row, len(intervals))
	for i, row := range intervals {
		start, _ := row[1].(time.Duration)

		z := 0.0
		if stddev > 0 {
			z = (counts[i] - mean) / stddev
		}

		rows[i] = table.Row{start, int64(counts[i]), z, counts[i] > mean+PeakDeviations*stddev}
	}

	return rows
}

func findPeaks(ctx context.Context, sc protocol.SecondaryContext) error {
	intervals, err := protocol.ReadTable(sc.Base(), OutputIntervalCount)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := sc.Output(OutputPeaks)
	if err != nil {
		return err
	}

	return protocol.WriteTable(out, flagPeaks(intervals))
}
