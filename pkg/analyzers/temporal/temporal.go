// Package temporal counts posting events per time-of-day interval and flags
// the intervals with unusual activity.
package temporal

import (
	"cmp"
	"context"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

const (
	ID = "temporal"

	ColTimestamp     = "timestamp"
	ColIntervalStart = "time_interval_start"
	ColIntervalEnd   = "time_interval_end"
	ColCount         = "count"

	OutputIntervalCount = "interval_count"

	Interval = time.Hour
	day      = 24 * time.Hour
)

var Analyzer = &models.AnalyzerDeclaration{
	AnalyzerBase: models.AnalyzerBase{
		ID:               ID,
		Version:          "0.1.0",
		Name:             "Time frequency analysis",
		ShortDescription: "Counts posting events in time-of-day intervals to discover potential periodic activity.",
		LongDescription: `Groups timestamped events into hourly time-of-day intervals and counts the
events in each interval. Spikes at specific times of day can reveal automated or
coordinated posting behaviour.`,
	},
	Input: models.AnalyzerInput{Columns: []models.InputColumn{{
		Name:              ColTimestamp,
		HumanReadableName: "Post Timestamp",
		DataType:          semantic.Datetime,
		Description:       "The timestamp of the event or post.",
		NameHints:         []string{"time", "date", "created", "posted"},
	}}},
	Outputs: []models.AnalyzerOutput{{
		ID:          OutputIntervalCount,
		Name:        "Interval event count",
		Description: "The count of events in each time interval.",
		Columns: []models.OutputColumn{
			{Name: ColCount, HumanReadableName: "Count", DataType: semantic.Integer},
			{Name: ColIntervalStart, HumanReadableName: "Interval start", DataType: semantic.Time},
			{Name: ColIntervalEnd, HumanReadableName: "Interval end", DataType: semantic.Time},
		},
	}},
	EntryPoint: analyze,
}

// Bucket returns the time-of-day interval containing t.
func Bucket(t time.Time, interval time.Duration) (start, end time.Duration) {
	start = semantic.TimeOfDay(t).Truncate(interval)
	end = (start + interval) % day

	return start, end
}

// countIntervals tallies timestamps per interval, ordered by interval start.
// Null timestamps are skipped.
func countIntervals(timestamps []any, interval time.Duration) []table.Row {
	counts := make(map[time.Duration]int64)
	for _, v := range timestamps {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}

		start, _ := Bucket(t, interval)
		counts[start]++
	}

	rows := make([]table.Row, 0, len(counts))
	for start, n := range counts {
		rows = append(rows, table.Row{n, start, (start + interval) % day})
	}

	slices.SortFunc(rows, func(a, b table.Row) int {
		return cmp.Compare(a[1].(time.Duration), b[1].(time.Duration))
	})

	return rows
}

func analyze(ctx context.Context, pc protocol.PrimaryContext) error {
	input, err := pc.Input()
	if err != nil {
		return err
	}
	defer input.Close()

	var timestamps []any
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := input.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		for _, row := range batch {
			timestamps = append(timestamps, row[0])
		}
	}

	rows := countIntervals(timestamps, Interval)
	pc.Logger().Info("Counted intervals", "events", len(timestamps), "intervals", len(rows))

	out, err := pc.Output(OutputIntervalCount)
	if err != nil {
		return err
	}

	return protocol.WriteTable(out, rows)
}
