package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dukex/mangotango/pkg/app"
	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/progress"
	"github.com/dukex/mangotango/pkg/registry"
	"github.com/dukex/mangotango/pkg/table"
	"github.com/dukex/mangotango/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func analysisCommand() *cli.Command {
	return &cli.Command{
		Name:    "analysis",
		Aliases: []string{"a"},
		Usage:   "Configure, run and export analyses of a project",
		Commands: []*cli.Command{
			{
				Name:      "plan",
				Usage:     "Suggest a column mapping for an analyzer",
				ArgsUsage: "<project> <analyzer>",
				Action:    withEnv(planMapping),
			},
			{
				Name:      "new",
				Usage:     "Create an analysis and run it",
				ArgsUsage: "<project> <analyzer>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name, defaults to the analyzer name",
					},
					&cli.StringSliceFlag{
						Name:  "map",
						Usage: "Map an analyzer column to a dataset column (column=dataset_column); unmapped columns use the suggested mapping",
					},
					&cli.BoolFlag{
						Name:  "no-run",
						Usage: "Only create the draft analysis",
					},
				}, runFlags()...),
				Action: withEnv(newAnalysis),
			},
			{
				Name:      "run",
				Usage:     "Run a draft analysis, or run a finalized one again into a replacement analysis",
				ArgsUsage: "<project> <analysis>",
				Flags:     runFlags(),
				Action:    withEnv(rerunAnalysis),
			},
			{
				Name:      "list",
				Usage:     "List the analyses of a project",
				ArgsUsage: "<project>",
				Action:    withEnv(listAnalyses),
			},
			{
				Name:      "rename",
				Usage:     "Change an analysis display name",
				ArgsUsage: "<project> <analysis> <name>",
				Action: withEnv(func(ctx context.Context, command *cli.Command, e *env) error {
					a, err := args(command, "<project>", "<analysis>", "<name>")
					if err != nil {
						return err
					}

					return e.app.Store().RenameAnalysis(ctx, a[0], a[1], a[2])
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete an analysis and its outputs",
				ArgsUsage: "<project> <analysis>",
				Action: withEnv(func(ctx context.Context, command *cli.Command, e *env) error {
					analysis, err := lookupAnalysis(ctx, command, e)
					if err != nil {
						return err
					}

					if err := e.app.Store().DeleteAnalysis(ctx, analysis); err != nil {
						return err
					}

					fmt.Fprintf(e.out, "Deleted analysis %s\n", analysis.AnalysisID)

					return nil
				}),
			},
			{
				Name:      "outputs",
				Usage:     "List the exportable outputs of an analysis",
				ArgsUsage: "<project> <analysis>",
				Action:    withEnv(listOutputs),
			},
			{
				Name:      "export",
				Usage:     "Export one output of an analysis",
				ArgsUsage: "<project> <analysis> <output>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Export format (csv, xlsx, json, parquet)",
						Value: string(table.FormatCSV),
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Rows per exported file for this export, 0 for a single file; defaults to the saved setting",
					},
				},
				Action: withEnv(exportOutput),
			},
			{
				Name:      "present",
				Usage:     "Render a presenter for an analysis",
				ArgsUsage: "<project> <analysis> [presenter]",
				Action:    withEnv(present),
			},
			{
				Name:      "prune",
				Usage:     "Delete draft analyses left by interrupted runs",
				ArgsUsage: "<project>",
				Action: withEnv(func(ctx context.Context, command *cli.Command, e *env) error {
					a, err := args(command, "<project>")
					if err != nil {
						return err
					}

					n, err := e.app.PruneDrafts(ctx, a[0])
					if err != nil {
						return err
					}

					fmt.Fprintf(e.out, "Deleted %d draft analyses\n", n)

					return nil
				}),
			},
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "secondary",
			Usage: "Run only these secondary analyzers and their dependencies",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Run every secondary analyzer, not only the autorun ones",
		},
	}
}

func lookupAnalysis(ctx context.Context, command *cli.Command, e *env) (*models.Analysis, error) {
	if command.Args().Len() < 2 {
		return nil, fmt.Errorf("%s expects <project> <analysis>", command.Name)
	}

	return e.app.Store().Analysis(ctx, command.Args().Get(0), command.Args().Get(1))
}

func planMapping(ctx context.Context, command *cli.Command, e *env) error {
	a, err := args(command, "<project>", "<analyzer>")
	if err != nil {
		return err
	}

	plan, err := e.app.PlanMapping(ctx, a[0], a[1])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ANALYZER COLUMN\tDATASET COLUMN")

	for _, target := range slices.Sorted(maps.Keys(plan.Mapping)) {
		fmt.Fprintf(w, "%s\t%s\n", target, plan.Mapping[target])
	}

	for _, target := range plan.Unmapped {
		fmt.Fprintf(w, "%s\t-\n", target)
	}

	return w.Flush()
}

// parseMapping reads column=dataset_column pairs over base.
func parseMapping(base map[string]string, pairs []string) (map[string]string, error) {
	mapping := maps.Clone(base)
	if mapping == nil {
		mapping = map[string]string{}
	}

	for _, pair := range pairs {
		target, column, ok := strings.Cut(pair, "=")
		if !ok || target == "" || column == "" {
			return nil, fmt.Errorf("invalid mapping %q, expected column=dataset_column", pair)
		}

		mapping[target] = column
	}

	return mapping, nil
}

func newAnalysis(ctx context.Context, command *cli.Command, e *env) error {
	a, err := args(command, "<project>", "<analyzer>")
	if err != nil {
		return err
	}

	plan, err := e.app.PlanMapping(ctx, a[0], a[1])
	if err != nil {
		return err
	}

	mapping, err := parseMapping(plan.Mapping, command.StringSlice("map"))
	if err != nil {
		return err
	}

	analysis, err := e.app.CreateAnalysis(ctx, a[0], a[1], command.String("name"), mapping)
	if err != nil {
		var cfgErr *app.ConfigurationError
		if errors.As(err, &cfgErr) {
			for _, problem := range cfgErr.Problems {
				fmt.Fprintln(e.out, "  -", problem)
			}
		}

		return err
	}

	fmt.Fprintf(e.out, "Created analysis %s (%s)\n", analysis.AnalysisID, analysis.DisplayName)

	if command.Bool("no-run") {
		return nil
	}

	return runAnalysis(ctx, command, e, analysis)
}

func runOptions(command *cli.Command) workflow.Options {
	opts := workflow.Options{}

	switch {
	case command.Bool("all"):
		opts.Filter = registry.AllSecondaries
	case len(command.StringSlice("secondary")) > 0:
		opts.Filter = registry.Only(command.StringSlice("secondary")...)
	}

	return opts
}

func rerunAnalysis(ctx context.Context, command *cli.Command, e *env) error {
	analysis, err := lookupAnalysis(ctx, command, e)
	if err != nil {
		return err
	}

	if analysis.IsDraft {
		return runAnalysis(ctx, command, e, analysis)
	}

	var replacement *models.Analysis

	err = track(ctx, command, e, analysis, func(opts workflow.Options, onEvent func(workflow.Event)) error {
		var rerunErr error
		replacement, rerunErr = e.app.RerunAnalysis(ctx, analysis, opts, onEvent)

		return rerunErr
	})
	if replacement != nil {
		fmt.Fprintf(e.out, "Analysis %s replaced by %s\n", analysis.AnalysisID, replacement.AnalysisID)
	}

	return err
}

func runAnalysis(ctx context.Context, command *cli.Command, e *env, analysis *models.Analysis) error {
	return track(ctx, command, e, analysis, func(opts workflow.Options, onEvent func(workflow.Event)) error {
		return e.app.RunAnalysis(ctx, analysis, opts, onEvent)
	})
}

// track runs an analysis with the command's secondary selection, drawing a
// progress line over its stages.
func track(
	ctx context.Context,
	command *cli.Command,
	e *env,
	analysis *models.Analysis,
	run func(opts workflow.Options, onEvent func(workflow.Event)) error,
) error {
	opts := runOptions(command)

	stages := 1 + len(e.app.Suite().ToposortedSecondaries(analysis.PrimaryAnalyzerID, opts.SecondaryFilter()))
	finished := 0

	reporter := progress.New(e.out, "Running "+analysis.DisplayName).Start()
	started := time.Now()

	err := run(opts, func(event workflow.Event) {
		if event.Phase == workflow.PhaseFinish {
			finished++
			reporter.Update(float64(finished) / float64(stages))
		}

		e.logger.DebugContext(ctx, "Analysis stage",
			"run_id", event.RunID,
			"analyzer_id", event.AnalyzerID,
			"kind", event.Kind,
			"phase", event.Phase)
	})

	var runErr *app.RunError

	switch {
	case err == nil:
		reporter.Finish(fmt.Sprintf("in %s", time.Since(started).Round(time.Millisecond)))
	case errors.Is(err, app.ErrRunCancelled):
		reporter.Finish("cancelled")
	case errors.As(err, &runErr):
		reporter.Finish("failed")

		if runErr.Trace != "" {
			e.logger.ErrorContext(ctx, "Analyzer panicked", "analyzer_id", runErr.Analyzer, "trace", runErr.Trace)
		}
	default:
		reporter.Finish("failed")
	}

	return err
}

func listAnalyses(ctx context.Context, command *cli.Command, e *env) error {
	a, err := args(command, "<project>")
	if err != nil {
		return err
	}

	analyses, err := e.app.Store().ListAnalyses(ctx, a[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tANALYZER\tCREATED")

	for _, an := range analyses {
		created := "-"
		if !an.CreateTimestamp.IsZero() {
			created = an.CreateTimestamp.Local().Format(time.DateTime)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", an.AnalysisID, an.DisplayName, an.PrimaryAnalyzerID, created)
	}

	return w.Flush()
}

func listOutputs(ctx context.Context, command *cli.Command, e *env) error {
	analysis, err := lookupAnalysis(ctx, command, e)
	if err != nil {
		return err
	}

	outputs, err := e.app.ExportableOutputs(ctx, analysis)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTPUT\tNAME\tDESCRIPTION")

	for _, out := range outputs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", out.Name(), out.Output.Name, out.Output.Description)
	}

	return w.Flush()
}

func exportOutput(ctx context.Context, command *cli.Command, e *env) error {
	analysis, err := lookupAnalysis(ctx, command, e)
	if err != nil {
		return err
	}

	if command.Args().Len() != 3 {
		return errors.New("export expects <project> <analysis> <output>")
	}

	output, err := e.app.FindOutput(ctx, analysis, command.Args().Get(2))
	if err != nil {
		return err
	}

	format, err := table.ParseFormat(command.String("format"))
	if err != nil {
		return err
	}

	var chunkOverride *int
	if command.IsSet("chunk-size") {
		size := command.Int("chunk-size")
		if size < 0 {
			return fmt.Errorf("chunk size must not be negative, got %d", size)
		}

		chunkOverride = &size
	}

	reporter := progress.New(e.out, "Exporting "+output.Name()).Start()

	result, err := e.app.Export(ctx, analysis, output, format, chunkOverride, reporter.Update)
	if err != nil {
		reporter.Finish("failed")

		return err
	}

	reporter.Finish(fmt.Sprintf("%d file(s)", len(result.Files)))

	for _, f := range result.Files {
		fmt.Fprintf(e.out, "%s\t%d rows\n", f.Path, f.Rows)
	}

	return nil
}

func present(ctx context.Context, command *cli.Command, e *env) error {
	analysis, err := lookupAnalysis(ctx, command, e)
	if err != nil {
		return err
	}

	presenters := e.app.Suite().Presenters(analysis.PrimaryAnalyzerID)

	presenterID := command.Args().Get(2)
	if presenterID == "" {
		if len(presenters) != 1 {
			return fmt.Errorf("analyzer %s has %d presenters, name one", analysis.PrimaryAnalyzerID, len(presenters))
		}

		presenterID = presenters[0].ID
	}

	return e.app.Present(ctx, analysis, presenterID, e.out)
}
