package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	cli "github.com/urfave/cli/v3"
)

func analyzersCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyzers",
		Usage: "Inspect the built-in analyzers",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List primary analyzers with their input columns, secondaries and presenters",
				Action: withEnv(listAnalyzers),
			},
		},
	}
}

func listAnalyzers(_ context.Context, _ *cli.Command, e *env) error {
	suite := e.app.Suite()
	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)

	for _, primary := range suite.Primaries() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", primary.ID, primary.Name, primary.ShortDescription)

		for _, col := range primary.Input.Columns {
			fmt.Fprintf(w, "  input\t%s\t%s\n", col.Name, col.DataType)
		}

		for _, decl := range suite.Secondaries(primary.ID) {
			flags := ""
			if decl.Autorun {
				flags = " (autorun)"
			}

			deps := ""
			if len(decl.DependsOn) > 0 {
				deps = " after " + strings.Join(decl.DependsOn, ", ")
			}

			fmt.Fprintf(w, "  secondary\t%s%s\t%s%s\n", decl.ID, flags, decl.ShortDescription, deps)
		}

		for _, decl := range suite.Presenters(primary.ID) {
			fmt.Fprintf(w, "  presenter\t%s\t%s\n", decl.ID, decl.ShortDescription)
		}
	}

	return w.Flush()
}
