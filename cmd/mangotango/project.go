package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dukex/mangotango/pkg/cmd"
	"github.com/dukex/mangotango/pkg/semantic"
	cli "github.com/urfave/cli/v3"
)

// previewValues caps the sample shown per column by "project columns".
const previewValues = 3

func projectCommand() *cli.Command {
	return &cli.Command{
		Name:    "project",
		Aliases: []string{"p"},
		Usage:   "Manage imported datasets",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Import a file as a new project",
				ArgsUsage: "<name> <file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "delimiter",
						Usage: "CSV delimiter, sniffed from the file when empty",
					},
				},
				Action: withEnv(createProject),
			},
			{
				Name:   "list",
				Usage:  "List projects",
				Action: withEnv(listProjects),
			},
			{
				Name:      "rename",
				Usage:     "Change a project's display name",
				ArgsUsage: "<project> <name>",
				Action: withEnv(func(ctx context.Context, command *cli.Command, e *env) error {
					a, err := args(command, "<project>", "<name>")
					if err != nil {
						return err
					}

					return e.app.Store().RenameProject(ctx, a[0], a[1])
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a project with all of its analyses",
				ArgsUsage: "<project>",
				Action: withEnv(func(ctx context.Context, command *cli.Command, e *env) error {
					a, err := args(command, "<project>")
					if err != nil {
						return err
					}

					if err := e.app.Store().DeleteProject(ctx, a[0]); err != nil {
						return err
					}

					fmt.Fprintf(e.out, "Deleted project %s\n", a[0])

					return nil
				}),
			},
			{
				Name:      "columns",
				Usage:     "Show the inferred type of each column",
				ArgsUsage: "<project>",
				Action:    withEnv(showColumns),
			},
		},
	}
}

func createProject(ctx context.Context, command *cli.Command, e *env) error {
	a, err := args(command, "<name>", "<file>")
	if err != nil {
		return err
	}

	imp, err := cmd.NewImporter(e.logger, a[1], command.String("delimiter"))
	if err != nil {
		return err
	}

	project, err := e.app.CreateProject(ctx, a[0], imp, a[1])
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "Created project %s (%s)\n", project.ID, project.DisplayName)

	return nil
}

func listProjects(ctx context.Context, _ *cli.Command, e *env) error {
	projects, err := e.app.Store().ListProjects(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROWS")

	for _, p := range projects {
		rows, err := e.app.Store().InputRowCount(p.ID)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to count input rows", "project_id", p.ID, "error", err)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\n", p.ID, p.DisplayName, rows)
	}

	return w.Flush()
}

func showColumns(ctx context.Context, command *cli.Command, e *env) error {
	a, err := args(command, "<project>")
	if err != nil {
		return err
	}

	columns, err := e.app.ProjectColumns(ctx, a[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tSTORED AS\tINFERRED\tTYPE\tPREVIEW")

	for _, c := range columns {
		inferred := c.Semantic
		if inferred == "" {
			inferred = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Physical, inferred, c.DataType, preview(c.Preview))
	}

	return w.Flush()
}

func preview(values []any) string {
	parts := make([]string, 0, previewValues)
	for _, v := range values[:min(len(values), previewValues)] {
		parts = append(parts, fmt.Sprintf("%q", semantic.Format(v)))
	}

	return strings.Join(parts, ", ")
}
