package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	cli "github.com/urfave/cli/v3"
)

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change persisted settings",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the persisted settings",
				Action: withEnv(showSettings),
			},
			{
				Name:      "set-chunk-size",
				Usage:     "Rows per exported file; 0 exports a single file, \"unset\" forgets the choice",
				ArgsUsage: "<rows|unset>",
				Action:    withEnv(setChunkSize),
			},
		},
	}
}

func showSettings(ctx context.Context, _ *cli.Command, e *env) error {
	settings, err := e.app.Store().Settings(ctx)
	if err != nil {
		return err
	}

	chunk := "unset"
	switch {
	case settings.ExportChunkSize == nil:
	case *settings.ExportChunkSize == 0:
		chunk = "0 (single file)"
	default:
		chunk = strconv.Itoa(*settings.ExportChunkSize)
	}

	w := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "data_dir\t%s\n", e.app.Store().DataDir())
	fmt.Fprintf(w, "export_chunk_size\t%s\n", chunk)

	return w.Flush()
}

func setChunkSize(ctx context.Context, command *cli.Command, e *env) error {
	a, err := args(command, "<rows|unset>")
	if err != nil {
		return err
	}

	settings, err := e.app.Store().Settings(ctx)
	if err != nil {
		return err
	}

	if a[0] == "unset" {
		settings.ExportChunkSize = nil
	} else {
		size, err := strconv.Atoi(a[0])
		if err != nil || size < 0 {
			return fmt.Errorf("chunk size must be a non-negative integer or \"unset\", got %q", a[0])
		}

		settings.ExportChunkSize = &size
	}

	return e.app.Store().SaveSettings(ctx, settings)
}
