package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dukex/mangotango/pkg/app"
	"github.com/dukex/mangotango/pkg/cmd"
	"github.com/dukex/mangotango/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// env is what every subcommand action works against.
type env struct {
	logger *slog.Logger
	app    *app.App
	out    io.Writer
}

type actionFunc func(ctx context.Context, command *cli.Command, e *env) error

// withEnv opens the store and tracer around action and closes them after.
func withEnv(action actionFunc) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		cfg, err := loadConfig(command.Root())
		if err != nil {
			return err
		}

		logger := log.WithModule("mangotango")

		tracer, shutdown := cmd.NewTracer(ctx, logger, cfg)
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
			}
		}()

		store, err := cmd.NewStore(ctx, logger, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to close storage", "error", err)
			}
		}()

		e := &env{
			logger: logger,
			app:    app.New(logger, store, cmd.NewRegistry(logger), tracer),
			out:    command.Root().Writer,
		}

		return action(ctx, command, e)
	}
}

// args returns exactly n positional arguments or a usage error.
func args(command *cli.Command, names ...string) ([]string, error) {
	if command.Args().Len() != len(names) {
		return nil, fmt.Errorf("%s expects %d argument(s): %s", command.Name, len(names), strings.Join(names, " "))
	}

	return command.Args().Slice(), nil
}
