package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/mangotango/pkg/config"
	"github.com/dukex/mangotango/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  config.AppName,
		Version:               config.Version,
		EnableShellCompletion: true,
		Usage:                 "Import social media datasets and run analyzers over them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file",
				Sources: cli.EnvVars("MANGOTANGO_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory holding projects and the metadata store",
				Sources: cli.EnvVars("MANGOTANGO_DATA_DIR"),
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "Directory holding the metadata lock file",
				Sources: cli.EnvVars("MANGOTANGO_CACHE_DIR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry spans over OTLP/HTTP",
				Sources: cli.EnvVars("MANGOTANGO_TRACING"),
			},
		},
		Commands: []*cli.Command{
			projectCommand(),
			analysisCommand(),
			settingsCommand(),
			analyzersCommand(),
		},
	}
}

// loadConfig reads the config file and applies the global flags over it.
func loadConfig(command *cli.Command) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	if command.IsSet("data-dir") {
		cfg.DataDir = command.String("data-dir")
	}

	if command.IsSet("cache-dir") {
		cfg.CacheDir = command.String("cache-dir")
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	if command.IsSet("tracing") {
		cfg.Tracing.Enabled = command.Bool("tracing")
	}

	log.Setup(cfg.LogLevel)

	return cfg, nil
}
