package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dukex/sellflow/pkg/cmd"
	"github.com/dukex/sellflow/pkg/log"
	"github.com/dukex/sellflow/pkg/registry"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func StagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "stages",
		Usage: "Inspect stage definitions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print the configured pipeline",
				Flags: append(append(logFlags(), stageFlags()...), &cli.StringFlag{
					Name:  "output",
					Usage: "Output format (table, yaml)",
					Value: "table",
				}),
				Action: func(ctx context.Context, command *cli.Command) error {
					cfg := configFrom(command)
					log.Setup(cfg.LogLevel, cfg.LogFormat)

					if err := cfg.Validate(); err != nil {
						return err
					}

					reg, err := cmd.NewRegistry(log.WithModule("stages"), cfg)
					if err != nil {
						return err
					}

					return printStages(command.Root().Writer, reg, command.String("output"))
				},
			},
			{
				Name:      "validate",
				Usage:     "Check a stages file without starting the server",
				ArgsUsage: "<stages.yaml>",
				Flags:     logFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					cfg := configFrom(command)
					log.Setup(cfg.LogLevel, cfg.LogFormat)

					path := command.Args().First()
					if path == "" {
						return fmt.Errorf("a stages file is required")
					}

					cfg.StagesFile = path

					reg, err := cmd.NewRegistry(log.WithModule("stages"), cfg)
					if err != nil {
						return err
					}

					_, err = fmt.Fprintf(command.Root().Writer, "%s: %d stages OK\n", path, reg.Len())

					return err
				},
			},
		},
	}
}

func printStages(w io.Writer, reg *registry.Registry, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(registry.StagesFile{Stages: reg.Stages()})
	case "table":
		for i, stage := range reg.Stages() {
			var flags []string
			if stage.Challenge != nil {
				flags = append(flags, "challenge")
			}

			if stage.Idempotent {
				flags = append(flags, "idempotent")
			}

			_, err := fmt.Fprintf(w, "%d. %-12s %-28s inputs=%s %s\n",
				i+1, stage.ID, stage.Label, strings.Join(stage.RequiredKeys(), ","), strings.Join(flags, " "))
			if err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
