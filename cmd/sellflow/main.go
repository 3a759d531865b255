// Package main provides the sellflow command line: the run API server plus stage and
// event tooling.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "sellflow",
		Usage:                 "Guide products through staged marketplace onboarding",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			ServeCommand(),
			StagesCommand(),
			EventsCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
