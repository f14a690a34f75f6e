package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp(os.Stdout).Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "bidsify",
		Usage:       "Convert raw DICOM acquisitions into a validated BIDS dataset",
		Writer:      stdout,
		HideVersion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Load configuration from YAML file", Sources: cli.EnvVars("BIDSIFY_CONFIG")},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.BoolFlag{Name: "log-json", Usage: "Write JSON log lines instead of console output"},
			&cli.StringFlag{Name: "metrics-file", Usage: "Write Prometheus metrics to this textfile when done"},
		},
		Commands: []*cli.Command{
			runCommand(stdout),
			completeCommand(stdout),
			pruneCommand(stdout),
			configCommand(stdout),
			versionCommand(stdout),
		},
	}
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the bidsify version",
		Action: func(ctx context.Context, c *cli.Command) error {
			_, err := fmt.Fprintf(stdout, "bidsify %s\n", version)
			return err
		},
	}
}
