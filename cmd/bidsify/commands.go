package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/mrsinham/bidsify/internal/completion"
	"github.com/mrsinham/bidsify/internal/config"
	"github.com/mrsinham/bidsify/internal/logger"
	"github.com/mrsinham/bidsify/internal/metrics"
	"github.com/mrsinham/bidsify/internal/pruning"
	"github.com/mrsinham/bidsify/internal/runner"
	"github.com/mrsinham/bidsify/internal/workflow"
)

// env is what every command needs besides its own flags.
type env struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// setup loads the configuration and builds the logger and metrics. Command
// line flags win over the file.
func setup(c *cli.Command) (*env, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.Bool("log-json") {
		cfg.Log.Pretty = false
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &env{
		cfg:     cfg,
		log:     logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}),
		metrics: metrics.New(),
	}, nil
}

// finish writes the metrics textfile when one is configured.
func (e *env) finish(err error) error {
	if e.cfg.MetricsFile != "" {
		if werr := e.metrics.WriteTextfile(e.cfg.MetricsFile); werr != nil {
			e.log.Warn().Err(werr).Msg("metrics not written")
		}
	}
	return err
}

func runCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Convert, deface, complete, prune and validate one subject",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dicomdir", Aliases: []string{"d"}, Required: true, Usage: "Directory or tar file containing raw data"},
			&cli.StringFlag{Name: "heuristics", Aliases: []string{"f"}, Required: true, Usage: "Heuristic file or built-in heuristic name"},
			&cli.StringFlag{Name: "sub", Aliases: []string{"s"}, Required: true, Usage: "Subject label"},
			&cli.StringFlag{Name: "ses", Aliases: []string{"ss"}, Usage: "Session label"},
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Value: ".", Usage: "Output BIDS directory"},
			&cli.BoolFlag{Name: "no-deface", Usage: "Skip the defacing stage"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			if c.Bool("no-deface") {
				e.cfg.Deface.Enabled = false
			}
			log := logger.Component(e.log, "workflow")

			summary, err := workflow.Run(ctx, workflow.Options{
				Source:    c.String("dicomdir"),
				Heuristic: c.String("heuristics"),
				Subject:   c.String("sub"),
				Session:   c.String("ses"),
				OutputDir: c.String("output-dir"),
				Config:    e.cfg,
				Runner:    &runner.ExecRunner{Stdout: stdout},
				Logger:    &log,
				Metrics:   e.metrics,
			})
			if err != nil {
				return e.finish(err)
			}
			printRunSummary(stdout, summary)
			return e.finish(nil)
		},
	}
}

func completeCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "complete",
		Usage: "Fill IntendedFor, TotalReadoutTime and TaskName in sidecars",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bids-dir", Aliases: []string{"b"}, Required: true, Usage: "BIDS dataset root"},
			&cli.StringSliceFlag{Name: "sub", Aliases: []string{"s"}, Required: true, Usage: "Subject label (repeatable)"},
			&cli.StringFlag{Name: "ses", Aliases: []string{"ss"}, Usage: "Session label"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Recompute fields that are already present"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			log := logger.Component(e.log, "completion")

			report, err := completion.Complete(completion.Options{
				DatasetRoot: c.String("bids-dir"),
				Subjects:    c.StringSlice("sub"),
				Session:     c.String("ses"),
				Overwrite:   c.Bool("overwrite"),
				Logger:      &log,
				Metrics:     e.metrics,
			})
			if err != nil {
				return e.finish(err)
			}
			printCompletionReport(stdout, report)
			return e.finish(nil)
		},
	}
}

func pruneCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Strip sidecars down to the allowed fields",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bids-dir", Aliases: []string{"b"}, Required: true, Usage: "BIDS dataset root"},
			&cli.StringFlag{Name: "sub", Aliases: []string{"s"}, Required: true, Usage: "Subject label"},
			&cli.StringFlag{Name: "ses", Aliases: []string{"ss"}, Usage: "Session label"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			log := logger.Component(e.log, "pruning")

			report, err := pruning.Prune(pruning.Options{
				DatasetRoot: c.String("bids-dir"),
				Subject:     c.String("sub"),
				Session:     c.String("ses"),
				Logger:      &log,
				Metrics:     e.metrics,
			})
			if err != nil {
				return e.finish(err)
			}
			printSummary(stdout, "Pruning", [][2]string{
				{"Sidecars", fmt.Sprint(report.Entries)},
				{"Rewritten", fmt.Sprint(report.Rewritten)},
			})
			return e.finish(nil)
		},
	}
}

func configCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration as YAML",
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			return config.Encode(stdout, e.cfg)
		},
	}
}

func printCompletionReport(w io.Writer, r *completion.Report) {
	rows := [][2]string{
		{"Entries", fmt.Sprint(r.Entries)},
		{"Rewritten", fmt.Sprint(r.Rewritten)},
	}
	fields := make([]string, 0, len(r.Filled))
	for f := range r.Filled {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		rows = append(rows, [2]string{f, fmt.Sprint(r.Filled[f])})
	}
	printSummary(w, "Completion", rows)
}

func printRunSummary(w io.Writer, s *workflow.Summary) {
	rows := [][2]string{{"Defaced", fmt.Sprint(len(s.Defaced))}}
	if s.Completion != nil {
		rows = append(rows, [2]string{"Completed", fmt.Sprintf("%d/%d rewritten", s.Completion.Rewritten, s.Completion.Entries)})
	}
	if s.Pruning != nil {
		rows = append(rows, [2]string{"Pruned", fmt.Sprintf("%d/%d rewritten", s.Pruning.Rewritten, s.Pruning.Entries)})
	}
	rows = append(rows,
		[2]string{"Validator", s.Validator},
		[2]string{"Participants", fmt.Sprint(s.Participants)},
		[2]string{"Duration", s.Duration.Round(time.Millisecond).String()},
	)
	printSummary(w, "bidsify", rows)
}
