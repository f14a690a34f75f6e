// Package workflow drives one subject/session from raw DICOM to a validated
// BIDS dataset: convert, deface, complete, prune, validate, clean up and
// record demographics.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsinham/bidsify/internal/completion"
	"github.com/mrsinham/bidsify/internal/config"
	"github.com/mrsinham/bidsify/internal/dicom"
	"github.com/mrsinham/bidsify/internal/logger"
	"github.com/mrsinham/bidsify/internal/metrics"
	"github.com/mrsinham/bidsify/internal/participants"
	"github.com/mrsinham/bidsify/internal/pruning"
	"github.com/mrsinham/bidsify/internal/runner"
)

const (
	bidsIgnoreName   = ".bidsignore"
	bidsIgnore       = ".heudiconv/\ntmp/\nvalidator.txt\n"
	validatorReport  = "validator.txt"
	participantsFile = "participants.tsv"
	scratchDir       = "tmp"
	converterDir     = ".heudiconv"
)

// BuiltinHeuristics are the heuristic names the converter ships with.
var BuiltinHeuristics = []string{
	"banda-bids", "bids_with_ses", "cmrr_heuristic", "convertall", "example",
	"multires_7Tbold", "reproin", "studyforrest_phase2", "test_reproin", "uc_bids",
}

// Options configures a workflow run.
type Options struct {
	// Source is a DICOM directory or a .tar/.tar.gz/.tgz archive.
	Source    string
	Heuristic string
	Subject   string
	Session   string
	OutputDir string

	Config config.Config
	// Runner executes external tools; defaults to runner.NewExecRunner().
	Runner runner.Runner
	// Shape overrides image geometry reads during completion.
	Shape   completion.ShapeFunc
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Summary reports what a run did.
type Summary struct {
	Defaced      []string
	Completion   *completion.Report
	Pruning      *pruning.Report
	Validator    string
	Participants bool
	Duration     time.Duration
}

// plan holds the validated inputs of a run.
type plan struct {
	sourceFlag string
	sourceArg  string
	heuristic  string
	subject    string
	session    string
	out        string
	scratch    string
}

// Run executes every stage in order and stops at the first failure.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	log := logger.OrNop(opts.Logger)
	if opts.Runner == nil {
		opts.Runner = runner.NewExecRunner()
	}

	p, err := validate(opts)
	if err != nil {
		return nil, err
	}
	summary := &Summary{}
	log.Info().
		Str("source", opts.Source).
		Str("subject", p.subject).
		Str("session", p.session).
		Str("output", p.out).
		Msg("bidsify started")

	if err := prepare(p); err != nil {
		return summary, err
	}

	stage := func(name string, fn func() error) error {
		t := time.Now()
		log.Info().Str("stage", name).Msg("stage started")
		err := fn()
		opts.Metrics.ObserveStage(name, t)
		if err != nil {
			log.Error().Err(err).Str("stage", name).Msg("stage failed")
			return err
		}
		log.Info().Str("stage", name).Dur("took", time.Since(t)).Msg("stage finished")
		return nil
	}

	if err := stage("convert", func() error { return convert(ctx, opts, p) }); err != nil {
		return summary, err
	}
	if opts.Config.Deface.Enabled {
		if err := stage("deface", func() error {
			summary.Defaced, err = deface(ctx, opts, p)
			return err
		}); err != nil {
			return summary, err
		}
	}
	if err := stage("complete", func() error {
		summary.Completion, err = completion.Complete(completion.Options{
			DatasetRoot:    p.out,
			Subjects:       []string{p.subject},
			Session:        p.session,
			Overwrite:      true,
			RequireEntries: true,
			Shape:          opts.Shape,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
		})
		return err
	}); err != nil {
		return summary, err
	}
	if err := stage("prune", func() error {
		summary.Pruning, err = pruning.Prune(pruning.Options{
			DatasetRoot: p.out,
			Subject:     p.subject,
			Session:     p.session,
			Logger:      opts.Logger,
			Metrics:     opts.Metrics,
		})
		return err
	}); err != nil {
		return summary, err
	}
	if err := stage("validate", func() error {
		summary.Validator, err = validateDataset(ctx, opts, p)
		return err
	}); err != nil {
		return summary, err
	}
	if err := stage("cleanup", func() error { return cleanup(p, log) }); err != nil {
		return summary, err
	}
	if err := stage("participants", func() error {
		summary.Participants, err = updateParticipants(opts, p)
		return err
	}); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(start)
	log.Info().Dur("took", summary.Duration).Msg("bidsify finished")
	return summary, nil
}

func validate(opts Options) (*plan, error) {
	p := &plan{
		subject: strings.TrimPrefix(strings.TrimSpace(opts.Subject), "sub-"),
		session: strings.TrimPrefix(strings.TrimSpace(opts.Session), "ses-"),
		out:     opts.OutputDir,
	}
	if p.subject == "" {
		return nil, &ConfigurationError{Field: "subject", Reason: "a subject label is required"}
	}
	if p.out == "" {
		return nil, &ConfigurationError{Field: "output", Reason: "an output directory is required"}
	}

	heuristic, err := resolveHeuristic(opts.Heuristic)
	if err != nil {
		return nil, err
	}
	p.heuristic = heuristic

	kind, err := dicom.Classify(opts.Source)
	if err != nil {
		return nil, &ConfigurationError{Field: "source", Reason: err.Error()}
	}
	switch kind {
	case dicom.SourceDirectory:
		p.sourceFlag, p.sourceArg = "--files", opts.Source
	case dicom.SourceArchive:
		p.sourceFlag, p.sourceArg = "-d", archiveTemplate(opts.Source, p.subject, p.session)
	default:
		return nil, &ConfigurationError{
			Field:  "source",
			Reason: fmt.Sprintf("%s must be a directory or a .tar, .tar.gz or .tgz archive", opts.Source),
		}
	}

	p.scratch = filepath.Join(p.out, scratchDir, p.subject)
	if p.session != "" {
		p.scratch = filepath.Join(p.scratch, p.session)
	}
	return p, nil
}

// resolveHeuristic accepts an existing file or a built-in heuristic name.
func resolveHeuristic(h string) (string, error) {
	if h == "" {
		return "", &ConfigurationError{Field: "heuristic", Reason: "a heuristic file or name is required"}
	}
	if info, err := os.Stat(h); err == nil && info.Mode().IsRegular() {
		return h, nil
	}
	for _, name := range BuiltinHeuristics {
		if h == name {
			return h, nil
		}
	}
	return "", &ConfigurationError{
		Field:  "heuristic",
		Reason: fmt.Sprintf("%q is neither an existing file nor one of %s", h, strings.Join(BuiltinHeuristics, ", ")),
	}
}

// archiveTemplate turns an archive path into the converter's path template
// by substituting the subject and session labels.
func archiveTemplate(path, subject, session string) string {
	tmpl := strings.ReplaceAll(path, subject, "{subject}")
	if session != "" {
		tmpl = strings.ReplaceAll(tmpl, session, "{session}")
	}
	return tmpl
}

func prepare(p *plan) error {
	if err := os.MkdirAll(p.scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	ignore := filepath.Join(p.out, bidsIgnoreName)
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignore, []byte(bidsIgnore), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", bidsIgnoreName, err)
		}
	} else if err != nil {
		return err
	}
	return nil
}

func (p *plan) env() map[string]string {
	return map[string]string{"TMPDIR": p.scratch}
}

func run(ctx context.Context, opts Options, cmd runner.Command) (runner.Result, error) {
	res, err := opts.Runner.Run(ctx, cmd)
	opts.Metrics.IncTool(filepath.Base(cmd.Name), err)
	return res, err
}

func convert(ctx context.Context, opts Options, p *plan) error {
	args := []string{p.sourceFlag, p.sourceArg, "-s", p.subject}
	if p.session != "" {
		args = append(args, "-ss", p.session)
	}
	args = append(args,
		"-f", p.heuristic,
		"-c", "dcm2niix",
		"-o", p.out,
		"--bids", "--overwrite", "--minmeta",
	)
	_, err := run(ctx, opts, runner.Command{Name: opts.Config.Tools.Converter, Args: args, Env: p.env()})
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	return nil
}

// subjectDir is sub-<id>[/ses-<id>] under the output directory.
func (p *plan) subjectDir() string {
	dir := filepath.Join(p.out, "sub-"+p.subject)
	if p.session != "" {
		dir = filepath.Join(dir, "ses-"+p.session)
	}
	return dir
}

func deface(ctx context.Context, opts Options, p *plan) ([]string, error) {
	images, err := filepath.Glob(filepath.Join(p.subjectDir(), "anat", "*.nii.gz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(images)

	for _, img := range images {
		_, err := run(ctx, opts, runner.Command{
			Name: opts.Config.Tools.Defacer,
			Args: []string{img, opts.Config.Deface.Talairach, opts.Config.Deface.Face, img},
			Env:  p.env(),
		})
		if err != nil {
			return nil, fmt.Errorf("deface %s: %w", img, err)
		}
	}
	return images, nil
}

// validateDataset runs the validator and stores its output in the dataset,
// even when validation fails.
func validateDataset(ctx context.Context, opts Options, p *plan) (string, error) {
	report := filepath.Join(p.out, validatorReport)
	res, runErr := run(ctx, opts, runner.Command{
		Name:  opts.Config.Tools.Validator,
		Args:  []string{p.out, "--ignoreWarnings"},
		Env:   p.env(),
		Quiet: true,
	})
	if err := os.WriteFile(report, res.Output, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", validatorReport, err)
	}
	if runErr != nil {
		return report, fmt.Errorf("validate: %w", runErr)
	}
	return report, nil
}

// cleanup removes the per-subject scratch and converter state, then the
// shared parents once they are empty.
func cleanup(p *plan, log *zerolog.Logger) error {
	conv := filepath.Join(p.out, converterDir, p.subject)
	targets := []string{p.scratch, conv}
	parents := []string{filepath.Join(p.out, scratchDir), filepath.Join(p.out, converterDir)}
	if p.session != "" {
		targets[1] = filepath.Join(conv, "ses-"+p.session)
		parents = append([]string{filepath.Join(p.out, scratchDir, p.subject), conv}, parents...)
	}

	for _, dir := range targets {
		log.Debug().Str("path", dir).Msg("removing temp directory")
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	for _, dir := range parents {
		if err := removeIfEmpty(dir); err != nil {
			return err
		}
	}
	return nil
}

func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// updateParticipants merges the subject's demographics when the dataset
// carries a participants.tsv.
func updateParticipants(opts Options, p *plan) (bool, error) {
	path := filepath.Join(p.out, participantsFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	header, err := dicom.ReadFirstHeader(opts.Source)
	if err != nil {
		return false, fmt.Errorf("read demographics: %w", err)
	}
	err = participants.Update(participants.Options{
		Path:    path,
		Subject: p.subject,
		Source:  header,
		Extra:   opts.Config.Participants.Columns,
		Logger:  opts.Logger,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
