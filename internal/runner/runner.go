// Package runner invokes the external tools of the pipeline (converter,
// defacer, validator) as blocking child processes.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Env is added on top of the current process environment.
	Env map[string]string
	Dir string
	// Quiet disables line streaming; output is still captured.
	Quiet bool
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Output   []byte // combined stdout and stderr
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// NonZeroExitError reports a command that exited with a non-zero status.
type NonZeroExitError struct {
	Command  string
	ExitCode int
	Output   []byte
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("non zero return code: %d\n%s\n\n%s", e.ExitCode, e.Command, e.Output)
}

// ExecRunner runs commands with os/exec, streaming each output line to
// Stdout as soon as it is produced.
type ExecRunner struct {
	Stdout io.Writer
}

// NewExecRunner creates a runner that streams to os.Stdout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout}
}

// Run executes cmd and waits for it. A non-zero exit returns both the
// result and a *NonZeroExitError carrying the captured output.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)

	pr, pw := io.Pipe()
	c.Stdout = pw
	c.Stderr = pw

	if err := c.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", cmd.Name, err)
	}

	var captured bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- r.stream(pr, &captured, cmd.Quiet)
	}()

	waitErr := c.Wait()
	_ = pw.Close()
	streamErr := <-done

	res := Result{ExitCode: c.ProcessState.ExitCode(), Output: captured.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &NonZeroExitError{Command: cmd.String(), ExitCode: res.ExitCode, Output: res.Output}
		}
		return res, fmt.Errorf("run %s: %w", cmd.Name, waitErr)
	}
	if streamErr != nil {
		return res, fmt.Errorf("read output of %s: %w", cmd.Name, streamErr)
	}
	return res, nil
}

func (r *ExecRunner) stream(src io.Reader, captured *bytes.Buffer, quiet bool) error {
	br := bufio.NewReader(src)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			captured.Write(line)
			if !quiet && r.Stdout != nil {
				_, _ = r.Stdout.Write(line)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// mergeEnv overrides or appends the entries of extra to base.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
