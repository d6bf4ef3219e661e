// Package runner executes external programs with a hard wall-clock timeout,
// captures their output and classifies how they failed.
//
// Arguments are always handed to the program as discrete argv entries; no
// shell is involved, so argument values can never change which program runs.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a command when Options.Timeout is zero.
const DefaultTimeout = 180 * time.Second

// waitDelay is how long Wait keeps waiting for the output pipes to close
// after the process group has been killed.
const waitDelay = 2 * time.Second

// Options controls a single command invocation.
type Options struct {
	// Dir is the working directory of the child. Empty means the current
	// directory of this process.
	Dir string
	// Env is the complete environment of the child. A nil slice yields an
	// empty environment; the ambient environment is never inherited.
	Env []string
	// Timeout is the hard wall-clock limit. Zero selects DefaultTimeout.
	Timeout time.Duration
}

// Result is returned when a command exits with status 0.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes external commands. *Exec is the production implementation.
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts Options) (*Result, error)
}

// Option configures an Exec.
type Option func(*Exec)

// WithLogger sets the structured logger used for command lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exec) {
		e.logger = logger
	}
}

// Exec runs commands as child processes of the current process.
type Exec struct {
	logger *slog.Logger
}

var _ Runner = (*Exec)(nil)

// New returns an Exec runner.
func New(opts ...Option) *Exec {
	e := &Exec{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Run starts name with args and waits for it to finish. On success it
// returns a *Result; otherwise the error is always a *Failure carrying
// whatever output was captured.
func (e *Exec) Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	display := commandLine(name, args)
	env := opts.Env
	if env == nil {
		env = []string{}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// Start refuses a context that is already done; that is the
		// caller's cancellation, not a broken command.
		if ctx.Err() != nil {
			e.logger.Warn("command canceled before start", "command", display)
			return nil, &Failure{Kind: KindCanceled, Command: display, Err: err}
		}
		e.logger.Warn("command failed to start", "command", display, "error", err)
		return nil, &Failure{Kind: KindSpawn, Command: display, Err: err}
	}
	e.logger.Debug("command started", "command", display, "pid", cmd.Process.Pid, "dir", opts.Dir)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	if waitErr == nil {
		e.logger.Debug("command finished", "command", display, "duration", elapsed)
		return &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	f := &Failure{
		Command: display,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Err:     waitErr,
	}
	switch {
	case ctx.Err() != nil:
		f.Kind = KindCanceled
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		f.Kind = KindTimeout
		f.Err = fmt.Errorf("no exit after %s: %w", timeout, waitErr)
	default:
		f.Kind = KindNonZeroExit
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if code := exitErr.ExitCode(); code >= 0 {
				f.ExitCode = &code
			}
		}
	}
	e.logger.Warn("command failed",
		"command", display,
		"kind", f.Kind.String(),
		"exit_code", f.exitCodeString(),
		"duration", elapsed,
	)
	return nil, f
}

// commandLine renders name and args for logs and diagnostics only.
func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
