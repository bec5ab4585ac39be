// Package execrun provides process execution with captured output and
// timeout handling. The quality gate, git client, container runtime and the
// run_command tool all shell out through a Runner, so tests can substitute a
// fake without spawning processes.
package execrun

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result captures the outcome of a command execution.
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	TimedOut   bool   `json:"timedOut"`
	DurationMs int64  `json:"durationMs"`
}

// Combined returns stdout and stderr joined for log surfaces that want a
// single stream.
func (r *Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes a command and returns its captured result. A non-zero exit
// code is reported through Result.ExitCode, not through the error: the error
// is reserved for failures to run the command at all.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (*Result, error)
}

// LocalRunner executes commands on the host with os/exec.
type LocalRunner struct {
	// Env, when non-nil, replaces the child process environment.
	Env []string
}

// NewLocalRunner returns a Runner backed by the host.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes the command in dir, honoring ctx cancellation and deadline.
func (r *LocalRunner) Run(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if r.Env != nil {
		cmd.Env = r.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if ctx.Err() != nil {
		result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, err
	}
	return result, nil
}
