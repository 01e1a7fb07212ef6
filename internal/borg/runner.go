package borg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"borg-tool/internal/logging"
)

// Invocation is one external borg call.
type Invocation struct {
	Binary string
	Args   []string
	// Env is added to the inherited environment of the child. It carries the
	// passphrase and is never logged.
	Env []string
	Dir string
}

// Result is what a finished process left behind. A non-zero ExitCode is not
// an error at this level; Execute only fails when the process cannot run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner executes invocations. ExecRunner runs real processes and FakeRunner
// answers from a script.
type Runner interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// ExecRunner runs borg as a child process and blocks until it exits.
// Running calls are not cancelled through ctx.
type ExecRunner struct {
	Stdin  io.Reader
	logger *logging.Logger
}

// NewExecRunner returns a runner that inherits the terminal's stdin so borg
// can ask its own confirmation questions.
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExecRunner{Stdin: os.Stdin, logger: logger}
}

// Execute implements Runner.
func (r *ExecRunner) Execute(ctx context.Context, inv Invocation) (Result, error) {
	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Dir = inv.Dir
	cmd.Stdin = r.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		err = nil
	default:
		res.ExitCode = -1
	}

	r.logger.LogEngineInvocation(ctx, inv.Binary, inv.Args, res.ExitCode, res.Duration, err)
	return res, err
}
