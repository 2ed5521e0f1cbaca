// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the shell
// has exited, e.g. when a detached child still holds them open.
const waitDelay = 2 * time.Second

// Result is the raw outcome of a shell command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Success  bool
	TimedOut bool
	Duration time.Duration
}

// Runner executes text as a shell command and captures its streams and
// exit status. A non-zero exit is reported through Result, not as an error.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
}

// ShellRunner runs commands through the host command interpreter.
type ShellRunner struct{}

var _ Runner = ShellRunner{}

// Run implements Runner. The process is killed when ctx is done.
func (ShellRunner) Run(ctx context.Context, command string) (Result, error) {
	name, args := shellCommand(command)

	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
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
	if err == nil {
		res.Success = true
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return res, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The shell itself exited; only the pipes were left dangling.
		res.ExitCode = cmd.ProcessState.ExitCode()
		res.Success = cmd.ProcessState.Success()
		return res, nil
	}

	return res, fmt.Errorf("%w: %s: %w", ErrSpawn, name, err)
}
