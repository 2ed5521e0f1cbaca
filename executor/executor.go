// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package executor runs command text through the host shell and turns the
// captured streams into publishable text.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Config configures an Executor.
type Config struct {
	// Timeout kills a command that runs longer. Zero waits forever.
	Timeout time.Duration

	// Strict rejects output that is not valid UTF-8 with ErrEncoding.
	// Otherwise invalid sequences are replaced with U+FFFD.
	Strict bool
}

// Output is the decoded outcome of a command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
	TimedOut bool
	Duration time.Duration
}

// Text returns the stream that is reported back: stdout for a successful
// command, stderr otherwise.
func (o Output) Text() string {
	if o.Success {
		return o.Stdout
	}
	return o.Stderr
}

// Executor executes commands sequentially through a Runner.
type Executor struct {
	runner Runner
	cfg    Config
	logger *slog.Logger
}

// New creates a new Executor. A nil runner uses the host shell.
func New(runner Runner, cfg Config, logger *slog.Logger) *Executor {
	if runner == nil {
		runner = ShellRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Execute runs command and decodes its output.
//
// Cancelling ctx does not interrupt a running command; only the configured
// timeout does.
func (e *Executor) Execute(ctx context.Context, command string) (Output, error) {
	runCtx := context.WithoutCancel(ctx)
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, e.cfg.Timeout)
		defer cancel()
	}

	e.logger.Debug("Executing command", slog.String("command", command))

	res, err := e.runner.Run(runCtx, command)
	if err != nil {
		return Output{}, err
	}

	stdout, err := e.decode("stdout", res.Stdout)
	if err != nil {
		return Output{}, fmt.Errorf("command %q: %w", command, err)
	}
	stderr, err := e.decode("stderr", res.Stderr)
	if err != nil {
		return Output{}, fmt.Errorf("command %q: %w", command, err)
	}

	out := Output{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: res.ExitCode,
		Success:  res.Success && !res.TimedOut,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}
	if out.TimedOut {
		out.Stderr += fmt.Sprintf("command timed out after %s\n", e.cfg.Timeout)
		e.logger.Warn("Command timed out",
			slog.String("command", command),
			slog.Duration("timeout", e.cfg.Timeout))
	}

	e.logger.Debug("Command finished",
		slog.String("command", command),
		slog.Bool("success", out.Success),
		slog.Int("exit_code", out.ExitCode),
		slog.Duration("duration", out.Duration))

	return out, nil
}

func (e *Executor) decode(stream string, b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	if e.cfg.Strict {
		return "", fmt.Errorf("%w: %s", ErrEncoding, stream)
	}

	e.logger.Warn("Replacing invalid UTF-8 in command output", slog.String("stream", stream))
	return strings.ToValidUTF8(string(b), string(utf8.RuneError)), nil
}
