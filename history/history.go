// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package history defines the execution journal of the agent.
package history

import (
	"errors"
	"time"

	"github.com/absmach/mqterm/executor"
	"github.com/google/uuid"
)

// ErrClosed is returned by a Store after Close.
var ErrClosed = errors.New("history store closed")

// Record describes one executed command. Output text is not kept, only
// its size.
type Record struct {
	ID          string        `json:"id"`
	Command     string        `json:"command"`
	Success     bool          `json:"success"`
	ExitCode    int           `json:"exit_code"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	OutputBytes int           `json:"output_bytes"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// NewRecord creates a record for a finished command.
func NewRecord(command string, out executor.Output, startedAt time.Time) Record {
	return Record{
		ID:          uuid.NewString(),
		Command:     command,
		Success:     out.Success,
		ExitCode:    out.ExitCode,
		TimedOut:    out.TimedOut,
		OutputBytes: len(out.Text()),
		StartedAt:   startedAt,
		Duration:    out.Duration,
	}
}

// Store is an append-only execution journal. Implementations are safe for
// concurrent use.
type Store interface {
	Append(r Record) error

	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]Record, error)

	Close() error
}
