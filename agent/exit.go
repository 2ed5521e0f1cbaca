// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"

	"github.com/absmach/mqterm/connection"
)

// Process exit statuses.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// ExitCode maps the terminal error of a run to the process exit status.
// Exhausted reconnection is an orderly stop.
func ExitCode(err error) int {
	switch {
	case err == nil,
		errors.Is(err, connection.ErrReconnectExhausted),
		errors.Is(err, context.Canceled):
		return ExitOK
	default:
		return ExitFatal
	}
}
