// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package executor

import "errors"

// Executor errors.
var (
	// ErrSpawn means the shell process could not be started at all.
	ErrSpawn = errors.New("failed to execute command")

	// ErrEncoding means captured output is not valid UTF-8 in strict mode.
	ErrEncoding = errors.New("command output is not valid UTF-8")
)
