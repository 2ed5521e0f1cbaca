// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package executor

import "os/exec"

func shellCommand(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

func setProcessGroup(cmd *exec.Cmd) {}
