// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package executor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func shellCommand(command string) (string, []string) {
	return "sh", []string{"-c", command}
}

// setProcessGroup starts the shell in its own process group and makes
// cancellation kill the whole group, including background children.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
