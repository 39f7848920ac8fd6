//go:build !windows

package dap

import (
	"os/exec"
	"syscall"
)

// killProcessGroup kills a process and everything in its process group, so
// debuggee children spawned by the adapter die with it. Requires the process
// to have been started with setProcAttr.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			// ESRCH: already gone.
			if err != syscall.ESRCH {
				return err
			}
		}
	} else if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				return err
			}
		}
	}
	return nil
}

// setProcAttr puts the child in its own session so it leads a fresh process
// group.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
