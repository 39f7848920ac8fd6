//go:build windows

package dap

import (
	"os/exec"
	"syscall"
)

// killProcessGroup kills the adapter process. Windows has no Unix-style
// process groups; the CREATE_NEW_PROCESS_GROUP flag set at spawn time keeps
// console signals from leaking into children.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				return err
			}
		}
	}
	return nil
}

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
