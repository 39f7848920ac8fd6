package dap

import (
	"fmt"
	"os/exec"
	"time"
)

// CmdHandle adapts an *exec.Cmd to the ProcessHandle collaborator interface.
// Terminate kills the whole process group so adapter-spawned debuggee
// children die with the adapter.
type CmdHandle struct {
	cmd *exec.Cmd
	pid int
}

// NewCmdHandle wraps a started command.
func NewCmdHandle(cmd *exec.Cmd) *CmdHandle {
	h := &CmdHandle{cmd: cmd}
	if cmd != nil && cmd.Process != nil {
		h.pid = cmd.Process.Pid
	}
	return h
}

// PID returns the process id, or 0 if the process never started.
func (h *CmdHandle) PID() int { return h.pid }

// Terminate kills the process group.
func (h *CmdHandle) Terminate() error {
	return killProcessGroup(h.pid, h.cmd)
}

// Wait blocks until the process exits or the timeout elapses.
func (h *CmdHandle) Wait(timeout time.Duration) (int, error) {
	if h.cmd == nil {
		return 0, fmt.Errorf("no process")
	}
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		if err != nil {
			return 0, err
		}
		return h.cmd.ProcessState.ExitCode(), nil
	case <-timer.C:
		return 0, fmt.Errorf("process did not exit within %s", timeout)
	}
}
