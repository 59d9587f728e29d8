//go:build unix

package worker

import (
	"os/exec"
	"syscall"
)

// setPlatformProcessAttrs puts the worker in its own process group so a
// timeout kill takes anything it spawned with it.
func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killPlatform sends SIGKILL to the worker's process group.
func killPlatform(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
