//go:build windows

package worker

import (
	"os/exec"
	"syscall"
)

const _CREATE_NEW_PROCESS_GROUP = 0x00000200

func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: _CREATE_NEW_PROCESS_GROUP,
	}
}

// killPlatform terminates the worker. The fetch worker spawns no children.
func killPlatform(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
