//go:build unix

// Package osutil holds the platform specific pieces of running child
// processes such as git.
package osutil

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup runs the command in its own process group so that helpers
// it spawns (git remote helpers, ssh, credential helpers) can be killed with it.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// SetProcessGroupKill makes context cancellation kill the whole process group.
// Must be called after SetProcessGroup and before cmd.Start().
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
