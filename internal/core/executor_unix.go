//go:build unix

package core

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own group so a timeout kills
// everything the step spawned, not only the shell.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
