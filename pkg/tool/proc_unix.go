//go:build unix

package tool

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts cmd in its own process group so cancellation
// kills every process the tool spawned, not just the direct child.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
