//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr makes the kernel send SIGTERM to the host when the
// test binary dies, so an aborted test run leaves no orphaned hosts.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
}
