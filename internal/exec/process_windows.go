//go:build windows

package exec

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in a new process group via
// CREATE_NEW_PROCESS_GROUP so killProcessGroup can reach the whole tree.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// killProcessGroup terminates the child process. Windows process-group
// signaling differs from POSIX; killing the direct child is the equivalent
// available without shelling out to taskkill.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
