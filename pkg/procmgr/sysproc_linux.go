//go:build linux

package procmgr

import (
	"os"
	"os/exec"
	"syscall"
)

// applySysProcAttr puts the worker in its own process group and asks the
// kernel to SIGTERM it if the launcher dies.
func applySysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// signalGroup delivers sig to the worker's whole process group so children
// it forked stop with it. The leader alone is signalled if the group is gone.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-proc.Pid, sig); err == nil {
		return nil
	}
	return proc.Signal(sig)
}
