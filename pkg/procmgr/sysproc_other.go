//go:build !linux

package procmgr

import (
	"os"
	"os/exec"
	"syscall"
)

func applySysProcAttr(cmd *exec.Cmd) {}

func signalGroup(proc *os.Process, sig syscall.Signal) error {
	return proc.Signal(sig)
}
