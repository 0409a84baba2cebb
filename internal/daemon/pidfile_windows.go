//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// Windows has no SIGTERM delivery; both steps kill.
var (
	terminateSignal = syscall.SIGKILL
	killSignal      = syscall.SIGKILL
)

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
