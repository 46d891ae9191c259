//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"syscall"
)

// processAlive probes whether a process with the given pid exists, using
// signal 0 (no signal is delivered). EPERM means the process exists but
// belongs to another user; any other failure is treated as "not alive".
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
