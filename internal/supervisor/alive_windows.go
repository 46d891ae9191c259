//go:build windows

package supervisor

import "os"

// processAlive probes whether a process with the given pid exists. On
// Windows FindProcess opens a real handle, so an error means the process
// is gone.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
