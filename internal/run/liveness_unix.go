//go:build unix

package run

import (
	"errors"
	"syscall"
)

// pidAlive signal-probes the process with signal 0. EPERM means the
// process exists but we lack rights to signal it, which still counts
// as alive.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
