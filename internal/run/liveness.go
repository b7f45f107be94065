package run

// Prober determines whether a process with a given PID is currently
// alive from the host OS's perspective. Implementations must not
// deliver a disruptive signal.
type Prober interface {
	// Alive returns true when the process exists, including when it
	// exists but cannot be signaled (permission denied). It returns
	// false only when the OS affirmatively reports no such process.
	Alive(pid int) bool
}

// OSProber probes the host OS for process liveness using the
// platform's native mechanism.
type OSProber struct{}

// Alive implements Prober. PIDs that are zero or negative are treated
// as not-yet-launched and never probed.
func (OSProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return pidAlive(pid)
}
