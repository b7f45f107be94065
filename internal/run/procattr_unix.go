//go:build unix

package run

import "syscall"

// detachedProcAttr puts the child in its own process group so signals
// aimed at the server (Ctrl-C, SIGTERM to the group) don't take the
// run down with it.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
