//go:build windows

package run

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// detachedProcAttr creates the child in a new process group, the
// Windows analogue of detaching from the server's signal group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}
