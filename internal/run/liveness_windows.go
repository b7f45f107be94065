//go:build windows

package run

import (
	"golang.org/x/sys/windows"
)

// stillActive is the exit code reported for processes that have not
// terminated (STILL_ACTIVE).
const stillActive = 259

// pidAlive opens the process handle with query-only access. An open
// failure with access-denied still means the process exists.
func pidAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return err == windows.ERROR_ACCESS_DENIED
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return true
	}
	return code == stillActive
}
