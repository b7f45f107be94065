package run

import "errors"

// Sentinel errors for the run lifecycle. The HTTP layer maps these to
// status codes with errors.Is.
var (
	// ErrRunNotFound is returned when an operation references a run
	// that does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by Create when the run directory
	// already exists.
	ErrRunExists = errors.New("run already exists")

	// ErrInvalidState is returned when an operation is attempted while
	// the run is in a state that forbids it.
	ErrInvalidState = errors.New("run is in an invalid state for this operation")

	// ErrSpawn is returned by Execute when the subprocess launch
	// itself fails. The run is left in FAILED with the launch error
	// recorded in the status message.
	ErrSpawn = errors.New("run process launch failed")
)
