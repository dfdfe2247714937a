package process

import (
	"errors"
	"os/exec"
)

// ExitCode extracts the process exit code from an error returned by
// (*exec.Cmd).Wait, or ok=false if the error isn't an *exec.ExitError.
func ExitCode(err error) (code int, ok bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// IsNotFound returns whether or not an error from starting a command
// indicates that the executable could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
