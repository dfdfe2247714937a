//go:build linux

package niceness

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// These constants mirror Linux's <linux/ioprio.h>, which golang.org/x/sys
// does not expose as named constants.
const (
	ioprioWhoProcess      = 1
	ioprioClassShift      = 13
	ioprioClassBestEffort = 2
	ioprioClassIdle       = 3
)

// Set lowers the calling process's I/O scheduling priority to the
// best-effort class at the given level (0 is highest priority within the
// class, 7 is lowest), or to the idle class if level is negative.
func Set(level int) error {
	class := ioprioClassBestEffort
	if level < 0 {
		class = ioprioClassIdle
		level = 0
	}
	value := (class << ioprioClassShift) | level

	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, 0, uintptr(value))
	if errno != 0 {
		return fmt.Errorf("ioprio_set failed: %w", errno)
	}
	return nil
}
