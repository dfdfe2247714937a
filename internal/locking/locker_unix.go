//go:build !windows

package locking

import (
	"golang.org/x/sys/unix"
)

// Lock attempts to acquire the file lock. If block is false, the call
// returns immediately with an error if the lock is already held elsewhere.
func (l *Locker) Lock(block bool) error {
	how := unix.LOCK_EX
	if !block {
		how |= unix.LOCK_NB
	}
	return unix.Flock(int(l.file.Fd()), how)
}

// Unlock releases the file lock.
func (l *Locker) Unlock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
