//go:build !windows

package storage

import "golang.org/x/sys/unix"

// lockFile takes a non-blocking exclusive advisory lock on fd. This does
// not provide cross-process mutual exclusion beyond what flock(2) itself
// offers; a failed acquisition is not a KindAccessDenied condition in its
// own right, since exclusivity enforcement is not the core's concern.
func lockFile(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
}
