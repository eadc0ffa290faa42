//go:build unix

package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrDatabaseAlreadyOpen is returned when another handle holds the file lock.
var ErrDatabaseAlreadyOpen = errors.New("database is already open")

// lockFile takes a non-blocking advisory lock on the database file: exclusive
// for read-write handles, shared for read-only ones.
func lockFile(f *os.File, readOnly bool) error {
	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrDatabaseAlreadyOpen
	}
	return err
}

// unlockFile releases the advisory lock.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// isNoSpace reports whether err means the filesystem or the file size limit
// was exhausted.
func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EFBIG) || errors.Is(err, unix.EDQUOT)
}
