package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncData flushes file data (not metadata that is not needed to read it back).
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
