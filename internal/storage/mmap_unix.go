//go:build unix

package storage

import (
	"golang.org/x/sys/unix"
)

// mapFile maps the file read-only and shared so that pwrite'd pages show up
// in the mapping without remapping.
func (m *MmapManager) mapFile() error {
	if m.data != nil {
		return nil
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(m.size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

// unmapFile unmaps the memory-mapped region.
func (m *MmapManager) unmapFile() error {
	if m.data == nil {
		return nil
	}

	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Advise provides hints to the kernel about expected access patterns.
func (m *MmapManager) Advise(advice int) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrMmapClosed
	}
	if m.data == nil {
		return ErrMmapNotMapped
	}
	return unix.Madvise(m.data, advice)
}

// MadviseRandom hints that pages will be accessed randomly, which is the
// access pattern of B-tree descents.
func (m *MmapManager) MadviseRandom() error {
	return m.Advise(unix.MADV_RANDOM)
}

// MadviseSequential hints that pages will be read in order, as during
// backups and integrity checks.
func (m *MmapManager) MadviseSequential() error {
	return m.Advise(unix.MADV_SEQUENTIAL)
}
