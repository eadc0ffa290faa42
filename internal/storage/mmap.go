package storage

import (
	"errors"
	"os"
	"sync"
)

// MmapManager errors.
var (
	ErrMmapNotMapped      = errors.New("file is not memory mapped")
	ErrMmapClosed         = errors.New("mmap manager is closed")
	ErrMmapInvalidSize    = errors.New("invalid mmap size")
	ErrMmapPageOutOfRange = errors.New("page ID out of mmap range")
)

// MmapManager maps the database file read-only for zero-copy page reads.
// Writes never go through the mapping; they use the file descriptor and
// become visible through the shared mapping.
type MmapManager struct {
	file     *os.File
	data     []byte // mapped region
	size     int64  // current mapped size
	pageSize int
	mu       sync.RWMutex
	closed   bool
}

// NewMmapManager maps size bytes of file. If size is 0 the current file size is used.
func NewMmapManager(file *os.File, size int64, pageSize int) (*MmapManager, error) {
	if file == nil {
		return nil, ErrFileNotOpen
	}
	if !ValidPageSize(pageSize) {
		return nil, ErrInvalidPageSize
	}

	if size <= 0 {
		info, err := file.Stat()
		if err != nil {
			return nil, err
		}
		size = info.Size()
	}
	if size < int64(pageSize) {
		return nil, ErrMmapInvalidSize
	}

	m := &MmapManager{
		file:     file,
		pageSize: pageSize,
		size:     alignToPageSize(size, pageSize),
	}
	if err := m.mapFile(); err != nil {
		return nil, err
	}
	return m, nil
}

// alignToPageSize rounds size down to a whole number of pages.
func alignToPageSize(size int64, pageSize int) int64 {
	return size - size%int64(pageSize)
}

// Close unmaps the file.
func (m *MmapManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMmapClosed
	}
	m.closed = true
	return m.unmapFile()
}

// View calls fn with the mapped bytes of page id while holding the mapping
// read lock. fn must not retain the slice or write to it.
func (m *MmapManager) View(id PageID, fn func(page []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrMmapClosed
	}
	if m.data == nil {
		return ErrMmapNotMapped
	}

	offset := int64(id) * int64(m.pageSize)
	end := offset + int64(m.pageSize)
	if offset < 0 || end > m.size {
		return ErrMmapPageOutOfRange
	}

	return fn(m.data[offset:end:end])
}

// Remap replaces the mapping with one covering newSize bytes. It waits for
// in-flight View calls to finish.
func (m *MmapManager) Remap(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMmapClosed
	}

	newSize = alignToPageSize(newSize, m.pageSize)
	if newSize <= 0 {
		return ErrMmapInvalidSize
	}
	if newSize == m.size && m.data != nil {
		return nil
	}

	if err := m.unmapFile(); err != nil {
		return err
	}
	m.size = newSize
	return m.mapFile()
}

// Size returns the current mapped size in bytes.
func (m *MmapManager) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// PageCount returns the number of pages in the mapped region.
func (m *MmapManager) PageCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(m.size / int64(m.pageSize))
}

// IsMapped returns true if the file is currently mapped.
func (m *MmapManager) IsMapped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data != nil && !m.closed
}
