package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
)

// Growth parameters for the database file.
const (
	DefaultInitialPages = 16
	MinGrowthPages      = 16
	MaxGrowthBytes      = 64 << 20
)

// Errors for PageManager operations.
var (
	ErrFileNotOpen    = errors.New("file not open")
	ErrFileClosed     = errors.New("page manager is closed")
	ErrPageOutOfRange = errors.New("page ID out of range")
	ErrReadOnly       = errors.New("database is opened read-only")
)

// Options configures the PageManager.
type Options struct {
	PageSize          int   // Page size for new files (default: 4096)
	InitialPages      int   // Initial file size in pages for new files
	CreateIfNotExists bool  // Create the file if it doesn't exist
	ReadOnly          bool  // Open read-only with a shared lock
	MaxSize           int64 // Maximum file size in bytes, 0 for unlimited
	Logger            logging.Logger
}

// DefaultOptions returns the default PageManager options.
func DefaultOptions() Options {
	return Options{
		PageSize:          DefaultPageSize,
		InitialPages:      DefaultInitialPages,
		CreateIfNotExists: true,
	}
}

// PageManager owns the database file: the lock, the read-only mapping used
// for page reads, positional writes, growth and syncing. It keeps no
// allocation state; see Allocator.
type PageManager struct {
	file     *os.File
	mmap     *MmapManager
	path     string
	pageSize int
	pages    uint64 // file length in pages
	maxSize  int64
	readOnly bool
	created  bool
	meta     MetaChoice
	logger   logging.Logger

	mu     sync.Mutex // serializes growth and truncation
	closed bool
}

// OpenPageManager opens or creates the database file at path and recovers
// the current metapage.
func OpenPageManager(path string, opts Options) (*PageManager, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if !ValidPageSize(opts.PageSize) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, opts.PageSize)
	}
	if opts.InitialPages < MetaSlots {
		opts.InitialPages = DefaultInitialPages
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioErr("stat", path, err)
	}
	if !exists && (!opts.CreateIfNotExists || opts.ReadOnly) {
		return nil, ioErr("open", path, os.ErrNotExist)
	}

	flags := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, ioErr("open", path, err)
	}

	pm := &PageManager{
		file:     file,
		path:     path,
		maxSize:  opts.MaxSize,
		readOnly: opts.ReadOnly,
		logger:   opts.Logger,
	}

	if err := lockFile(file, opts.ReadOnly); err != nil {
		file.Close()
		if errors.Is(err, ErrDatabaseAlreadyOpen) {
			return nil, err
		}
		return nil, ioErr("flock", path, err)
	}

	if err := pm.load(opts); err != nil {
		unlockFile(file)
		file.Close()
		return nil, err
	}

	pm.mmap, err = NewMmapManager(file, int64(pm.pages)*int64(pm.pageSize), pm.pageSize)
	if err != nil {
		unlockFile(file)
		file.Close()
		return nil, ioErr("mmap", path, err)
	}
	_ = pm.mmap.MadviseRandom()

	return pm, nil
}

// load reads both metapage slots of an existing file, or initializes an
// empty one.
func (pm *PageManager) load(opts Options) error {
	info, err := pm.file.Stat()
	if err != nil {
		return ioErr("stat", pm.path, err)
	}

	if info.Size() == 0 {
		if opts.ReadOnly {
			return ErrInvalidFormat
		}
		return pm.initializeNew(opts)
	}

	// The page size is recorded in the metapage, so slot 1 can only be
	// located once it is known. Try the size slot 0 claims first, then
	// every legal size in case slot 0 is the damaged one.
	head := make([]byte, MetaSize)
	if _, err := pm.file.ReadAt(head, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrInvalidFormat
		}
		return ioErr("read", pm.path, err)
	}

	candidates := []int{int(binary.LittleEndian.Uint32(head[8:12]))}
	for size := MinPageSize; size <= MaxPageSize; size <<= 1 {
		candidates = append(candidates, size)
	}

	var firstErr error
	for _, size := range candidates {
		if !ValidPageSize(size) || info.Size() < int64(size)*MetaSlots {
			continue
		}
		other := make([]byte, MetaSize)
		if _, err := pm.file.ReadAt(other, int64(size)); err != nil {
			return ioErr("read", pm.path, err)
		}
		choice, err := SelectMeta([MetaSlots][]byte{head, other})
		if err == nil && int(choice.Meta.PageSize) != size {
			err = ErrInvalidFormat
		}
		if err != nil {
			if firstErr == nil || errors.Is(firstErr, ErrInvalidFormat) {
				firstErr = err
			}
			continue
		}

		pm.pageSize = size
		pm.pages = uint64(info.Size() / int64(size))
		pm.meta = choice
		if choice.Meta.TotalPages > pm.pages {
			return Corruptf(0, "metapage claims %d pages, file has %d", choice.Meta.TotalPages, pm.pages)
		}
		return nil
	}

	if firstErr == nil {
		firstErr = ErrInvalidFormat
	}
	return firstErr
}

// initializeNew writes the two metapages of an empty database.
func (pm *PageManager) initializeNew(opts Options) error {
	pm.pageSize = opts.PageSize
	pm.pages = uint64(opts.InitialPages)
	pm.created = true

	if pm.maxSize > 0 && int64(pm.pages)*int64(pm.pageSize) > pm.maxSize {
		pm.pages = MetaSlots
		if int64(pm.pages)*int64(pm.pageSize) > pm.maxSize {
			return ErrStorageFull
		}
	}

	if err := pm.file.Truncate(int64(pm.pages) * int64(pm.pageSize)); err != nil {
		return ioErr("truncate", pm.path, err)
	}

	meta := NewMeta(pm.pageSize)
	for slot := PageID(0); slot < MetaSlots; slot++ {
		if err := pm.writeMeta(slot, meta); err != nil {
			return err
		}
	}
	if err := syncData(pm.file); err != nil {
		return ioErr("sync", pm.path, err)
	}

	pm.meta = MetaChoice{Meta: meta}
	return nil
}

// Close unmaps and unlocks the file and closes it.
func (pm *PageManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	pm.closed = true

	var errs []error
	if err := pm.mmap.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := unlockFile(pm.file); err != nil {
		errs = append(errs, ioErr("unlock", pm.path, err))
	}
	if err := pm.file.Close(); err != nil {
		errs = append(errs, ioErr("close", pm.path, err))
	}
	return errors.Join(errs...)
}

// Recovered returns the metapage chosen when the file was opened.
func (pm *PageManager) Recovered() MetaChoice {
	return pm.meta
}

// Created reports whether the file was initialized by this open.
func (pm *PageManager) Created() bool {
	return pm.created
}

// Path returns the file path.
func (pm *PageManager) Path() string {
	return pm.path
}

// PageSize returns the page size of the file.
func (pm *PageManager) PageSize() int {
	return pm.pageSize
}

// PageCount returns the file length in pages.
func (pm *PageManager) PageCount() uint64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pages
}

// ReadOnly reports whether the file was opened read-only.
func (pm *PageManager) ReadOnly() bool {
	return pm.readOnly
}

// View calls fn with the mapped bytes of a page. The slice is only valid
// inside fn and must not be modified.
func (pm *PageManager) View(id PageID, fn func(page []byte) error) error {
	err := pm.mmap.View(id, fn)
	if errors.Is(err, ErrMmapPageOutOfRange) {
		return fmt.Errorf("%w: page %d", ErrPageOutOfRange, id)
	}
	return err
}

// ReadPage returns a copy of a page.
func (pm *PageManager) ReadPage(id PageID) ([]byte, error) {
	buf := make([]byte, pm.pageSize)
	err := pm.View(id, func(page []byte) error {
		copy(buf, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// WritePage writes a full page at its position in the file.
func (pm *PageManager) WritePage(id PageID, buf []byte) error {
	if pm.readOnly {
		return ErrReadOnly
	}
	if len(buf) != pm.pageSize {
		return ErrInvalidPageSize
	}
	if id < MetaSlots {
		return fmt.Errorf("%w: page %d is a metapage slot", ErrPageOutOfRange, id)
	}
	if uint64(id) >= pm.PageCount() {
		return fmt.Errorf("%w: page %d", ErrPageOutOfRange, id)
	}

	if _, err := pm.file.WriteAt(buf, int64(id)*int64(pm.pageSize)); err != nil {
		return ioErr("write", pm.path, err)
	}
	return nil
}

// WriteMeta writes a metapage into one of the two slots.
func (pm *PageManager) WriteMeta(slot PageID, meta Meta) error {
	if pm.readOnly {
		return ErrReadOnly
	}
	if slot >= MetaSlots {
		return fmt.Errorf("%w: slot %d", ErrPageOutOfRange, slot)
	}
	return pm.writeMeta(slot, meta)
}

func (pm *PageManager) writeMeta(slot PageID, meta Meta) error {
	buf := make([]byte, pm.pageSize)
	if err := meta.Serialize(buf); err != nil {
		return err
	}
	if _, err := pm.file.WriteAt(buf, int64(slot)*int64(pm.pageSize)); err != nil {
		return ioErr("write", pm.path, err)
	}
	return nil
}

// Grow makes sure the file holds at least minPages pages. The file grows by
// regions: at least MinGrowthPages, doubling up to MaxGrowthBytes per step.
func (pm *PageManager) Grow(minPages uint64) error {
	if pm.readOnly {
		return ErrReadOnly
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	if minPages <= pm.pages {
		return nil
	}

	step := pm.pages
	if step < MinGrowthPages {
		step = MinGrowthPages
	}
	if limit := uint64(MaxGrowthBytes / pm.pageSize); step > limit {
		step = limit
	}
	target := pm.pages + step
	if target < minPages {
		target = minPages
	}

	if pm.maxSize > 0 {
		limit := uint64(pm.maxSize / int64(pm.pageSize))
		if target > limit {
			target = limit
		}
		if target < minPages {
			return fmt.Errorf("%w: %d pages needed, limit is %d", ErrStorageFull, minPages, limit)
		}
	}

	if err := pm.file.Truncate(int64(target) * int64(pm.pageSize)); err != nil {
		return ioErr("truncate", pm.path, err)
	}
	if err := pm.mmap.Remap(int64(target) * int64(pm.pageSize)); err != nil {
		return ioErr("mmap", pm.path, err)
	}

	pm.logger.Info("database file grown", "path", pm.path, "from_pages", pm.pages, "to_pages", target)
	pm.pages = target
	return nil
}

// Truncate shrinks the file to pages pages. It is only used by compaction,
// once no reader can reference the dropped tail.
func (pm *PageManager) Truncate(pages uint64) error {
	if pm.readOnly {
		return ErrReadOnly
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	if pages < MetaSlots {
		pages = MetaSlots
	}
	if pages >= pm.pages {
		return nil
	}

	// Remap first so no mapping extends past the end of the file.
	if err := pm.mmap.Remap(int64(pages) * int64(pm.pageSize)); err != nil {
		return ioErr("mmap", pm.path, err)
	}
	if err := pm.file.Truncate(int64(pages) * int64(pm.pageSize)); err != nil {
		return ioErr("truncate", pm.path, err)
	}

	pm.logger.Info("database file truncated", "path", pm.path, "from_pages", pm.pages, "to_pages", pages)
	pm.pages = pages
	return nil
}

// Sync flushes written pages to stable storage.
func (pm *PageManager) Sync() error {
	if pm.readOnly {
		return nil
	}
	if err := syncData(pm.file); err != nil {
		return ioErr("sync", pm.path, err)
	}
	return nil
}

// FileSize returns the size of the file in bytes.
func (pm *PageManager) FileSize() int64 {
	return int64(pm.PageCount()) * int64(pm.pageSize)
}
