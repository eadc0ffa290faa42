package storage

import (
	"encoding/binary"
	"slices"
	"sync"
)

// FreeListEntrySize is the size of each entry in a free-list page (one PageID).
const FreeListEntrySize = 8

// FreeListCapacity returns how many page ids fit in one free-list page.
func FreeListCapacity(pageSize int) int {
	capacity := (pageSize - PageHeaderSize) / FreeListEntrySize
	if capacity > 0xFFFF {
		capacity = 0xFFFF
	}
	return capacity
}

// FreeList is the pool of pages that can be handed out right now. Pages are
// kept sorted so that allocation always returns the lowest free page, which
// keeps the file dense and lets compaction trim the tail.
//
// On disk the pool is a chain of free-list pages referenced by the metapage.
// Layout of a free-list page:
//   - Bytes 0-31:  PageHeader (Count = ids on this page, Next = next page)
//   - Bytes 32-..: Array of free PageIDs
type FreeList struct {
	pages []PageID
	mu    sync.RWMutex
}

// NewFreeList creates a new empty FreeList.
func NewFreeList() *FreeList {
	return &FreeList{}
}

// Count returns the number of free pages.
func (fl *FreeList) Count() int {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return len(fl.pages)
}

// IsEmpty returns true if there are no free pages.
func (fl *FreeList) IsEmpty() bool {
	return fl.Count() == 0
}

// Push adds a page to the pool. Pushing a page that is already free is a no-op.
func (fl *FreeList) Push(id PageID) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	i, found := slices.BinarySearch(fl.pages, id)
	if found {
		return
	}
	fl.pages = slices.Insert(fl.pages, i, id)
}

// PushAll adds a batch of pages to the pool.
func (fl *FreeList) PushAll(ids []PageID) {
	if len(ids) == 0 {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	fl.pages = append(fl.pages, ids...)
	slices.Sort(fl.pages)
	fl.pages = slices.Compact(fl.pages)
}

// Pop removes and returns the lowest free page.
// Returns 0 and false if the pool is empty.
func (fl *FreeList) Pop() (PageID, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if len(fl.pages) == 0 {
		return 0, false
	}

	id := fl.pages[0]
	fl.pages = fl.pages[1:]
	return id, true
}

// PopLast removes the highest free page if it equals id.
func (fl *FreeList) PopLast(id PageID) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	n := len(fl.pages)
	if n == 0 || fl.pages[n-1] != id {
		return false
	}
	fl.pages = fl.pages[:n-1]
	return true
}

// Contains checks if a page is in the pool.
func (fl *FreeList) Contains(id PageID) bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	_, found := slices.BinarySearch(fl.pages, id)
	return found
}

// Remove removes a specific page from the pool.
// Returns true if the page was found and removed.
func (fl *FreeList) Remove(id PageID) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	i, found := slices.BinarySearch(fl.pages, id)
	if !found {
		return false
	}
	fl.pages = slices.Delete(fl.pages, i, i+1)
	return true
}

// PeekAll returns a sorted copy of all free pages.
func (fl *FreeList) PeekAll() []PageID {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return slices.Clone(fl.pages)
}

// Reset replaces the pool content.
func (fl *FreeList) Reset(ids []PageID) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.pages = slices.Compact(sorted)
}

// Clear removes all entries from the pool.
func (fl *FreeList) Clear() {
	fl.Reset(nil)
}

// EncodeFreeListPage fills buf with one free-list chain page.
func EncodeFreeListPage(buf []byte, ids []PageID, next PageID, txnID uint64) error {
	if len(ids) > FreeListCapacity(len(buf)) {
		return ErrInvalidPageSize
	}
	clear(buf)

	h := PageHeader{
		Type:  PageTypeFreeList,
		Count: uint16(len(ids)),
		Next:  next,
		TxnID: txnID,
	}
	if err := h.Serialize(buf); err != nil {
		return err
	}
	for i, id := range ids {
		off := PageHeaderSize + i*FreeListEntrySize
		binary.LittleEndian.PutUint64(buf[off:off+FreeListEntrySize], uint64(id))
	}
	SealPage(buf)
	return nil
}

// DecodeFreeListPage verifies a free-list chain page and appends its ids to dst.
func DecodeFreeListPage(id PageID, buf []byte, dst []PageID) ([]PageID, PageID, error) {
	h, err := OpenPage(id, buf, PageTypeFreeList)
	if err != nil {
		return dst, 0, err
	}
	if int(h.Count) > FreeListCapacity(len(buf)) {
		return dst, 0, Corruptf(id, "free-list page holds %d ids", h.Count)
	}
	for i := 0; i < int(h.Count); i++ {
		off := PageHeaderSize + i*FreeListEntrySize
		dst = append(dst, PageID(binary.LittleEndian.Uint64(buf[off:off+FreeListEntrySize])))
	}
	return dst, h.Next, nil
}

// LoadFreeList reads a persisted free-list chain. It returns the pool
// content and the pages of the chain itself.
func LoadFreeList(pm *PageManager, head PageID, count uint64) (ids []PageID, chain []PageID, err error) {
	ids = make([]PageID, 0, count)
	maxChain := pm.PageCount()

	for next := head; next != 0; {
		if uint64(len(chain)) > maxChain {
			return nil, nil, Corruptf(head, "free-list chain does not terminate")
		}
		chain = append(chain, next)
		cur := next
		err = pm.View(cur, func(page []byte) error {
			var derr error
			ids, next, derr = DecodeFreeListPage(cur, page, ids)
			return derr
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if uint64(len(ids)) != count {
		return nil, nil, Corruptf(head, "free-list chain holds %d ids, metapage says %d", len(ids), count)
	}
	return ids, chain, nil
}

// FreeListPagesNeeded returns how many chain pages are needed to persist a
// pool of n pages when the chain pages themselves are taken from the pool.
func FreeListPagesNeeded(n, pageSize int) int {
	per := FreeListCapacity(pageSize)
	k := 0
	for k < n && (n-k+per-1)/per > k {
		k++
	}
	return k
}
