package storage

// Allocator hands out pages to the active write transaction. It owns the
// pool of reusable pages and the high-water mark (the number of pages ever
// handed out, including the two metapages). Only the writer touches it.
type Allocator struct {
	pm   *PageManager
	pool *FreeList
	hwm  uint64
}

// AllocatorState is a saved allocator position used to roll back an aborted
// transaction.
type AllocatorState struct {
	pool []PageID
	hwm  uint64
}

// NewAllocator creates an allocator over pm starting at the given
// high-water mark with the given pool content.
func NewAllocator(pm *PageManager, hwm uint64, pool []PageID) *Allocator {
	if hwm < MetaSlots {
		hwm = MetaSlots
	}
	fl := NewFreeList()
	fl.Reset(pool)
	return &Allocator{pm: pm, pool: fl, hwm: hwm}
}

// Allocate returns the lowest free page, growing the file when the pool is
// empty. The returned page is never reachable from a published root.
func (a *Allocator) Allocate() (PageID, error) {
	if id, ok := a.pool.Pop(); ok {
		return id, nil
	}

	if a.hwm >= a.pm.PageCount() {
		if err := a.pm.Grow(a.hwm + 1); err != nil {
			return 0, err
		}
	}
	id := PageID(a.hwm)
	a.hwm++
	return id, nil
}

// Free puts a page straight back into the pool. Callers must only free pages
// that no reader or savepoint can reach.
func (a *Allocator) Free(id PageID) {
	a.pool.Push(id)
}

// FreeAll puts a batch of pages back into the pool.
func (a *Allocator) FreeAll(ids []PageID) {
	a.pool.PushAll(ids)
}

// Pool returns the pool of reusable pages.
func (a *Allocator) Pool() *FreeList {
	return a.pool
}

// HighWater returns the number of pages in use or in the pool.
func (a *Allocator) HighWater() uint64 {
	return a.hwm
}

// Snapshot saves the allocator position.
func (a *Allocator) Snapshot() AllocatorState {
	return AllocatorState{pool: a.pool.PeekAll(), hwm: a.hwm}
}

// Restore rolls the allocator back to a saved position.
func (a *Allocator) Restore(s AllocatorState) {
	a.pool.Reset(s.pool)
	a.hwm = s.hwm
}

// TrimTail drops free pages at the end of the allocated range and lowers the
// high-water mark. It returns the number of pages dropped.
func (a *Allocator) TrimTail() int {
	trimmed := 0
	for a.hwm > MetaSlots && a.pool.PopLast(PageID(a.hwm-1)) {
		a.hwm--
		trimmed++
	}
	return trimmed
}
