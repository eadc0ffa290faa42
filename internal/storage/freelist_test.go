package storage

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

// =============================================================================
// FreeList Tests
// =============================================================================

func TestFreeListPopReturnsLowest(t *testing.T) {
	fl := NewFreeList()
	fl.Push(30)
	fl.Push(10)
	fl.Push(20)
	fl.Push(10)

	if fl.Count() != 3 {
		t.Errorf("Count() = %v, want 3", fl.Count())
	}

	for _, want := range []PageID{10, 20, 30} {
		id, ok := fl.Pop()
		if !ok || id != want {
			t.Errorf("Pop() = %v, %v, want %v, true", id, ok, want)
		}
	}

	id, ok := fl.Pop()
	if ok || id != 0 {
		t.Errorf("Pop() from empty = %v, %v, want 0, false", id, ok)
	}
	if !fl.IsEmpty() {
		t.Error("IsEmpty() should return true after draining")
	}
}

func TestFreeListPushAll(t *testing.T) {
	fl := NewFreeList()
	fl.Push(5)
	fl.PushAll([]PageID{9, 2, 5, 7})

	want := []PageID{2, 5, 7, 9}
	if got := fl.PeekAll(); !slices.Equal(got, want) {
		t.Errorf("PeekAll() = %v, want %v", got, want)
	}
}

func TestFreeListContainsRemove(t *testing.T) {
	fl := NewFreeList()
	fl.Reset([]PageID{4, 8, 15})

	if !fl.Contains(8) {
		t.Error("Contains(8) should return true")
	}
	if !fl.Remove(8) {
		t.Error("Remove(8) should return true")
	}
	if fl.Contains(8) {
		t.Error("Contains(8) should return false after remove")
	}
	if fl.Remove(8) {
		t.Error("Remove(8) twice should return false")
	}

	fl.Clear()
	if !fl.IsEmpty() {
		t.Error("IsEmpty() should return true after Clear")
	}
}

func TestFreeListPopLast(t *testing.T) {
	fl := NewFreeList()
	fl.Reset([]PageID{3, 6, 9})

	if fl.PopLast(6) {
		t.Error("PopLast(6) should fail when 6 is not the highest page")
	}
	if !fl.PopLast(9) {
		t.Error("PopLast(9) should succeed")
	}
	if got := fl.PeekAll(); !slices.Equal(got, []PageID{3, 6}) {
		t.Errorf("PeekAll() = %v, want [3 6]", got)
	}
}

func TestFreeListConcurrency(t *testing.T) {
	fl := NewFreeList()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fl.Push(PageID(base*1000 + i + 2))
			}
		}(g)
	}
	wg.Wait()

	if fl.Count() != 800 {
		t.Errorf("Count() = %v, want 800", fl.Count())
	}
}

// =============================================================================
// Free-List Chain Tests
// =============================================================================

func TestFreeListPageEncodeDecode(t *testing.T) {
	buf := make([]byte, DefaultPageSize)
	ids := []PageID{5, 6, 100, 2000}

	if err := EncodeFreeListPage(buf, ids, 77, 3); err != nil {
		t.Fatalf("EncodeFreeListPage() error = %v", err)
	}

	got, next, err := DecodeFreeListPage(12, buf, nil)
	if err != nil {
		t.Fatalf("DecodeFreeListPage() error = %v", err)
	}
	if !slices.Equal(got, ids) {
		t.Errorf("DecodeFreeListPage() ids = %v, want %v", got, ids)
	}
	if next != 77 {
		t.Errorf("DecodeFreeListPage() next = %v, want 77", next)
	}

	buf[PageHeaderSize] ^= 1
	if _, _, err := DecodeFreeListPage(12, buf, nil); !errors.Is(err, ErrCorruption) {
		t.Errorf("DecodeFreeListPage() on damaged page error = %v, want ErrCorruption", err)
	}
}

func TestFreeListPageTooManyIDs(t *testing.T) {
	buf := make([]byte, MinPageSize)
	ids := make([]PageID, FreeListCapacity(MinPageSize)+1)
	if err := EncodeFreeListPage(buf, ids, 0, 1); err == nil {
		t.Error("EncodeFreeListPage() should reject more ids than fit")
	}
}

func TestFreeListPagesNeeded(t *testing.T) {
	per := FreeListCapacity(MinPageSize)

	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{per, 1},
		{per + 1, 1},
		{per + 2, 2},
		{3*per + 10, 4},
	}

	for _, tt := range tests {
		got := FreeListPagesNeeded(tt.n, MinPageSize)
		if got != tt.want {
			t.Errorf("FreeListPagesNeeded(%d) = %d, want %d", tt.n, got, tt.want)
		}
		// The chain must fit the ids left after taking its own pages.
		if got*per < tt.n-got {
			t.Errorf("FreeListPagesNeeded(%d) = %d cannot hold %d ids", tt.n, got, tt.n-got)
		}
	}
}

func TestLoadFreeList(t *testing.T) {
	pm := openTestManager(t, MinPageSize)
	alloc := NewAllocator(pm, MetaSlots, nil)

	per := FreeListCapacity(MinPageSize)
	ids := make([]PageID, 0, per+10)
	for i := 0; i < per+10; i++ {
		ids = append(ids, PageID(1000+i))
	}

	first, _ := alloc.Allocate()
	second, _ := alloc.Allocate()
	buf := make([]byte, MinPageSize)
	if err := EncodeFreeListPage(buf, ids[:per], second, 1); err != nil {
		t.Fatalf("EncodeFreeListPage() error = %v", err)
	}
	if err := pm.WritePage(first, buf); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}
	if err := EncodeFreeListPage(buf, ids[per:], 0, 1); err != nil {
		t.Fatalf("EncodeFreeListPage() error = %v", err)
	}
	if err := pm.WritePage(second, buf); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}

	got, chain, err := LoadFreeList(pm, first, uint64(len(ids)))
	if err != nil {
		t.Fatalf("LoadFreeList() error = %v", err)
	}
	if !slices.Equal(got, ids) {
		t.Errorf("LoadFreeList() returned %d ids, want %d", len(got), len(ids))
	}
	if !slices.Equal(chain, []PageID{first, second}) {
		t.Errorf("LoadFreeList() chain = %v, want [%d %d]", chain, first, second)
	}

	if _, _, err := LoadFreeList(pm, first, uint64(len(ids)+1)); !errors.Is(err, ErrCorruption) {
		t.Errorf("LoadFreeList() with wrong count error = %v, want ErrCorruption", err)
	}

	empty, chain, err := LoadFreeList(pm, 0, 0)
	if err != nil || len(empty) != 0 || len(chain) != 0 {
		t.Errorf("LoadFreeList() of empty chain = %v, %v, %v", empty, chain, err)
	}
}
