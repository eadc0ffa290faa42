package storage

import (
	"slices"
	"testing"
)

func TestAllocatorGrowsFile(t *testing.T) {
	pm := openTestManager(t, MinPageSize)
	alloc := NewAllocator(pm, MetaSlots, nil)

	start := pm.PageCount()
	var last PageID
	for i := uint64(0); i < start+5; i++ {
		id, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		if id < MetaSlots {
			t.Fatalf("Allocate() returned metapage slot %d", id)
		}
		if last != 0 && id != last+1 {
			t.Errorf("Allocate() = %d, want %d", id, last+1)
		}
		last = id
	}

	if pm.PageCount() <= start {
		t.Errorf("PageCount() = %d, expected growth beyond %d", pm.PageCount(), start)
	}
	if alloc.HighWater() != uint64(last)+1 {
		t.Errorf("HighWater() = %d, want %d", alloc.HighWater(), last+1)
	}
}

func TestAllocatorPrefersPool(t *testing.T) {
	pm := openTestManager(t, MinPageSize)
	alloc := NewAllocator(pm, 10, []PageID{7, 3, 5})

	for _, want := range []PageID{3, 5, 7, 10} {
		id, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		if id != want {
			t.Errorf("Allocate() = %d, want %d", id, want)
		}
	}
}

func TestAllocatorSnapshotRestore(t *testing.T) {
	pm := openTestManager(t, MinPageSize)
	alloc := NewAllocator(pm, 6, []PageID{2, 4})

	saved := alloc.Snapshot()
	for i := 0; i < 5; i++ {
		if _, err := alloc.Allocate(); err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
	}
	alloc.Free(3)

	alloc.Restore(saved)
	if alloc.HighWater() != 6 {
		t.Errorf("HighWater() = %d, want 6", alloc.HighWater())
	}
	if got := alloc.Pool().PeekAll(); !slices.Equal(got, []PageID{2, 4}) {
		t.Errorf("Pool() = %v, want [2 4]", got)
	}
}

func TestAllocatorTrimTail(t *testing.T) {
	pm := openTestManager(t, MinPageSize)
	alloc := NewAllocator(pm, 12, []PageID{3, 9, 10, 11})

	if n := alloc.TrimTail(); n != 3 {
		t.Errorf("TrimTail() = %d, want 3", n)
	}
	if alloc.HighWater() != 9 {
		t.Errorf("HighWater() = %d, want 9", alloc.HighWater())
	}
	if got := alloc.Pool().PeekAll(); !slices.Equal(got, []PageID{3}) {
		t.Errorf("Pool() = %v, want [3]", got)
	}
	if n := alloc.TrimTail(); n != 0 {
		t.Errorf("second TrimTail() = %d, want 0", n)
	}
}
