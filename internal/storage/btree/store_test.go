package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

const testPageSize = storage.MinPageSize

// testStore is a minimal write transaction over a real page file. Nodes are
// encoded into pages on commit; released committed pages are held until
// reclaim so older roots stay readable.
type testStore struct {
	t        *testing.T
	pm       *storage.PageManager
	alloc    *storage.Allocator
	txnID    uint64
	staged   map[storage.PageID]*BPlusNode
	owned    map[storage.PageID]bool
	released []storage.PageID
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()

	opts := storage.DefaultOptions()
	opts.PageSize = testPageSize
	pm, err := storage.OpenPageManager(filepath.Join(t.TempDir(), "tree.db"), opts)
	if err != nil {
		t.Fatalf("failed to open page manager: %v", err)
	}
	t.Cleanup(func() { pm.Close() })

	return &testStore{
		t:      t,
		pm:     pm,
		alloc:  storage.NewAllocator(pm, storage.MetaSlots, nil),
		txnID:  1,
		staged: make(map[storage.PageID]*BPlusNode),
		owned:  make(map[storage.PageID]bool),
	}
}

func (s *testStore) layout() Layout {
	return Layout{PageSize: testPageSize}
}

func (s *testStore) ReadNode(id storage.PageID) (*BPlusNode, error) {
	if n, ok := s.staged[id]; ok {
		return n, nil
	}
	var node *BPlusNode
	err := s.pm.View(id, func(page []byte) error {
		var err error
		node, err = DecodeNode(id, page)
		return err
	})
	return node, err
}

func (s *testStore) ReadOverflow(head storage.PageID, length uint32) ([]byte, error) {
	return storage.ReadOverflow(s.pm, head, length)
}

func (s *testStore) OverflowPages(head storage.PageID, length uint32) ([]storage.PageID, error) {
	return storage.OverflowPages(s.pm, head, length)
}

func (s *testStore) Allocate() (storage.PageID, error) {
	id, err := s.alloc.Allocate()
	if err != nil {
		return 0, err
	}
	s.owned[id] = true
	return id, nil
}

func (s *testStore) Release(id storage.PageID) error {
	if s.owned[id] {
		delete(s.owned, id)
		delete(s.staged, id)
		s.alloc.Free(id)
		return nil
	}
	s.released = append(s.released, id)
	return nil
}

func (s *testStore) Stage(n *BPlusNode) {
	s.staged[n.PageID] = n
}

func (s *testStore) Owned(id storage.PageID) bool {
	return s.owned[id]
}

func (s *testStore) WriteOverflow(value []byte) (storage.PageID, error) {
	return storage.WriteOverflow(s.pm, s.Allocate, value, s.txnID)
}

// commit writes every staged node and starts a new transaction.
func (s *testStore) commit() {
	s.t.Helper()

	buf := make([]byte, testPageSize)
	for id, n := range s.staged {
		if err := EncodeNode(n, buf, s.txnID); err != nil {
			s.t.Fatalf("failed to encode node %d: %v", id, err)
		}
		if err := s.pm.WritePage(id, buf); err != nil {
			s.t.Fatalf("failed to write node %d: %v", id, err)
		}
	}
	clear(s.staged)
	clear(s.owned)
	s.txnID++
}

// reclaim returns every page released by committed transactions to the pool.
func (s *testStore) reclaim() {
	s.alloc.FreeAll(s.released)
	s.released = nil
}

// pages returns the set of pages reachable from tree.
func pages(t *testing.T, tree *BPlusTree) map[storage.PageID]storage.PageType {
	t.Helper()

	out := make(map[storage.PageID]storage.PageType)
	err := tree.Walk(func(id storage.PageID, typ storage.PageType, _ int) error {
		if _, dup := out[id]; dup {
			return fmt.Errorf("page %d reached twice", id)
		}
		out[id] = typ
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk tree: %v", err)
	}
	return out
}

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%06d", i))
}

func testValue(i int) []byte {
	return []byte(fmt.Sprintf("value-%d", i))
}

// mustInsert inserts keys [from, to) with testValue values.
func mustInsert(t *testing.T, tree *BPlusTree, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		if _, err := tree.Insert(testKey(i), testValue(i)); err != nil {
			t.Fatalf("failed to insert key %d: %v", i, err)
		}
	}
}

// mustCheck validates the tree structure and returns its stats.
func mustCheck(t *testing.T, tree *BPlusTree) TreeStats {
	t.Helper()
	stats, err := tree.Check()
	if err != nil {
		t.Fatalf("tree check failed: %v", err)
	}
	return stats
}
