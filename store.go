package obakv

import (
	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/savepoint"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/mvcc"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// readNode returns the decoded node at id, through the node cache.
func (db *DB) readNode(id storage.PageID) (*btree.BPlusNode, error) {
	if n, ok := db.cache.Get(id); ok {
		return n, nil
	}

	var n *btree.BPlusNode
	err := db.pm.View(id, func(page []byte) error {
		var err error
		n, err = btree.DecodeNode(id, page)
		return err
	})
	if err != nil {
		return nil, err
	}
	db.cache.Put(id, n)
	return n, nil
}

// readStore resolves the pages of a committed state.
type readStore struct {
	db *DB
}

func (s *readStore) ReadNode(id storage.PageID) (*btree.BPlusNode, error) {
	return s.db.readNode(id)
}

func (s *readStore) ReadOverflow(head storage.PageID, length uint32) ([]byte, error) {
	return storage.ReadOverflow(s.db.pm, head, length)
}

func (s *readStore) OverflowPages(head storage.PageID, length uint32) ([]storage.PageID, error) {
	return storage.OverflowPages(s.db.pm, head, length)
}

// writeStore is the page source of a write transaction. Nodes the
// transaction built stay in staged until commit writes them.
type writeStore struct {
	readStore
	tx     *tx.Transaction
	staged map[storage.PageID]*btree.BPlusNode
}

func newWriteStore(db *DB, t *tx.Transaction) *writeStore {
	return &writeStore{
		readStore: readStore{db: db},
		tx:        t,
		staged:    make(map[storage.PageID]*btree.BPlusNode),
	}
}

func (s *writeStore) ReadNode(id storage.PageID) (*btree.BPlusNode, error) {
	if n, ok := s.staged[id]; ok {
		return n, nil
	}
	return s.db.readNode(id)
}

func (s *writeStore) Allocate() (storage.PageID, error) {
	id, err := s.db.alloc.Allocate()
	if err != nil {
		return 0, err
	}
	s.tx.AddAllocated(id)
	return id, nil
}

// Release frees a page. A page this transaction allocated was never
// visible to anyone and goes straight back to the pool; a committed page
// becomes pending once the transaction commits.
func (s *writeStore) Release(id storage.PageID) error {
	if s.tx.RemoveAllocated(id) {
		delete(s.staged, id)
		s.db.alloc.Free(id)
		return nil
	}
	s.tx.AddFreed(id)
	return nil
}

func (s *writeStore) Stage(n *btree.BPlusNode) {
	s.staged[n.PageID] = n
}

func (s *writeStore) Owned(id storage.PageID) bool {
	return s.tx.IsAllocated(id)
}

func (s *writeStore) WriteOverflow(value []byte) (storage.PageID, error) {
	return storage.WriteOverflow(s.db.pm, s.Allocate, value, s.tx.ID)
}

// Read-only views of the system trees of a committed state.

func (db *DB) readTree(root storage.PageID, cmp btree.Compare) *btree.BPlusTree {
	return btree.NewReadOnly(root, &readStore{db: db}, cmp, db.layout)
}

func (db *DB) catalogAt(root storage.PageID) *catalog.Catalog {
	return catalog.New(db.readTree(root, nil))
}

func (db *DB) trackerAt(root storage.PageID) *mvcc.Tracker {
	return mvcc.NewTracker(db.readTree(root, nil))
}

func (db *DB) savepointList(root storage.PageID) *savepoint.List {
	return savepoint.NewList(db.readTree(root, nil))
}
