package obakv

import (
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// maxCompactionPasses bounds the relocation passes of one Compact call.
const maxCompactionPasses = 8

// Compact moves pages from the end of the file into free pages further
// down and truncates the file. It reports whether the file shrank.
//
// Compaction needs the database to itself: it fails with
// ErrCompactionBlocked while read transactions are open or savepoints
// exist.
func (db *DB) Compact() (bool, error) {
	if db.closed.Load() {
		return false, ErrDatabaseClosed
	}
	if db.opts.ReadOnly {
		return false, ErrReadOnly
	}
	log := db.log.WithComponent("compact")
	before := db.pm.FileSize()

	// Two commits with nobody reading move every pending page into the pool.
	drain := func() error {
		for range 2 {
			if err := db.Update(func(w *WriteTxn) error { return w.compactionAllowed() }); err != nil {
				return err
			}
		}
		return nil
	}

	if err := drain(); err != nil {
		return false, err
	}

	passes := 0
	for ; passes < maxCompactionPasses; passes++ {
		var moved bool
		err := db.Update(func(w *WriteTxn) error {
			if err := w.compactionAllowed(); err != nil {
				return err
			}
			var err error
			moved, err = w.relocateTail()
			return err
		})
		if err != nil {
			return false, err
		}
		if err := drain(); err != nil {
			return false, err
		}
		if !moved {
			break
		}
	}

	w, err := db.BeginWrite()
	if err != nil {
		return false, err
	}
	hwm := db.alloc.HighWater()
	err = db.pm.Truncate(hwm)
	w.Abort()
	if err != nil {
		return false, err
	}

	after := db.pm.FileSize()
	log.Info("compaction finished",
		"passes", passes,
		"pages", hwm,
		"size_before", before,
		"size_after", after,
	)
	return after < before, nil
}

// compactionAllowed fails while readers or savepoints could still need
// the pages compaction moves.
func (w *WriteTxn) compactionAllowed() error {
	w.durability = DurabilityImmediate
	records, err := w.savepoints.All()
	if err != nil {
		return err
	}
	if len(records) > 0 || len(w.db.ephemeralSavepoints()) > 0 {
		return ErrCompactionBlocked
	}
	if w.db.registry.Len() > w.db.pinnedByEngine(0) {
		return ErrCompactionBlocked
	}
	return nil
}

// relocateTail rewrites every used page in the tail of the allocated range
// into the lowest free pages.
func (w *WriteTxn) relocateTail() (bool, error) {
	db := w.db
	hwm := db.alloc.HighWater()
	free := uint64(db.alloc.Pool().Count())
	if free == 0 || free >= hwm-storage.MetaSlots {
		return false, nil
	}
	threshold := storage.PageID(hwm - free)
	move := func(id storage.PageID) bool { return id >= threshold }

	moved := false
	entries, err := w.catalog.Entries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		tree := btree.NewWritable(e.Root, w.store, nil, db.layout)
		m, err := tree.Relocate(move)
		if err != nil {
			return false, w.fail(err)
		}
		if !m {
			continue
		}
		e.Root = tree.Root()
		if err := w.catalog.Put(e); err != nil {
			return false, w.fail(err)
		}
		moved = true
	}

	for _, t := range []*btree.BPlusTree{w.catalog.Tree(), w.tracker.Tree(), w.savepoints.Tree()} {
		m, err := t.Relocate(move)
		if err != nil {
			return false, w.fail(err)
		}
		moved = moved || m
	}
	return moved, nil
}
