package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/savepoint"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/mvcc"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// WriteTxn is the write transaction. Its changes become visible to new
// read transactions when Commit returns; Abort discards them.
//
// A WriteTxn is not safe for concurrent use.
type WriteTxn struct {
	db    *DB
	tx    *tx.Transaction
	base  storage.Meta // state the transaction started from
	store *writeStore

	catalog    *catalog.Catalog
	tracker    *mvcc.Tracker
	savepoints *savepoint.List
	tables     map[string]*Table

	allocSnap  storage.AllocatorState
	durability Durability

	// modified is set once tables or the catalog were touched; savepoints
	// can then no longer be created or restored.
	modified           bool
	persistentModified bool

	createdPins   []uint64 // persistent savepoints created here, unpinned on abort
	pendingUnpins []uint64 // persistent savepoints removed here, unpinned on commit
	restoredID    uint64   // savepoint restored here; newer ephemeral ones die on commit
}

func newWriteTxn(db *DB, t *tx.Transaction) *WriteTxn {
	base := db.state.Load().meta
	store := newWriteStore(db, t)
	return &WriteTxn{
		db:         db,
		tx:         t,
		base:       base,
		store:      store,
		catalog:    catalog.New(btree.NewWritable(base.CatalogRoot, store, nil, db.layout)),
		tracker:    mvcc.NewTracker(btree.NewWritable(base.FreedRoot, store, nil, db.layout)),
		savepoints: savepoint.NewList(btree.NewWritable(base.SavepointRoot, store, nil, db.layout)),
		tables:     make(map[string]*Table),
		allocSnap:  db.alloc.Snapshot(),
		durability: db.opts.Durability,
	}
}

// ID returns the id the transaction commits as.
func (w *WriteTxn) ID() uint64 {
	return w.tx.ID
}

func (w *WriteTxn) live() error {
	if !w.tx.IsActive() {
		return ErrTxNotActive
	}
	return nil
}

// fail aborts the transaction after an error that may have left its trees
// half-modified. Size validation errors leave the transaction usable.
func (w *WriteTxn) fail(err error) error {
	if validationError(err) || !w.tx.IsActive() {
		return err
	}
	w.db.log.WithComponent("txn").Warn("write transaction aborted", "txn", w.tx.ID, "error", err)
	w.abort()
	return err
}

// OpenTable opens a table, creating it when it does not exist. Opening the
// same table twice returns the same handle.
func (w *WriteTxn) OpenTable(def TableDefinition) (*Table, error) {
	if err := w.live(); err != nil {
		return nil, err
	}
	if err := def.validate(); err != nil {
		return nil, err
	}

	if t, ok := w.tables[def.Name]; ok {
		if err := def.checkEntry(t.entry); err != nil {
			return nil, err
		}
		return t, nil
	}

	o := def.order()
	e, ok, err := w.catalog.Lookup(def.Name)
	if err != nil {
		return nil, w.fail(err)
	}
	if ok {
		if err := def.checkEntry(e); err != nil {
			return nil, err
		}
	} else {
		e = &catalog.Entry{
			Name:       def.Name,
			KeyType:    def.KeyType,
			ValueType:  def.ValueType,
			Comparator: o.Name,
		}
		if err := w.catalog.Put(e); err != nil {
			return nil, w.fail(err)
		}
	}
	w.modified = true
	w.db.orders.Store(o.Name, o)

	t := &Table{
		wtx:   w,
		def:   def,
		entry: e,
	}
	t.ReadOnlyTable = &ReadOnlyTable{
		name:    def.Name,
		tree:    btree.NewWritable(e.Root, w.store, o.Compare, w.db.layout),
		entries: e.Entries,
		live: func() error {
			if err := w.live(); err != nil {
				return err
			}
			if t.dropped {
				return ErrTableDropped
			}
			return nil
		},
	}
	w.tables[def.Name] = t
	return t, nil
}

// DeleteTable removes a table and frees all its pages. It reports whether
// the table existed. Handles of the table fail with ErrTableDropped
// afterwards.
func (w *WriteTxn) DeleteTable(name string) (bool, error) {
	if err := w.live(); err != nil {
		return false, err
	}
	if name == "" {
		return false, fmt.Errorf("%w: empty name", ErrInvalidTableName)
	}

	var tree *btree.BPlusTree
	if t, ok := w.tables[name]; ok {
		tree = t.tree
		t.dropped = true
		delete(w.tables, name)
	} else {
		e, ok, err := w.catalog.Lookup(name)
		if err != nil {
			return false, w.fail(err)
		}
		if !ok {
			return false, nil
		}
		tree = btree.NewWritable(e.Root, w.store, nil, w.db.layout)
	}
	w.modified = true

	if err := tree.Clear(); err != nil {
		return false, w.fail(err)
	}
	if _, err := w.catalog.Delete(name); err != nil {
		return false, w.fail(err)
	}
	return true, nil
}

// ListTables returns the names of all tables in name order, including
// tables created in this transaction.
func (w *WriteTxn) ListTables() ([]string, error) {
	if err := w.live(); err != nil {
		return nil, err
	}
	return w.catalog.List()
}

// SetDurability changes the durability of this transaction. Turning
// durability off after persistent savepoints were created or released in
// the transaction fails with ErrPersistentSavepointModified.
func (w *WriteTxn) SetDurability(d Durability) error {
	if err := w.live(); err != nil {
		return err
	}
	if d != DurabilityImmediate && d != DurabilityNone {
		return fmt.Errorf("%w: unknown durability %d", ErrInvalidOptions, d)
	}
	if d == DurabilityNone && w.persistentModified {
		return ErrPersistentSavepointModified
	}
	w.durability = d
	return nil
}

// Stats reports the space usage of the state the transaction has built so
// far.
func (w *WriteTxn) Stats() (Stats, error) {
	if err := w.live(); err != nil {
		return Stats{}, err
	}
	if err := w.flushTables(); err != nil {
		return Stats{}, w.fail(err)
	}
	meta := w.base
	meta.TxnID = w.tx.ID
	meta.TotalPages = w.db.alloc.HighWater()
	return w.db.stats(meta, w.store, w.catalog, w.tracker, w.savepoints, uint64(w.db.alloc.Pool().Count()))
}

// flushTables writes the roots and entry counts of open tables into the
// working catalog.
func (w *WriteTxn) flushTables() error {
	for _, t := range w.tables {
		if !t.dirty() {
			continue
		}
		e := *t.entry
		e.Root = t.tree.Root()
		e.Entries = t.entries
		if err := w.catalog.Put(&e); err != nil {
			return err
		}
		t.entry = &e
	}
	return nil
}

// Abort discards the transaction. Pages it allocated return to the pool.
func (w *WriteTxn) Abort() error {
	if err := w.live(); err != nil {
		return err
	}
	w.abort()
	w.db.log.WithComponent("txn").Debug("write transaction aborted", "txn", w.tx.ID)
	return nil
}

func (w *WriteTxn) abort() {
	w.db.alloc.Restore(w.allocSnap)
	for _, id := range w.createdPins {
		w.db.registry.Release(id)
	}
	w.createdPins = nil
	w.db.txm.Rollback(w.tx)
}
