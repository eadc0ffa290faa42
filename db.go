package obakv

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/mvcc"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// dbState is one published database state.
type dbState struct {
	meta storage.Meta
}

// DB is an open database file.
//
// A DB is safe for concurrent use. Any number of read transactions may run
// alongside at most one write transaction.
type DB struct {
	pm       *storage.PageManager
	opts     Options
	log      Logger
	id       uuid.UUID // instance id, binds ephemeral savepoints
	layout   btree.Layout
	txm      *tx.TxManager
	registry *mvcc.Registry
	cache    *storage.LRUCache[*btree.BPlusNode]
	orders   sync.Map // order name -> KeyOrder seen by OpenTable

	// state is the latest published state. Readers load it without locks.
	state atomic.Pointer[dbState]

	// Owned by the writer lease holder.
	alloc           *storage.Allocator
	chain           []storage.PageID // free-list chain pages of the latest state
	durable         storage.Meta     // last state written to a metapage slot
	durableSlot     storage.PageID
	durablePinned   bool
	nextSavepointID uint64

	epMu      sync.Mutex
	ephemeral map[uint64]*Savepoint

	closed atomic.Bool
}

// Open opens the database file at path, creating it when allowed by the
// options. A nil opts uses DefaultOptions.
func Open(path string, opts *Options) (*DB, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	pm, err := storage.OpenPageManager(path, storage.Options{
		PageSize:          o.PageSize,
		InitialPages:      o.InitialPages,
		CreateIfNotExists: o.CreateIfNotExists,
		ReadOnly:          o.ReadOnly,
		MaxSize:           o.MaxSize,
		Logger:            o.Logger.WithComponent("storage"),
	})
	if err != nil {
		return nil, err
	}

	choice := pm.Recovered()
	meta := choice.Meta

	db := &DB{
		pm:              pm,
		opts:            o,
		log:             o.Logger.WithComponent("db"),
		id:              uuid.New(),
		layout:          btree.Layout{PageSize: pm.PageSize()},
		registry:        mvcc.NewRegistry(),
		cache:           storage.NewLRUCache[*btree.BPlusNode](o.cachedNodes(pm.PageSize())),
		durable:         meta,
		durableSlot:     choice.Slot,
		nextSavepointID: max(meta.NextSavepointID, 1),
		ephemeral:       make(map[uint64]*Savepoint),
	}
	db.txm = tx.NewTxManager(meta.TxnID, db.registry, o.WriteTimeout)
	db.state.Store(&dbState{meta: meta})

	if choice.Fallback {
		db.log.Warn("metapage failed validation, using the other slot",
			"path", path, "slot", choice.Slot, "txn", meta.TxnID)
	}

	if !o.ReadOnly {
		pool, chain, err := storage.LoadFreeList(pm, meta.FreeListHead, meta.FreeListCount)
		if err != nil {
			pm.Close()
			return nil, err
		}
		db.alloc = storage.NewAllocator(pm, meta.TotalPages, pool)
		db.chain = chain
	}

	if err := db.pinSavepoints(meta); err != nil {
		pm.Close()
		return nil, err
	}

	if pm.Created() {
		db.log.Info("database created", "path", path, "page_size", pm.PageSize(), "file_id", meta.FileID)
	} else {
		db.log.Info("database opened",
			"path", path,
			"page_size", pm.PageSize(),
			"txn", meta.TxnID,
			"slot", choice.Slot,
			"pages", meta.TotalPages,
			"read_only", o.ReadOnly,
		)
	}
	return db, nil
}

// pinSavepoints registers every persistent savepoint of meta so the pages
// it references stay pending.
func (db *DB) pinSavepoints(meta storage.Meta) error {
	records, err := db.savepointList(meta.SavepointRoot).All()
	if err != nil {
		return err
	}
	for _, r := range records {
		db.registry.Acquire(r.TxnID)
	}
	if len(records) > 0 {
		db.log.Debug("persistent savepoints pinned", "count", len(records))
	}
	return nil
}

// Path returns the path of the database file.
func (db *DB) Path() string {
	return db.pm.Path()
}

// PageSize returns the page size of the file.
func (db *DB) PageSize() int {
	return db.pm.PageSize()
}

// ReadOnly reports whether the database was opened read-only.
func (db *DB) ReadOnly() bool {
	return db.opts.ReadOnly
}

// BeginRead starts a read transaction over the latest committed state. It
// never waits for the writer.
func (db *DB) BeginRead() (*ReadTxn, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}

	for {
		st := db.state.Load()
		t, err := db.txm.BeginRead(st.meta.TxnID)
		if err != nil {
			return nil, db.txError(err)
		}
		// A commit that computed its watermark before the registration could
		// reclaim pages of st; only a state still current is safe.
		if db.state.Load() == st {
			return newReadTxn(db, t, st.meta), nil
		}
		db.txm.EndRead(t)
	}
}

// BeginWrite starts the write transaction, waiting for the current writer
// to finish. With Options.WriteTimeout set the wait is bounded and fails
// with ErrWriterBusy.
func (db *DB) BeginWrite() (*WriteTxn, error) {
	return db.BeginWriteContext(context.Background())
}

// BeginWriteContext is BeginWrite with a context bounding the wait for the
// writer lease.
func (db *DB) BeginWriteContext(ctx context.Context) (*WriteTxn, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if db.opts.ReadOnly {
		return nil, ErrReadOnly
	}

	t, err := db.txm.BeginWrite(ctx)
	if err != nil {
		return nil, db.txError(err)
	}
	if db.closed.Load() {
		db.txm.Rollback(t)
		return nil, ErrDatabaseClosed
	}
	return newWriteTxn(db, t), nil
}

// View runs fn in a read transaction.
func (db *DB) View(fn func(*ReadTxn) error) error {
	r, err := db.BeginRead()
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// Update runs fn in a write transaction and commits it when fn returns nil.
// The transaction is aborted when fn fails or panics.
func (db *DB) Update(fn func(*WriteTxn) error) (err error) {
	w, err := db.BeginWrite()
	if err != nil {
		return err
	}
	defer func() {
		if w.tx.IsActive() {
			w.Abort()
		}
	}()

	if err := fn(w); err != nil {
		return err
	}
	return w.Commit()
}

// txError maps transaction manager errors to the public ones.
func (db *DB) txError(err error) error {
	if errors.Is(err, tx.ErrManagerClosed) {
		return ErrDatabaseClosed
	}
	return err
}

// Close waits for the active write transaction, makes the latest state
// durable and closes the file. Read transactions still open fail
// afterwards.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrDatabaseClosed
	}

	var errs []error
	if !db.opts.ReadOnly {
		// WriteTimeout does not apply here: the file stays open until the
		// active writer is done.
		db.txm.AcquireLease()
		if poison := db.txm.Poisoned(); poison != nil {
			db.log.Warn("closing after a failed commit, latest state not persisted", "error", poison)
		} else if err := db.persistLatest(); err != nil {
			errs = append(errs, err)
		}
		db.txm.Close()
		db.txm.ReleaseLease()
	}

	db.txm.Close()
	db.releaseEphemeral()
	db.cache.Purge()
	if err := db.pm.Close(); err != nil {
		errs = append(errs, err)
	}

	db.log.Info("database closed", "path", db.pm.Path(), "txn", db.state.Load().meta.TxnID)
	return errors.Join(errs...)
}

// persistLatest writes the latest state into a metapage slot when commits
// without durability left it only in memory. The caller holds the lease.
func (db *DB) persistLatest() error {
	latest := db.state.Load().meta
	if latest.TxnID == db.durable.TxnID {
		return nil
	}
	if err := db.writeMeta(latest); err != nil {
		db.txm.Poison(err)
		db.log.Error("failed to persist latest state", "txn", latest.TxnID, "error", err)
		return err
	}
	db.log.Info("latest state persisted", "txn", latest.TxnID, "slot", db.durableSlot)
	return nil
}

// writeMeta makes meta durable: data first, then the inactive metapage
// slot. It moves the durable pin forward.
func (db *DB) writeMeta(meta storage.Meta) error {
	if err := db.pm.Sync(); err != nil {
		return err
	}
	slot := 1 - db.durableSlot
	if err := db.pm.WriteMeta(slot, meta); err != nil {
		return err
	}
	if err := db.pm.Sync(); err != nil {
		return err
	}

	db.durableSlot = slot
	if db.durablePinned {
		db.registry.Release(db.durable.TxnID)
		db.durablePinned = false
	}
	db.durable = meta
	return nil
}

// releaseEphemeral drops every ephemeral savepoint.
func (db *DB) releaseEphemeral() {
	db.epMu.Lock()
	defer db.epMu.Unlock()
	for id, sp := range db.ephemeral {
		sp.released = true
		db.registry.Release(sp.txnID)
		delete(db.ephemeral, id)
	}
}

// ephemeralSavepoints returns the live ephemeral savepoints in id order.
func (db *DB) ephemeralSavepoints() []*Savepoint {
	db.epMu.Lock()
	defer db.epMu.Unlock()
	out := make([]*Savepoint, 0, len(db.ephemeral))
	for _, sp := range db.ephemeral {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// pinnedByEngine returns the registry entries that are not readers: the
// savepoints and the durable state pin.
func (db *DB) pinnedByEngine(persistent int) int {
	n := persistent
	db.epMu.Lock()
	n += len(db.ephemeral)
	db.epMu.Unlock()
	if db.durablePinned {
		n++
	}
	return n
}
