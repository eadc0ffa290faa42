package obakv

import (
	"time"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/savepoint"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// SavepointID identifies a savepoint. Ids grow with every savepoint created
// in the file.
type SavepointID uint64

// SavepointInfo describes a savepoint.
type SavepointInfo struct {
	ID         SavepointID
	Name       string
	TxnID      uint64 // state the savepoint captured
	CreatedAt  time.Time
	Persistent bool
}

// Savepoint is an ephemeral savepoint. It lives in memory only, belongs to
// the DB that created it and disappears when that DB is closed. Its state
// stays restorable until Release is called.
type Savepoint struct {
	db          *DB
	dbID        uuid.UUID
	id          uint64
	txnID       uint64
	catalogRoot storage.PageID
	createdAt   time.Time
	released    bool // guarded by db.epMu
}

// ID returns the savepoint id.
func (s *Savepoint) ID() SavepointID {
	return SavepointID(s.id)
}

// TxnID returns the id of the state the savepoint captured.
func (s *Savepoint) TxnID() uint64 {
	return s.txnID
}

// Release drops the savepoint. Releasing twice is a no-op.
func (s *Savepoint) Release() {
	s.db.epMu.Lock()
	defer s.db.epMu.Unlock()
	if s.released {
		return
	}
	s.released = true
	delete(s.db.ephemeral, s.id)
	s.db.registry.Release(s.txnID)
}

func (s *Savepoint) info() SavepointInfo {
	return SavepointInfo{ID: s.ID(), TxnID: s.txnID, CreatedAt: s.createdAt}
}

func recordInfo(r *savepoint.Record) SavepointInfo {
	return SavepointInfo{
		ID:         SavepointID(r.ID),
		Name:       r.Name,
		TxnID:      r.TxnID,
		CreatedAt:  r.CreatedAt,
		Persistent: true,
	}
}

// invalidateEphemeral drops the ephemeral savepoints created after id.
func (db *DB) invalidateEphemeral(id uint64) {
	db.epMu.Lock()
	defer db.epMu.Unlock()
	for sid, sp := range db.ephemeral {
		if sid <= id {
			continue
		}
		sp.released = true
		delete(db.ephemeral, sid)
		db.registry.Release(sp.txnID)
	}
}

// checkSavepointable fails when the transaction already touched tables,
// since a savepoint captures the state the transaction started from.
func (w *WriteTxn) checkSavepointable() error {
	if err := w.live(); err != nil {
		return err
	}
	if w.modified {
		return ErrTransactionDirty
	}
	return nil
}

// CreateSavepoint stores a persistent savepoint of the state the
// transaction started from. It is kept across restarts until released.
func (w *WriteTxn) CreateSavepoint(name string) (SavepointID, error) {
	if err := w.checkSavepointable(); err != nil {
		return 0, err
	}
	if w.durability == DurabilityNone {
		return 0, ErrPersistentSavepointModified
	}

	r := &savepoint.Record{
		ID:          w.db.nextSavepointID,
		TxnID:       w.base.TxnID,
		CatalogRoot: w.base.CatalogRoot,
		CreatedAt:   time.Now(),
		Name:        name,
	}
	if _, err := r.MarshalBinary(); err != nil {
		return 0, err
	}
	if err := w.savepoints.Put(r); err != nil {
		return 0, w.fail(err)
	}

	w.db.nextSavepointID++
	w.db.registry.Acquire(r.TxnID)
	w.createdPins = append(w.createdPins, r.TxnID)
	w.persistentModified = true

	w.db.log.WithComponent("savepoint").Info("savepoint created",
		"id", r.ID, "name", name, "txn", r.TxnID, "persistent", true)
	return SavepointID(r.ID), nil
}

// EphemeralSavepoint captures the state the transaction started from in
// memory. The savepoint survives the transaction, whether it commits or
// not.
func (w *WriteTxn) EphemeralSavepoint() (*Savepoint, error) {
	if err := w.checkSavepointable(); err != nil {
		return nil, err
	}

	db := w.db
	sp := &Savepoint{
		db:          db,
		dbID:        db.id,
		id:          db.nextSavepointID,
		txnID:       w.base.TxnID,
		catalogRoot: w.base.CatalogRoot,
		createdAt:   time.Now(),
	}
	db.nextSavepointID++
	db.registry.Acquire(sp.txnID)

	db.epMu.Lock()
	db.ephemeral[sp.id] = sp
	db.epMu.Unlock()

	db.log.WithComponent("savepoint").Debug("savepoint created", "id", sp.id, "txn", sp.txnID, "persistent", false)
	return sp, nil
}

// lookupSavepoint finds a live savepoint by id, ephemeral ones first.
func (w *WriteTxn) lookupSavepoint(id SavepointID) (txnID uint64, root storage.PageID, err error) {
	db := w.db
	db.epMu.Lock()
	sp, ok := db.ephemeral[uint64(id)]
	if ok {
		txnID, root = sp.txnID, sp.catalogRoot
	}
	db.epMu.Unlock()
	if ok {
		return txnID, root, nil
	}

	r, ok, err := w.savepoints.Get(uint64(id))
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrInvalidSavepoint
	}
	return r.TxnID, r.CatalogRoot, nil
}

// RestoreSavepoint makes the state captured by a savepoint the working
// state of the transaction. It must be the first thing the transaction
// does. Savepoints created after the restored one are deleted when the
// transaction commits.
func (w *WriteTxn) RestoreSavepoint(id SavepointID) error {
	if err := w.checkSavepointable(); err != nil {
		return err
	}
	txnID, root, err := w.lookupSavepoint(id)
	if err != nil {
		return err
	}
	return w.restore(uint64(id), txnID, root)
}

// RestoreEphemeralSavepoint restores an ephemeral savepoint. A savepoint of
// another DB instance is rejected with ErrInvalidSavepoint.
func (w *WriteTxn) RestoreEphemeralSavepoint(sp *Savepoint) error {
	if err := w.checkSavepointable(); err != nil {
		return err
	}
	if sp == nil || sp.dbID != w.db.id {
		return ErrInvalidSavepoint
	}
	w.db.epMu.Lock()
	released := sp.released
	w.db.epMu.Unlock()
	if released {
		return ErrInvalidSavepoint
	}
	return w.restore(sp.id, sp.txnID, sp.catalogRoot)
}

func (w *WriteTxn) restore(id, txnID uint64, root storage.PageID) error {
	db := w.db

	if w.durability == DurabilityNone {
		records, err := w.savepoints.All()
		if err != nil {
			return err
		}
		if len(records) > 0 && records[len(records)-1].ID > id {
			return ErrPersistentSavepointModified
		}
	}

	inSavepoint, err := db.reachable(root)
	if err != nil {
		return err
	}
	current, err := db.reachable(w.catalog.Root())
	if err != nil {
		return err
	}

	// Pages only the current state references become pending at this
	// transaction; older readers may still use them.
	freed := 0
	for pid := range current {
		if _, ok := inSavepoint[pid]; !ok {
			w.tx.AddFreed(pid)
			freed++
		}
	}
	w.catalog = catalog.New(btree.NewWritable(root, w.store, nil, db.layout))
	w.modified = true

	resurrected, err := w.tracker.Resurrect(txnID, func(pid storage.PageID) bool {
		_, ok := inSavepoint[pid]
		return ok
	})
	if err != nil {
		return w.fail(err)
	}

	removed, err := w.savepoints.DeleteAfter(id)
	if err != nil {
		return w.fail(err)
	}
	for _, r := range removed {
		w.pendingUnpins = append(w.pendingUnpins, r.TxnID)
	}
	if len(removed) > 0 {
		w.persistentModified = true
	}
	w.restoredID = id

	db.log.WithComponent("savepoint").Info("savepoint restored",
		"id", id,
		"txn", txnID,
		"freed", freed,
		"resurrected", resurrected,
		"invalidated", len(removed),
	)
	return nil
}

// ReleaseSavepoint deletes a persistent or ephemeral savepoint. It reports
// whether the savepoint existed. Releasing a persistent savepoint takes
// effect when the transaction commits.
func (w *WriteTxn) ReleaseSavepoint(id SavepointID) (bool, error) {
	if err := w.live(); err != nil {
		return false, err
	}

	w.db.epMu.Lock()
	sp, ok := w.db.ephemeral[uint64(id)]
	w.db.epMu.Unlock()
	if ok {
		sp.Release()
		return true, nil
	}

	r, ok, err := w.savepoints.Get(uint64(id))
	if err != nil || !ok {
		return false, err
	}
	if w.durability == DurabilityNone {
		return false, ErrPersistentSavepointModified
	}
	if _, err := w.savepoints.Delete(uint64(id)); err != nil {
		return false, w.fail(err)
	}
	w.pendingUnpins = append(w.pendingUnpins, r.TxnID)
	w.persistentModified = true
	return true, nil
}

// ListSavepoints returns the live savepoints in id order, persistent and
// ephemeral.
func (w *WriteTxn) ListSavepoints() ([]SavepointInfo, error) {
	if err := w.live(); err != nil {
		return nil, err
	}
	records, err := w.savepoints.All()
	if err != nil {
		return nil, err
	}

	var out []SavepointInfo
	eph := w.db.ephemeralSavepoints()
	i := 0
	for _, r := range records {
		for i < len(eph) && eph[i].id < r.ID {
			out = append(out, eph[i].info())
			i++
		}
		out = append(out, recordInfo(r))
	}
	for ; i < len(eph); i++ {
		out = append(out, eph[i].info())
	}
	return out, nil
}

// reachable returns every page of the catalog rooted at root and of all its
// tables, overflow pages included.
func (db *DB) reachable(root storage.PageID) (map[storage.PageID]struct{}, error) {
	pages := make(map[storage.PageID]struct{})
	add := func(id storage.PageID, _ storage.PageType, _ int) error {
		pages[id] = struct{}{}
		return nil
	}

	cat := db.catalogAt(root)
	if err := cat.Tree().Walk(add); err != nil {
		return nil, err
	}
	entries, err := cat.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := db.readTree(e.Root, nil).Walk(add); err != nil {
			return nil, err
		}
	}
	return pages, nil
}
