package obakv

import (
	"bytes"

	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// ReadTxn is a read transaction: a consistent view of the state that was
// current when it began. Pages of that state are not reused until the
// transaction is closed.
//
// A ReadTxn may be used from several goroutines. It is released by Close;
// one that is dropped without Close is released by the garbage collector.
type ReadTxn struct {
	db      *DB
	tx      *tx.Transaction
	meta    storage.Meta
	catalog *catalog.Catalog
}

func newReadTxn(db *DB, t *tx.Transaction, meta storage.Meta) *ReadTxn {
	return &ReadTxn{
		db:      db,
		tx:      t,
		meta:    meta,
		catalog: db.catalogAt(meta.CatalogRoot),
	}
}

// ID returns the id of the state the transaction reads.
func (r *ReadTxn) ID() uint64 {
	return r.meta.TxnID
}

func (r *ReadTxn) live() error {
	if r.db.closed.Load() {
		return ErrDatabaseClosed
	}
	if !r.tx.IsActive() {
		return ErrTxNotActive
	}
	return nil
}

// OpenTable opens an existing table. It fails with ErrTableDoesNotExist if
// the table was never created and with a *TableTypeMismatchError if def
// disagrees with the stored definition.
func (r *ReadTxn) OpenTable(def TableDefinition) (*ReadOnlyTable, error) {
	if err := r.live(); err != nil {
		return nil, err
	}
	if err := def.validate(); err != nil {
		return nil, err
	}

	e, ok, err := r.catalog.Lookup(def.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTableDoesNotExist
	}
	if err := def.checkEntry(e); err != nil {
		return nil, err
	}

	o := def.order()
	r.db.orders.Store(o.Name, o)
	return &ReadOnlyTable{
		name:    def.Name,
		tree:    r.db.readTree(e.Root, o.Compare),
		entries: e.Entries,
		live:    r.live,
	}, nil
}

// ListTables returns the names of all tables in name order.
func (r *ReadTxn) ListTables() ([]string, error) {
	if err := r.live(); err != nil {
		return nil, err
	}
	return r.catalog.List()
}

// TableInfo describes a stored table.
type TableInfo struct {
	Name      string
	KeyType   string
	ValueType string
	Order     string
	Entries   uint64
}

// Tables describes every table in name order.
func (r *ReadTxn) Tables() ([]TableInfo, error) {
	if err := r.live(); err != nil {
		return nil, err
	}
	entries, err := r.catalog.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]TableInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, TableInfo{
			Name:      e.Name,
			KeyType:   e.KeyType,
			ValueType: e.ValueType,
			Order:     e.Comparator,
			Entries:   e.Entries,
		})
	}
	return out, nil
}

// Definition returns the stored definition of a table. A key order this DB
// has not seen is returned with bytewise comparison: full scans are still
// in stored order, lookups are not reliable.
func (r *ReadTxn) Definition(name string) (TableDefinition, error) {
	if err := r.live(); err != nil {
		return TableDefinition{}, err
	}
	e, ok, err := r.catalog.Lookup(name)
	if err != nil {
		return TableDefinition{}, err
	}
	if !ok {
		return TableDefinition{}, ErrTableDoesNotExist
	}
	o, known := r.db.lookupOrder(e.Comparator)
	if !known {
		o = KeyOrder{Name: e.Comparator, Compare: bytes.Compare}
	}
	return TableDefinition{Name: e.Name, KeyType: e.KeyType, ValueType: e.ValueType, Order: o}, nil
}

// ListSavepoints returns the persistent savepoints of the snapshot in id
// order.
func (r *ReadTxn) ListSavepoints() ([]SavepointInfo, error) {
	if err := r.live(); err != nil {
		return nil, err
	}
	records, err := r.db.savepointList(r.meta.SavepointRoot).All()
	if err != nil {
		return nil, err
	}
	out := make([]SavepointInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, recordInfo(rec))
	}
	return out, nil
}

// Stats reports the space usage of the snapshot.
func (r *ReadTxn) Stats() (Stats, error) {
	if err := r.live(); err != nil {
		return Stats{}, err
	}
	return r.db.stats(r.meta, &readStore{db: r.db}, r.catalog, r.db.trackerAt(r.meta.FreedRoot), r.db.savepointList(r.meta.SavepointRoot), r.meta.FreeListCount)
}

// Close ends the transaction. Closing twice returns ErrTxNotActive.
func (r *ReadTxn) Close() error {
	return r.db.txm.EndRead(r.tx)
}
