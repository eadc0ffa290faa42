package obakv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// KeyOrder is a named total order over keys. The name is stored in the
// catalog; a table must always be opened with the order it was created
// with.
type KeyOrder struct {
	Name    string
	Compare func(a, b []byte) int
}

// BytewiseOrder sorts keys lexicographically by byte. It is the default.
var BytewiseOrder = KeyOrder{Name: "bytewise", Compare: bytes.Compare}

// Uint64Order sorts 8-byte little-endian unsigned integers numerically.
// Shorter keys sort before all integers, bytewise among themselves.
var Uint64Order = KeyOrder{Name: "u64le", Compare: compareUint64LE}

func compareUint64LE(a, b []byte) int {
	if len(a) != 8 || len(b) != 8 {
		if len(a) == 8 {
			return 1
		}
		if len(b) == 8 {
			return -1
		}
		return bytes.Compare(a, b)
	}
	x, y := binary.LittleEndian.Uint64(a), binary.LittleEndian.Uint64(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// U64Key encodes v as a key for Uint64Order.
func U64Key(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// TableDefinition names a table and the type tags it stores. KeyType and
// ValueType are opaque; they are compared for equality when the table is
// opened again.
type TableDefinition struct {
	Name      string
	KeyType   string
	ValueType string
	Order     KeyOrder
}

func (d TableDefinition) order() KeyOrder {
	if d.Order.Name == "" && d.Order.Compare == nil {
		return BytewiseOrder
	}
	return d.Order
}

func (d TableDefinition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTableName)
	}
	o := d.order()
	if o.Name == "" || o.Compare == nil {
		return fmt.Errorf("%w: key order needs a name and a compare function", ErrUnknownOrder)
	}
	return nil
}

// describe formats the type signature of a table.
func describe(keyType, valueType, order string) string {
	return fmt.Sprintf("(key=%q value=%q order=%q)", keyType, valueType, order)
}

// checkEntry compares a stored catalog entry with a definition.
func (d TableDefinition) checkEntry(e *catalog.Entry) error {
	o := d.order()
	if e.KeyType == d.KeyType && e.ValueType == d.ValueType && e.Comparator == o.Name {
		return nil
	}
	return &TableTypeMismatchError{
		Table:     d.Name,
		Stored:    describe(e.KeyType, e.ValueType, e.Comparator),
		Requested: describe(d.KeyType, d.ValueType, o.Name),
	}
}

// ReadOnlyTable is a table of a read transaction. Inside a write
// transaction the same methods are available on Table.
type ReadOnlyTable struct {
	name    string
	tree    *btree.BPlusTree
	entries uint64
	live    func() error
}

// Name returns the table name.
func (t *ReadOnlyTable) Name() string {
	return t.name
}

// Get returns the value stored under key, or nil if the key is absent. A
// stored empty value is returned as a non-nil empty slice.
func (t *ReadOnlyTable) Get(key []byte) ([]byte, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	v, ok, err := t.tree.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

// Range iterates over the keys in [lo, hi) in ascending order. A nil bound
// is unbounded.
func (t *ReadOnlyTable) Range(lo, hi []byte) *Iterator {
	return &Iterator{it: t.tree.Range(lo, hi, false), live: t.live}
}

// RangeReverse iterates over the keys in [lo, hi) in descending order.
func (t *ReadOnlyTable) RangeReverse(lo, hi []byte) *Iterator {
	return &Iterator{it: t.tree.Range(lo, hi, true), live: t.live}
}

// First returns the smallest entry.
func (t *ReadOnlyTable) First() (key, value []byte, ok bool, err error) {
	if err := t.live(); err != nil {
		return nil, nil, false, err
	}
	return t.tree.First()
}

// Last returns the largest entry.
func (t *ReadOnlyTable) Last() (key, value []byte, ok bool, err error) {
	if err := t.live(); err != nil {
		return nil, nil, false, err
	}
	return t.tree.Last()
}

// Len returns the number of entries.
func (t *ReadOnlyTable) Len() (uint64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	return t.entries, nil
}

// IsEmpty reports whether the table holds no entries.
func (t *ReadOnlyTable) IsEmpty() (bool, error) {
	n, err := t.Len()
	return n == 0, err
}

// Table is a table opened in a write transaction.
type Table struct {
	*ReadOnlyTable
	wtx     *WriteTxn
	def     TableDefinition
	entry   *catalog.Entry // as stored in the working catalog
	dropped bool
}

// Insert stores value under key and reports whether an existing value was
// replaced.
func (t *Table) Insert(key, value []byte) (bool, error) {
	if err := t.live(); err != nil {
		return false, err
	}
	replaced, err := t.tree.Insert(key, value)
	if err != nil {
		return false, t.wtx.fail(err)
	}
	if !replaced {
		t.entries++
	}
	return replaced, nil
}

// Remove deletes key and reports whether it was present.
func (t *Table) Remove(key []byte) (bool, error) {
	if err := t.live(); err != nil {
		return false, err
	}
	removed, err := t.tree.Delete(key)
	if err != nil {
		return false, t.wtx.fail(err)
	}
	if removed {
		t.entries--
	}
	return removed, nil
}

// dirty reports whether the catalog entry is behind the tree.
func (t *Table) dirty() bool {
	return t.tree.Root() != t.entry.Root || t.entries != t.entry.Entries
}

// Iterator walks a key range of a table. Values are loaded lazily.
//
// In a write transaction an iterator fails with ErrTreeModified once its
// table is modified after the iterator was created or rewound.
type Iterator struct {
	it   *btree.Iterator
	live func() error
	err  error
}

// Next advances to the next entry. It returns false at the end of the
// range or on error; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.live(); err != nil {
		it.err = err
		return false
	}
	return it.it.Next()
}

// Key returns the current key. It is valid until the next call to Next.
func (it *Iterator) Key() []byte {
	return it.it.Key()
}

// Value returns a copy of the current value.
func (it *Iterator) Value() ([]byte, error) {
	return it.it.Value()
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.it.Err()
}

// Rewind restarts the iteration from the beginning of the range.
func (it *Iterator) Rewind() {
	it.err = nil
	it.it.Rewind()
}

// All rewinds the iterator and returns it as a sequence of key/value
// pairs. Iteration stops at the first error, which is then returned by Err.
func (it *Iterator) All() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		it.Rewind()
		for it.Next() {
			v, err := it.Value()
			if err != nil {
				it.err = err
				return
			}
			if !yield(it.Key(), v) {
				return
			}
		}
	}
}
