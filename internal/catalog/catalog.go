// Package catalog maps table names to the B-trees that hold them.
//
// The catalog is itself a B-tree keyed by table name in bytewise order. Each
// value records the root page of the table, its entry count and the type
// tags and key order it was created with.
package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// Catalog errors.
var (
	ErrInvalidName   = errors.New("invalid table name")
	ErrBadEntry      = errors.New("malformed catalog entry")
	ErrTagTooLong    = errors.New("type tag too long")
	ErrUnknownFormat = errors.New("unknown catalog entry format")
)

// entryFormat is the version byte at the start of every entry.
const entryFormat byte = 1

// entryHeaderSize is format(1) + root(8) + entries(8).
const entryHeaderSize = 17

// Entry describes one table.
type Entry struct {
	// Name is the table name; it is the catalog key and is not encoded in
	// the value.
	Name string

	// Root is the root page of the table, InvalidPageID when empty.
	Root storage.PageID

	// Entries is the number of keys in the table.
	Entries uint64

	// KeyType and ValueType are opaque tags compared on open.
	KeyType   string
	ValueType string

	// Comparator names the key order.
	Comparator string
}

// MarshalBinary encodes the entry value.
func (e *Entry) MarshalBinary() ([]byte, error) {
	tags := []string{e.KeyType, e.ValueType, e.Comparator}
	size := entryHeaderSize
	for _, s := range tags {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d bytes", ErrTagTooLong, len(s))
		}
		size += 2 + len(s)
	}

	buf := make([]byte, size)
	buf[0] = entryFormat
	binary.LittleEndian.PutUint64(buf[1:9], uint64(e.Root))
	binary.LittleEndian.PutUint64(buf[9:17], e.Entries)

	off := entryHeaderSize
	for _, s := range tags {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(s)))
		off += 2
		off += copy(buf[off:], s)
	}
	return buf, nil
}

// UnmarshalEntry decodes the value stored under name.
func UnmarshalEntry(name string, data []byte) (*Entry, error) {
	if len(data) < entryHeaderSize {
		return nil, fmt.Errorf("%w: table %q: %d bytes", ErrBadEntry, name, len(data))
	}
	if data[0] != entryFormat {
		return nil, fmt.Errorf("%w: table %q: format %d", ErrUnknownFormat, name, data[0])
	}

	e := &Entry{
		Name:    name,
		Root:    storage.PageID(binary.LittleEndian.Uint64(data[1:9])),
		Entries: binary.LittleEndian.Uint64(data[9:17]),
	}

	off := entryHeaderSize
	tags := []*string{&e.KeyType, &e.ValueType, &e.Comparator}
	for _, dst := range tags {
		if off+2 > len(data) {
			return nil, fmt.Errorf("%w: table %q: truncated", ErrBadEntry, name)
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return nil, fmt.Errorf("%w: table %q: truncated", ErrBadEntry, name)
		}
		*dst = string(data[off : off+n])
		off += n
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: table %q: %d trailing bytes", ErrBadEntry, name, len(data)-off)
	}
	return e, nil
}

// Catalog wraps the catalog tree of one snapshot or write transaction.
type Catalog struct {
	tree *btree.BPlusTree
}

// New wraps tree. Reads work on any tree; Put and Delete need a writable
// one.
func New(tree *btree.BPlusTree) *Catalog {
	return &Catalog{tree: tree}
}

// Tree returns the underlying B-tree.
func (c *Catalog) Tree() *btree.BPlusTree {
	return c.tree
}

// Root returns the current root page of the catalog.
func (c *Catalog) Root() storage.PageID {
	return c.tree.Root()
}

// Lookup returns the entry of table name.
func (c *Catalog) Lookup(name string) (*Entry, bool, error) {
	if name == "" {
		return nil, false, ErrInvalidName
	}
	v, ok, err := c.tree.Get([]byte(name))
	if err != nil || !ok {
		return nil, false, err
	}
	e, err := UnmarshalEntry(name, v)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Put creates or replaces the entry of e.Name.
func (c *Catalog) Put(e *Entry) error {
	if e.Name == "" {
		return ErrInvalidName
	}
	v, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := c.tree.Insert([]byte(e.Name), v); err != nil {
		if errors.Is(err, btree.ErrKeyTooLarge) {
			return fmt.Errorf("%w: %w", ErrInvalidName, err)
		}
		return err
	}
	return nil
}

// Delete removes the entry of table name. It does not touch the table's
// own pages.
func (c *Catalog) Delete(name string) (bool, error) {
	if name == "" {
		return false, ErrInvalidName
	}
	return c.tree.Delete([]byte(name))
}

// List returns all table names in order.
func (c *Catalog) List() ([]string, error) {
	var names []string
	it := c.tree.Range(nil, nil, false)
	for it.Next() {
		names = append(names, string(it.Key()))
	}
	return names, it.Err()
}

// Entries returns all entries in name order.
func (c *Catalog) Entries() ([]*Entry, error) {
	var entries []*Entry
	it := c.tree.Range(nil, nil, false)
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		e, err := UnmarshalEntry(string(it.Key()), v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, it.Err()
}
