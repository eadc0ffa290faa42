// Package savepoint stores persistent savepoint records.
//
// A savepoint captures the catalog root of one committed state. Persistent
// savepoints are kept in a B-tree keyed by savepoint id (big-endian, so the
// tree orders them by creation).
package savepoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

var (
	ErrBadRecord   = errors.New("malformed savepoint record")
	ErrNameTooLong = errors.New("savepoint name too long")
)

// recordHeaderSize is txnID(8) + catalogRoot(8) + createdAt(8) + nameLen(2).
const recordHeaderSize = 26

// Record is one savepoint.
type Record struct {
	ID          uint64
	TxnID       uint64
	CatalogRoot storage.PageID
	CreatedAt   time.Time
	Name        string
}

// Key returns the tree key of id.
func Key(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

// MarshalBinary encodes everything but the id, which is the key.
func (r *Record) MarshalBinary() ([]byte, error) {
	if len(r.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(r.Name))
	}
	buf := make([]byte, recordHeaderSize+len(r.Name))
	binary.LittleEndian.PutUint64(buf[0:8], r.TxnID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.CatalogRoot))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.CreatedAt.UnixNano()))
	binary.LittleEndian.PutUint16(buf[24:26], uint16(len(r.Name)))
	copy(buf[recordHeaderSize:], r.Name)
	return buf, nil
}

// Unmarshal decodes a record stored under key.
func Unmarshal(key, data []byte) (*Record, error) {
	if len(key) != 8 || len(data) < recordHeaderSize {
		return nil, ErrBadRecord
	}
	n := int(binary.LittleEndian.Uint16(data[24:26]))
	if len(data) != recordHeaderSize+n {
		return nil, ErrBadRecord
	}
	return &Record{
		ID:          binary.BigEndian.Uint64(key),
		TxnID:       binary.LittleEndian.Uint64(data[0:8]),
		CatalogRoot: storage.PageID(binary.LittleEndian.Uint64(data[8:16])),
		CreatedAt:   time.Unix(0, int64(binary.LittleEndian.Uint64(data[16:24]))),
		Name:        string(data[recordHeaderSize:]),
	}, nil
}

// List is the savepoint tree of one snapshot or write transaction.
type List struct {
	tree *btree.BPlusTree
}

// NewList wraps tree.
func NewList(tree *btree.BPlusTree) *List {
	return &List{tree: tree}
}

// Root returns the root page of the list.
func (l *List) Root() storage.PageID {
	return l.tree.Root()
}

// Tree returns the underlying B-tree.
func (l *List) Tree() *btree.BPlusTree {
	return l.tree
}

// Put stores r.
func (l *List) Put(r *Record) error {
	v, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = l.tree.Insert(Key(r.ID), v)
	return err
}

// Get returns the record of id.
func (l *List) Get(id uint64) (*Record, bool, error) {
	key := Key(id)
	v, ok, err := l.tree.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := Unmarshal(key, v)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// Delete removes the record of id.
func (l *List) Delete(id uint64) (bool, error) {
	return l.tree.Delete(Key(id))
}

// All returns every record in id order.
func (l *List) All() ([]*Record, error) {
	return l.collect(nil)
}

func (l *List) collect(lo []byte) ([]*Record, error) {
	var records []*Record
	it := l.tree.Range(lo, nil, false)
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		r, err := Unmarshal(bytes.Clone(it.Key()), v)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, it.Err()
}

// DeleteAfter removes every record with an id greater than id and returns
// the removed records.
func (l *List) DeleteAfter(id uint64) ([]*Record, error) {
	if id == math.MaxUint64 {
		return nil, nil
	}
	records, err := l.collect(Key(id + 1))
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if _, err := l.tree.Delete(Key(r.ID)); err != nil {
			return nil, err
		}
	}
	return records, nil
}
