package mvcc

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// trackerKeySize is txnID(8) + chunk(4).
const trackerKeySize = 12

// ErrBadEntry is returned for a tracker entry that does not decode.
var ErrBadEntry = errors.New("malformed pending-free entry")

// PendingEntry lists the pages freed by one transaction.
type PendingEntry struct {
	TxnID uint64
	Pages []storage.PageID
}

// Tracker is the persisted table of pending frees: pages that stopped being
// referenced by a committed transaction but may still be visible to an
// older snapshot. Entries are keyed by the freeing transaction id and a
// chunk number, so one transaction may free any number of pages.
type Tracker struct {
	tree      *btree.BPlusTree
	chunkSize int // page ids per entry
}

// NewTracker wraps the tracker tree. A tracker over a read-only tree only
// supports Pending.
func NewTracker(tree *btree.BPlusTree) *Tracker {
	per := tree.Layout().MaxInlineValue(trackerKeySize) / 8
	return &Tracker{tree: tree, chunkSize: max(per, 1)}
}

// Tree returns the underlying B-tree.
func (t *Tracker) Tree() *btree.BPlusTree {
	return t.tree
}

// Root returns the root page of the tracker tree.
func (t *Tracker) Root() storage.PageID {
	return t.tree.Root()
}

func trackerKey(txnID uint64, chunk uint32) []byte {
	key := make([]byte, trackerKeySize)
	binary.BigEndian.PutUint64(key[0:8], txnID)
	binary.BigEndian.PutUint32(key[8:12], chunk)
	return key
}

func parseTrackerKey(key []byte) (uint64, uint32, error) {
	if len(key) != trackerKeySize {
		return 0, 0, ErrBadEntry
	}
	return binary.BigEndian.Uint64(key[0:8]), binary.BigEndian.Uint32(key[8:12]), nil
}

func packPages(ids []storage.PageID) []byte {
	buf := make([]byte, len(ids)*8)
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return buf
}

func unpackPages(buf []byte, dst []storage.PageID) ([]storage.PageID, error) {
	if len(buf)%8 != 0 {
		return dst, ErrBadEntry
	}
	for off := 0; off < len(buf); off += 8 {
		dst = append(dst, storage.PageID(binary.LittleEndian.Uint64(buf[off:])))
	}
	return dst, nil
}

// Record adds pages freed by transaction txnID. They stay pending until a
// Reclaim with a watermark above txnID.
func (t *Tracker) Record(txnID uint64, pages []storage.PageID) error {
	if len(pages) == 0 {
		return nil
	}

	chunk, err := t.nextChunk(txnID)
	if err != nil {
		return err
	}

	for len(pages) > 0 {
		n := min(len(pages), t.chunkSize)
		if _, err := t.tree.Insert(trackerKey(txnID, chunk), packPages(pages[:n])); err != nil {
			return err
		}
		pages = pages[n:]
		chunk++
	}
	return nil
}

// nextChunk returns the first unused chunk number of txnID.
func (t *Tracker) nextChunk(txnID uint64) (uint32, error) {
	it := t.tree.Range(trackerKey(txnID, 0), trackerKey(txnID+1, 0), true)
	if !it.Next() {
		return 0, it.Err()
	}
	_, chunk, err := parseTrackerKey(it.Key())
	if err != nil {
		return 0, err
	}
	return chunk + 1, nil
}

// Reclaim removes every entry of a transaction older than watermark and
// returns its pages, which no registered snapshot can reach any more.
func (t *Tracker) Reclaim(watermark uint64) ([]storage.PageID, error) {
	var (
		keys  [][]byte
		pages []storage.PageID
		err   error
	)

	it := t.tree.Range(nil, trackerKey(watermark, 0), false)
	for it.Next() {
		v, verr := it.Value()
		if verr != nil {
			return nil, verr
		}
		if pages, err = unpackPages(v, pages); err != nil {
			return nil, err
		}
		keys = append(keys, bytes.Clone(it.Key()))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	for _, key := range keys {
		if _, err := t.tree.Delete(key); err != nil {
			return nil, err
		}
	}
	return pages, nil
}

// Resurrect removes from the entries of transactions newer than after every
// page for which live returns true. Restoring a savepoint uses it for pages
// the savepoint references again. It returns the number of pages removed.
func (t *Tracker) Resurrect(after uint64, live func(storage.PageID) bool) (int, error) {
	type rewrite struct {
		key   []byte
		pages []storage.PageID
	}
	var rewrites []rewrite
	removed := 0

	it := t.tree.Range(trackerKey(after+1, 0), nil, false)
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return 0, err
		}
		pages, err := unpackPages(v, nil)
		if err != nil {
			return 0, err
		}
		kept := pages[:0:0]
		for _, id := range pages {
			if !live(id) {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(pages) {
			removed += len(pages) - len(kept)
			rewrites = append(rewrites, rewrite{key: bytes.Clone(it.Key()), pages: kept})
		}
	}
	if err := it.Err(); err != nil {
		return 0, err
	}

	for _, rw := range rewrites {
		var err error
		if len(rw.pages) == 0 {
			_, err = t.tree.Delete(rw.key)
		} else {
			_, err = t.tree.Insert(rw.key, packPages(rw.pages))
		}
		if err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// Pending returns all entries in transaction order.
func (t *Tracker) Pending() ([]PendingEntry, error) {
	var entries []PendingEntry

	it := t.tree.Range(nil, nil, false)
	for it.Next() {
		txnID, _, err := parseTrackerKey(it.Key())
		if err != nil {
			return nil, err
		}
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		if n := len(entries); n == 0 || entries[n-1].TxnID != txnID {
			entries = append(entries, PendingEntry{TxnID: txnID})
		}
		last := &entries[len(entries)-1]
		if last.Pages, err = unpackPages(v, last.Pages); err != nil {
			return nil, err
		}
	}
	return entries, it.Err()
}

// Count returns the number of pending pages.
func (t *Tracker) Count() (int, error) {
	entries, err := t.Pending()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		n += len(e.Pages)
	}
	return n, nil
}
