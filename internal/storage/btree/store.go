package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Compare is a total order over keys. It returns a negative number when
// a < b, zero when a == b and a positive number when a > b.
type Compare func(a, b []byte) int

// BytewiseCompare orders keys lexicographically by byte.
func BytewiseCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Reader resolves pages of one database snapshot.
type Reader interface {
	// ReadNode returns the decoded node stored at id. The node must not be
	// modified by the caller.
	ReadNode(id storage.PageID) (*BPlusNode, error)
	// ReadOverflow returns a value stored in an overflow chain.
	ReadOverflow(head storage.PageID, length uint32) ([]byte, error)
	// OverflowPages lists the pages of an overflow chain.
	OverflowPages(head storage.PageID, length uint32) ([]storage.PageID, error)
}

// Writer is implemented by the active write transaction. Pages the
// transaction allocated belong to it and may be modified in place; every
// other node is copied on write.
type Writer interface {
	Reader
	// Allocate returns a page no published root references.
	Allocate() (storage.PageID, error)
	// Release records that the tree no longer references id.
	Release(id storage.PageID) error
	// Stage marks a node as dirty; it is written when the transaction commits.
	Stage(n *BPlusNode)
	// Owned reports whether id was allocated by this transaction.
	Owned(id storage.PageID) bool
	// WriteOverflow stores a large value and returns the chain head.
	WriteOverflow(value []byte) (storage.PageID, error)
}
