package btree

import (
	"errors"
	"slices"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Tree errors.
var (
	ErrReadOnlyTree  = errors.New("tree is read-only")
	ErrKeyTooLarge   = errors.New("key too large")
	ErrValueTooLarge = storage.ErrValueTooLarge
	ErrTreeModified  = errors.New("tree modified during iteration")
)

// BPlusTree is a copy-on-write B+ tree rooted at a single page. A tree
// opened over a Reader is an immutable view of one snapshot; a tree opened
// over a Writer rewrites every node it touches into pages owned by the
// write transaction and produces a new root.
//
// A BPlusTree is not safe for concurrent use.
type BPlusTree struct {
	root   storage.PageID
	reader Reader
	writer Writer
	cmp    Compare
	layout Layout
	mods   uint64
}

// NewReadOnly opens a tree rooted at root for reading.
func NewReadOnly(root storage.PageID, r Reader, cmp Compare, layout Layout) *BPlusTree {
	if cmp == nil {
		cmp = BytewiseCompare
	}
	return &BPlusTree{root: root, reader: r, cmp: cmp, layout: layout}
}

// NewWritable opens a tree rooted at root for modification.
func NewWritable(root storage.PageID, w Writer, cmp Compare, layout Layout) *BPlusTree {
	t := NewReadOnly(root, w, cmp, layout)
	t.writer = w
	return t
}

// Root returns the current root page, InvalidPageID for an empty tree.
func (t *BPlusTree) Root() storage.PageID {
	return t.root
}

// IsEmpty reports whether the tree holds no entries.
func (t *BPlusTree) IsEmpty() bool {
	return t.root == InvalidPageID
}

// Layout returns the node size limits of the tree.
func (t *BPlusTree) Layout() Layout {
	return t.layout
}

// Compare returns the key order of the tree.
func (t *BPlusTree) Compare() Compare {
	return t.cmp
}

// readNode loads a node through the snapshot or transaction.
func (t *BPlusTree) readNode(id storage.PageID) (*BPlusNode, error) {
	return t.reader.ReadNode(id)
}

// writable returns a node the transaction may modify: the node itself if the
// transaction owns its page, otherwise a copy in a freshly allocated page.
// The original page is released.
func (t *BPlusTree) writable(n *BPlusNode) (*BPlusNode, error) {
	if t.writer.Owned(n.PageID) {
		return n, nil
	}

	id, err := t.writer.Allocate()
	if err != nil {
		return nil, err
	}
	if err := t.writer.Release(n.PageID); err != nil {
		return nil, err
	}

	c := n.Clone()
	c.PageID = id
	return c, nil
}

// newNode allocates a page for a node built by the transaction.
func (t *BPlusTree) newNode(leaf bool) (*BPlusNode, error) {
	id, err := t.writer.Allocate()
	if err != nil {
		return nil, err
	}
	return &BPlusNode{PageID: id, IsLeaf: leaf}, nil
}

// makeValue stores value inline or in an overflow chain.
func (t *BPlusTree) makeValue(key, value []byte) (Value, error) {
	if t.layout.inline(key, len(value)) {
		return Value{Inline: slices.Clone(value), Length: uint32(len(value))}, nil
	}
	head, err := t.writer.WriteOverflow(value)
	if err != nil {
		return Value{}, err
	}
	return Value{Overflow: head, Length: uint32(len(value))}, nil
}

// loadValue returns a copy of a stored value.
func (t *BPlusTree) loadValue(v Value) ([]byte, error) {
	if v.IsOverflow() {
		return t.reader.ReadOverflow(v.Overflow, v.Length)
	}
	out := make([]byte, len(v.Inline))
	copy(out, v.Inline)
	return out, nil
}

// releaseValue releases the overflow chain of a value that is no longer referenced.
func (t *BPlusTree) releaseValue(v Value) error {
	if !v.IsOverflow() {
		return nil
	}
	pages, err := t.reader.OverflowPages(v.Overflow, v.Length)
	if err != nil {
		return err
	}
	for _, id := range pages {
		if err := t.writer.Release(id); err != nil {
			return err
		}
	}
	return nil
}

// checkEntry validates key and value sizes before a write.
func (t *BPlusTree) checkEntry(key []byte, valueLen int) error {
	if t.writer == nil {
		return ErrReadOnlyTree
	}
	if len(key) > t.layout.MaxKeySize() {
		return ErrKeyTooLarge
	}
	if uint64(valueLen) > storage.MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}
