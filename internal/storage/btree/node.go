package btree

import (
	"slices"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Node layout constants.
const (
	// MaxFanout is the maximum number of keys in a node regardless of size.
	MaxFanout = 1024

	// leafEntryOverhead is keyLen(2) + kind(1) + valueLen(4).
	leafEntryOverhead = 7

	// branchEntryOverhead is keyLen(2) + child(8).
	branchEntryOverhead = 10

	// branchBaseSize is the leftmost child pointer of a branch.
	branchBaseSize = 8

	// overflowRefSize is the head page of an overflow chain.
	overflowRefSize = 8

	// InvalidPageID represents an empty tree or a missing child.
	InvalidPageID storage.PageID = 0
)

// Layout derives the node size limits from the page size.
type Layout struct {
	PageSize int
}

// Capacity returns the bytes available for node content in one page.
func (l Layout) Capacity() int {
	return l.PageSize - storage.PageHeaderSize
}

// MaxEntrySize is the largest encoded entry a node accepts. Keeping entries
// under a quarter page guarantees both halves of a split fit in a page.
func (l Layout) MaxEntrySize() int {
	return l.Capacity() / 4
}

// MaxKeySize is the largest key a table accepts.
func (l Layout) MaxKeySize() int {
	return l.MaxEntrySize() - leafEntryOverhead - overflowRefSize
}

// MinFill is the encoded size below which a non-root node is rebalanced.
func (l Layout) MinFill() int {
	return l.Capacity() / 4
}

// inline reports whether a value is stored in the leaf itself.
func (l Layout) inline(key []byte, valueLen int) bool {
	return leafEntryOverhead+len(key)+valueLen <= l.MaxEntrySize()
}

// MaxInlineValue is the largest value stored inline next to a key of the
// given length.
func (l Layout) MaxInlineValue(keyLen int) int {
	return l.MaxEntrySize() - leafEntryOverhead - keyLen
}

// Value is the value half of a leaf entry: either inline bytes or a
// reference to an overflow chain.
type Value struct {
	Inline   []byte
	Overflow storage.PageID // head of the chain, 0 when inline
	Length   uint32
}

// IsOverflow reports whether the value lives in an overflow chain.
func (v Value) IsOverflow() bool {
	return v.Overflow != InvalidPageID
}

// encodedSize returns the bytes the value occupies in the leaf.
func (v Value) encodedSize() int {
	if v.IsOverflow() {
		return overflowRefSize
	}
	return len(v.Inline)
}

// BPlusNode is a decoded tree page.
// Leaf nodes hold keys and values. Branch nodes hold separator keys and
// children: Keys[i] separates Children[i] (keys < Keys[i]) from
// Children[i+1] (keys >= Keys[i]), so len(Children) = len(Keys) + 1.
//
// Nodes reachable from a committed root are shared between readers and must
// never be modified; the writer clones them first.
type BPlusNode struct {
	PageID   storage.PageID
	IsLeaf   bool
	Keys     [][]byte
	Values   []Value          // leaf only
	Children []storage.PageID // branch only
}

// NewLeafNode creates an empty leaf node.
func NewLeafNode(pageID storage.PageID) *BPlusNode {
	return &BPlusNode{PageID: pageID, IsLeaf: true}
}

// NewBranchNode creates a branch with a single child.
func NewBranchNode(pageID storage.PageID, child storage.PageID) *BPlusNode {
	return &BPlusNode{PageID: pageID, Children: []storage.PageID{child}}
}

// KeyCount returns the number of keys in the node.
func (n *BPlusNode) KeyCount() int {
	return len(n.Keys)
}

// Size returns the encoded size of the node content (without page header).
func (n *BPlusNode) Size() int {
	if n.IsLeaf {
		size := 0
		for i, k := range n.Keys {
			size += leafEntryOverhead + len(k) + n.Values[i].encodedSize()
		}
		return size
	}
	size := branchBaseSize
	for _, k := range n.Keys {
		size += branchEntryOverhead + len(k)
	}
	return size
}

// entrySize returns the encoded size of entry i.
func (n *BPlusNode) entrySize(i int) int {
	if n.IsLeaf {
		return leafEntryOverhead + len(n.Keys[i]) + n.Values[i].encodedSize()
	}
	return branchEntryOverhead + len(n.Keys[i])
}

// overfull reports whether the node must be split.
func (n *BPlusNode) overfull(l Layout) bool {
	return len(n.Keys) > MaxFanout || n.Size() > l.Capacity()
}

// underflow reports whether a non-root node must be rebalanced.
func (n *BPlusNode) underflow(l Layout) bool {
	if n.IsLeaf {
		return len(n.Keys) == 0 || n.Size() < l.MinFill()
	}
	return len(n.Children) < 2 || n.Size() < l.MinFill()
}

// Clone returns a deep copy of the node structure. Key and inline value
// bytes are shared because they are never modified in place.
func (n *BPlusNode) Clone() *BPlusNode {
	return &BPlusNode{
		PageID:   n.PageID,
		IsLeaf:   n.IsLeaf,
		Keys:     slices.Clone(n.Keys),
		Values:   slices.Clone(n.Values),
		Children: slices.Clone(n.Children),
	}
}

// FindKeyIndex returns the position of the first key >= key and whether
// that key equals key.
func (n *BPlusNode) FindKeyIndex(key []byte, cmp Compare) (int, bool) {
	return slices.BinarySearchFunc(n.Keys, key, cmp)
}

// ChildIndex returns the child that may contain key: the number of
// separators <= key.
func (n *BPlusNode) ChildIndex(key []byte, cmp Compare) int {
	i, found := n.FindKeyIndex(key, cmp)
	if found {
		return i + 1
	}
	return i
}

// insertAt inserts a leaf entry at position i.
func (n *BPlusNode) insertAt(i int, key []byte, v Value) {
	n.Keys = slices.Insert(n.Keys, i, key)
	n.Values = slices.Insert(n.Values, i, v)
}

// removeAt removes the leaf entry at position i.
func (n *BPlusNode) removeAt(i int) {
	n.Keys = slices.Delete(n.Keys, i, i+1)
	n.Values = slices.Delete(n.Values, i, i+1)
}

// insertChild inserts separator key at position i with right child at i+1.
func (n *BPlusNode) insertChild(i int, key []byte, right storage.PageID) {
	n.Keys = slices.Insert(n.Keys, i, key)
	n.Children = slices.Insert(n.Children, i+1, right)
}

// removeChild removes separator i and child i+1.
func (n *BPlusNode) removeChild(i int) {
	n.Keys = slices.Delete(n.Keys, i, i+1)
	n.Children = slices.Delete(n.Children, i+1, i+2)
}

// splitPoint returns the index at which the node's entries are divided so
// both halves carry about the same number of bytes. For branches the key at
// the split point is promoted and belongs to neither half.
func (n *BPlusNode) splitPoint() int {
	total := n.Size()
	acc := 0
	if !n.IsLeaf {
		acc = branchBaseSize
	}
	for i := range n.Keys {
		acc += n.entrySize(i)
		if acc >= total/2 {
			if n.IsLeaf {
				// the right half must not be empty
				return min(i+1, len(n.Keys)-1)
			}
			return min(max(i, 1), len(n.Keys)-2)
		}
	}
	return len(n.Keys) / 2
}
