package btree

import (
	"iter"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// frame is one level of the iterator's root-to-leaf path. For a branch, idx
// is the child being visited; for a leaf, the current entry.
type frame struct {
	node *BPlusNode
	idx  int
}

// Iterator walks the entries of a half-open key range [lo, hi) in ascending
// or descending order. A nil bound is unbounded. Nodes are loaded lazily.
//
// An iterator over a read-only tree sees one fixed snapshot. An iterator
// over a writable tree fails with ErrTreeModified once the tree is changed
// after the iterator was created or rewound.
type Iterator struct {
	tree    *BPlusTree
	lo, hi  []byte
	reverse bool

	stack   []frame
	started bool
	done    bool
	mods    uint64
	err     error
}

// Range returns an iterator over [lo, hi).
func (t *BPlusTree) Range(lo, hi []byte, reverse bool) *Iterator {
	return &Iterator{tree: t, lo: lo, hi: hi, reverse: reverse, mods: t.mods}
}

// Next advances to the next entry. It returns false at the end of the range
// or on error; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.tree.mods != it.mods {
		it.err = ErrTreeModified
		return false
	}

	var ok bool
	var err error
	if !it.started {
		it.started = true
		ok, err = it.seek()
	} else {
		ok, err = it.step()
	}
	if err != nil {
		it.err = err
		return false
	}
	if !ok || !it.inRange() {
		it.done = true
		it.stack = nil
		return false
	}
	return true
}

// Key returns the current key. The slice must not be modified.
func (it *Iterator) Key() []byte {
	f := it.stack[len(it.stack)-1]
	return f.node.Keys[f.idx]
}

// Value returns a copy of the current value, reading its overflow chain if needed.
func (it *Iterator) Value() ([]byte, error) {
	if it.tree.mods != it.mods {
		return nil, ErrTreeModified
	}
	f := it.stack[len(it.stack)-1]
	return it.tree.loadValue(f.node.Values[f.idx])
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Rewind restarts the iteration from the start of the range.
func (it *Iterator) Rewind() {
	it.stack = it.stack[:0]
	it.started = false
	it.done = false
	it.err = nil
	it.mods = it.tree.mods
}

// All rewinds the iterator and returns it as a sequence of key/value pairs.
// Iteration stops at the first error, which is then returned by Err.
func (it *Iterator) All() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		it.Rewind()
		for it.Next() {
			value, err := it.Value()
			if err != nil {
				it.err = err
				return
			}
			if !yield(it.Key(), value) {
				return
			}
		}
	}
}

// inRange checks the current key against the far bound of the range.
func (it *Iterator) inRange() bool {
	key := it.Key()
	if it.reverse {
		return it.lo == nil || it.tree.cmp(key, it.lo) >= 0
	}
	return it.hi == nil || it.tree.cmp(key, it.hi) < 0
}

// seek positions the iterator on the first entry of the range.
func (it *Iterator) seek() (bool, error) {
	t := it.tree
	if t.root == InvalidPageID {
		return false, nil
	}

	id := t.root
	for {
		node, err := t.readNode(id)
		if err != nil {
			return false, err
		}

		if node.IsLeaf {
			idx := it.leafStart(node)
			it.stack = append(it.stack, frame{node: node, idx: idx})
			if idx < 0 || idx >= len(node.Keys) {
				return it.step()
			}
			return true, nil
		}

		ci := it.branchStart(node)
		it.stack = append(it.stack, frame{node: node, idx: ci})
		id = node.Children[ci]
	}
}

// branchStart picks the child holding the start of the range.
func (it *Iterator) branchStart(n *BPlusNode) int {
	if it.reverse {
		if it.hi == nil {
			return len(n.Children) - 1
		}
		// keys of child i are < Keys[i]; the first separator >= hi bounds
		// the last child that can hold keys < hi.
		i, _ := n.FindKeyIndex(it.hi, it.tree.cmp)
		return i
	}
	if it.lo == nil {
		return 0
	}
	return n.ChildIndex(it.lo, it.tree.cmp)
}

// leafStart picks the entry holding the start of the range.
func (it *Iterator) leafStart(n *BPlusNode) int {
	if it.reverse {
		if it.hi == nil {
			return len(n.Keys) - 1
		}
		i, _ := n.FindKeyIndex(it.hi, it.tree.cmp)
		return i - 1
	}
	if it.lo == nil {
		return 0
	}
	i, _ := n.FindKeyIndex(it.lo, it.tree.cmp)
	return i
}

// step moves to the next entry in iteration order, climbing to the nearest
// ancestor with an unvisited child when the current leaf is exhausted.
func (it *Iterator) step() (bool, error) {
	top := &it.stack[len(it.stack)-1]
	if it.reverse {
		top.idx--
		if top.idx >= 0 && top.idx < len(top.node.Keys) {
			return true, nil
		}
	} else {
		top.idx++
		if top.idx < len(top.node.Keys) {
			return true, nil
		}
	}

	it.stack = it.stack[:len(it.stack)-1]
	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]
		if it.reverse {
			f.idx--
		} else {
			f.idx++
		}
		if f.idx < 0 || f.idx >= len(f.node.Children) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		ok, err := it.descend(f.node.Children[f.idx])
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// descend walks to the leftmost (or rightmost, in reverse) entry below id.
func (it *Iterator) descend(id storage.PageID) (bool, error) {
	for {
		node, err := it.tree.readNode(id)
		if err != nil {
			return false, err
		}

		idx := 0
		if it.reverse {
			if node.IsLeaf {
				idx = len(node.Keys) - 1
			} else {
				idx = len(node.Children) - 1
			}
		}
		it.stack = append(it.stack, frame{node: node, idx: idx})

		if node.IsLeaf {
			if len(node.Keys) == 0 {
				return it.step()
			}
			return true, nil
		}
		id = node.Children[idx]
	}
}
