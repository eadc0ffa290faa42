package btree

import (
	"slices"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// insertResult describes the node that replaced a subtree root after an
// insert, and the new right sibling when that node split.
type insertResult struct {
	id       storage.PageID
	sep      []byte
	right    storage.PageID
	replaced bool
}

// Insert stores value under key, replacing any existing value. It reports
// whether a previous value was replaced.
func (t *BPlusTree) Insert(key, value []byte) (bool, error) {
	if err := t.checkEntry(key, len(value)); err != nil {
		return false, err
	}

	key = slices.Clone(key)
	v, err := t.makeValue(key, value)
	if err != nil {
		return false, err
	}

	if t.root == InvalidPageID {
		leaf, err := t.newNode(true)
		if err != nil {
			return false, err
		}
		leaf.insertAt(0, key, v)
		t.writer.Stage(leaf)
		t.root = leaf.PageID
		t.mods++
		return false, nil
	}

	res, err := t.insert(t.root, key, v)
	if err != nil {
		return false, err
	}
	t.root = res.id

	if res.right != InvalidPageID {
		if err := t.createNewRoot(res); err != nil {
			return false, err
		}
	}

	t.mods++
	return res.replaced, nil
}

// insert adds the entry to the subtree rooted at id.
func (t *BPlusTree) insert(id storage.PageID, key []byte, v Value) (insertResult, error) {
	node, err := t.readNode(id)
	if err != nil {
		return insertResult{}, err
	}

	if node.IsLeaf {
		n, err := t.writable(node)
		if err != nil {
			return insertResult{}, err
		}

		i, found := n.FindKeyIndex(key, t.cmp)
		if found {
			old := n.Values[i]
			n.Values[i] = v
			if err := t.releaseValue(old); err != nil {
				return insertResult{}, err
			}
		} else {
			n.insertAt(i, key, v)
		}
		return t.finish(n, found)
	}

	ci := node.ChildIndex(key, t.cmp)
	res, err := t.insert(node.Children[ci], key, v)
	if err != nil {
		return insertResult{}, err
	}

	// The child was rewritten in place, so this node already points to it.
	if res.id == node.Children[ci] && res.right == InvalidPageID {
		return insertResult{id: id, replaced: res.replaced}, nil
	}

	n, err := t.writable(node)
	if err != nil {
		return insertResult{}, err
	}
	n.Children[ci] = res.id
	if res.right != InvalidPageID {
		n.insertChild(ci, res.sep, res.right)
	}
	return t.finish(n, res.replaced)
}

// finish stages a modified node, splitting it first when it no longer fits.
func (t *BPlusTree) finish(n *BPlusNode, replaced bool) (insertResult, error) {
	if !n.overfull(t.layout) {
		t.writer.Stage(n)
		return insertResult{id: n.PageID, replaced: replaced}, nil
	}

	right, sep, err := t.split(n)
	if err != nil {
		return insertResult{}, err
	}
	t.writer.Stage(n)
	t.writer.Stage(right)
	return insertResult{id: n.PageID, sep: sep, right: right.PageID, replaced: replaced}, nil
}

// split moves the upper half of n into a new sibling and returns the sibling
// and the separator to insert into the parent. Leaves copy the first key of
// the sibling up; branches promote their median key.
func (t *BPlusTree) split(n *BPlusNode) (*BPlusNode, []byte, error) {
	right, err := t.newNode(n.IsLeaf)
	if err != nil {
		return nil, nil, err
	}

	m := n.splitPoint()
	var sep []byte
	if n.IsLeaf {
		right.Keys = slices.Clone(n.Keys[m:])
		right.Values = slices.Clone(n.Values[m:])
		n.Keys = slices.Clip(n.Keys[:m])
		n.Values = slices.Clip(n.Values[:m])
		sep = right.Keys[0]
	} else {
		sep = n.Keys[m]
		right.Keys = slices.Clone(n.Keys[m+1:])
		right.Children = slices.Clone(n.Children[m+1:])
		n.Keys = slices.Clip(n.Keys[:m])
		n.Children = slices.Clip(n.Children[:m+1])
	}
	return right, sep, nil
}

// createNewRoot grows the tree by one level after the root split.
func (t *BPlusTree) createNewRoot(res insertResult) error {
	id, err := t.writer.Allocate()
	if err != nil {
		return err
	}
	root := NewBranchNode(id, res.id)
	root.insertChild(0, res.sep, res.right)
	t.writer.Stage(root)
	t.root = id
	return nil
}
