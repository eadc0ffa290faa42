package btree

import (
	"slices"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Delete removes key from the tree. It reports whether the key was present.
// Nodes left below the minimum fill are merged with or refilled from a
// sibling, and a root left with a single child is collapsed.
func (t *BPlusTree) Delete(key []byte) (bool, error) {
	if t.writer == nil {
		return false, ErrReadOnlyTree
	}
	if t.root == InvalidPageID {
		return false, nil
	}

	newRoot, found, err := t.remove(t.root, key)
	if err != nil || !found {
		return false, err
	}
	t.root = newRoot

	if err := t.collapseRoot(); err != nil {
		return false, err
	}

	t.mods++
	return true, nil
}

// remove deletes key from the subtree rooted at id and returns the page that
// now roots the subtree. Subtrees that do not contain the key are left
// untouched.
func (t *BPlusTree) remove(id storage.PageID, key []byte) (storage.PageID, bool, error) {
	node, err := t.readNode(id)
	if err != nil {
		return id, false, err
	}

	if node.IsLeaf {
		i, found := node.FindKeyIndex(key, t.cmp)
		if !found {
			return id, false, nil
		}
		n, err := t.writable(node)
		if err != nil {
			return id, false, err
		}
		old := n.Values[i]
		n.removeAt(i)
		if err := t.releaseValue(old); err != nil {
			return id, false, err
		}
		t.writer.Stage(n)
		return n.PageID, true, nil
	}

	ci := node.ChildIndex(key, t.cmp)
	child, found, err := t.remove(node.Children[ci], key)
	if err != nil || !found {
		return id, false, err
	}

	n, err := t.writable(node)
	if err != nil {
		return id, false, err
	}
	n.Children[ci] = child
	if err := t.rebalance(n, ci); err != nil {
		return id, false, err
	}
	t.writer.Stage(n)
	return n.PageID, true, nil
}

// rebalance fixes child ci of the owned branch n after a delete left it
// under the minimum fill: the child is merged with a sibling when both fit
// in one page, otherwise their entries are split evenly between them.
func (t *BPlusTree) rebalance(n *BPlusNode, ci int) error {
	child, err := t.readNode(n.Children[ci])
	if err != nil {
		return err
	}
	if !child.underflow(t.layout) || len(n.Children) < 2 {
		return nil
	}

	li := ci
	if ci == len(n.Children)-1 {
		li = ci - 1
	}

	left, err := t.readNode(n.Children[li])
	if err != nil {
		return err
	}
	right, err := t.readNode(n.Children[li+1])
	if err != nil {
		return err
	}

	if t.canMerge(left, right, n.Keys[li]) {
		return t.mergeNodes(n, li, left, right)
	}
	return t.redistribute(n, li, left, right)
}

// canMerge reports whether left, the separator and right fit in one node.
func (t *BPlusTree) canMerge(left, right *BPlusNode, sep []byte) bool {
	size := left.Size() + right.Size()
	count := len(left.Keys) + len(right.Keys)
	if !left.IsLeaf {
		size += branchEntryOverhead + len(sep) - branchBaseSize
		count++
	}
	return size <= t.layout.Capacity() && count <= MaxFanout
}

// mergeNodes moves every entry of right into left and drops right and the
// separator li from the parent.
func (t *BPlusTree) mergeNodes(parent *BPlusNode, li int, left, right *BPlusNode) error {
	l, err := t.writable(left)
	if err != nil {
		return err
	}

	if l.IsLeaf {
		l.Keys = append(l.Keys, right.Keys...)
		l.Values = append(l.Values, right.Values...)
	} else {
		l.Keys = append(l.Keys, parent.Keys[li])
		l.Keys = append(l.Keys, right.Keys...)
		l.Children = append(l.Children, right.Children...)
	}

	if err := t.writer.Release(right.PageID); err != nil {
		return err
	}

	parent.removeChild(li)
	parent.Children[li] = l.PageID
	t.writer.Stage(l)
	return nil
}

// redistribute splits the combined entries of left and right evenly by size.
func (t *BPlusTree) redistribute(parent *BPlusNode, li int, left, right *BPlusNode) error {
	l, err := t.writable(left)
	if err != nil {
		return err
	}
	r, err := t.writable(right)
	if err != nil {
		return err
	}

	all := &BPlusNode{IsLeaf: l.IsLeaf}
	if l.IsLeaf {
		all.Keys = append(slices.Clone(l.Keys), r.Keys...)
		all.Values = append(slices.Clone(l.Values), r.Values...)
	} else {
		all.Keys = append(append(slices.Clone(l.Keys), parent.Keys[li]), r.Keys...)
		all.Children = append(slices.Clone(l.Children), r.Children...)
	}

	m := all.splitPoint()
	if all.IsLeaf {
		l.Keys, l.Values = slices.Clone(all.Keys[:m]), slices.Clone(all.Values[:m])
		r.Keys, r.Values = slices.Clone(all.Keys[m:]), slices.Clone(all.Values[m:])
		parent.Keys[li] = r.Keys[0]
	} else {
		l.Keys, l.Children = slices.Clone(all.Keys[:m]), slices.Clone(all.Children[:m+1])
		r.Keys, r.Children = slices.Clone(all.Keys[m+1:]), slices.Clone(all.Children[m+1:])
		parent.Keys[li] = all.Keys[m]
	}

	parent.Children[li] = l.PageID
	parent.Children[li+1] = r.PageID
	t.writer.Stage(l)
	t.writer.Stage(r)
	return nil
}

// collapseRoot removes root levels that no longer branch and empties the
// tree when the last entry is gone.
func (t *BPlusTree) collapseRoot() error {
	for t.root != InvalidPageID {
		root, err := t.readNode(t.root)
		if err != nil {
			return err
		}

		switch {
		case root.IsLeaf && len(root.Keys) == 0:
			if err := t.writer.Release(root.PageID); err != nil {
				return err
			}
			t.root = InvalidPageID
		case !root.IsLeaf && len(root.Keys) == 0:
			if err := t.writer.Release(root.PageID); err != nil {
				return err
			}
			t.root = root.Children[0]
		default:
			return nil
		}
	}
	return nil
}
