package btree

import (
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// TreeStats summarizes the pages of a tree.
type TreeStats struct {
	Height          int
	Entries         uint64
	BranchPages     uint64
	LeafPages       uint64
	OverflowPages   uint64
	StoredBytes     uint64 // key and value bytes
	MetadataBytes   uint64 // page headers and per-entry overhead
	FragmentedBytes uint64 // unused space in tree and overflow pages
}

// Add accumulates other into s. Height is the maximum of both.
func (s *TreeStats) Add(other TreeStats) {
	s.Height = max(s.Height, other.Height)
	s.Entries += other.Entries
	s.BranchPages += other.BranchPages
	s.LeafPages += other.LeafPages
	s.OverflowPages += other.OverflowPages
	s.StoredBytes += other.StoredBytes
	s.MetadataBytes += other.MetadataBytes
	s.FragmentedBytes += other.FragmentedBytes
}

// Pages returns the total number of pages used by the tree.
func (s TreeStats) Pages() uint64 {
	return s.BranchPages + s.LeafPages + s.OverflowPages
}

// Walk calls fn for every page of the tree, parents before children. Overflow
// pages are reported with their owning leaf's depth.
func (t *BPlusTree) Walk(fn func(id storage.PageID, typ storage.PageType, depth int) error) error {
	if t.root == InvalidPageID {
		return nil
	}
	return t.walk(t.root, 0, fn)
}

func (t *BPlusTree) walk(id storage.PageID, depth int, fn func(storage.PageID, storage.PageType, int) error) error {
	node, err := t.readNode(id)
	if err != nil {
		return err
	}

	if !node.IsLeaf {
		if err := fn(id, storage.PageTypeBranch, depth); err != nil {
			return err
		}
		for _, child := range node.Children {
			if err := t.walk(child, depth+1, fn); err != nil {
				return err
			}
		}
		return nil
	}

	if err := fn(id, storage.PageTypeLeaf, depth); err != nil {
		return err
	}
	for _, v := range node.Values {
		if !v.IsOverflow() {
			continue
		}
		pages, err := t.reader.OverflowPages(v.Overflow, v.Length)
		if err != nil {
			return err
		}
		for _, p := range pages {
			if err := fn(p, storage.PageTypeOverflow, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear releases every page of the tree and leaves it empty.
func (t *BPlusTree) Clear() error {
	if t.writer == nil {
		return ErrReadOnlyTree
	}

	var pages []storage.PageID
	err := t.Walk(func(id storage.PageID, _ storage.PageType, _ int) error {
		pages = append(pages, id)
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range pages {
		if err := t.writer.Release(id); err != nil {
			return err
		}
	}
	t.root = InvalidPageID
	t.mods++
	return nil
}

// Relocate copies every page for which move returns true into a newly
// allocated page, rewriting the ancestors that point to it. Compaction uses
// it to move the tail of the file into free pages further down. It reports
// whether anything moved.
func (t *BPlusTree) Relocate(move func(storage.PageID) bool) (bool, error) {
	if t.writer == nil {
		return false, ErrReadOnlyTree
	}
	if t.root == InvalidPageID {
		return false, nil
	}

	root, moved, err := t.relocate(t.root, move)
	if err != nil {
		return false, err
	}
	if moved {
		t.root = root
		t.mods++
	}
	return moved, nil
}

func (t *BPlusTree) relocate(id storage.PageID, move func(storage.PageID) bool) (storage.PageID, bool, error) {
	node, err := t.readNode(id)
	if err != nil {
		return id, false, err
	}

	n := node
	changed := false
	own := func() error {
		if changed {
			return nil
		}
		var err error
		n, err = t.writable(node)
		changed = err == nil
		return err
	}

	if node.IsLeaf {
		for i, v := range node.Values {
			if !v.IsOverflow() {
				continue
			}
			pages, err := t.reader.OverflowPages(v.Overflow, v.Length)
			if err != nil {
				return id, false, err
			}
			if !anyPage(pages, move) {
				continue
			}
			if err := own(); err != nil {
				return id, false, err
			}
			data, err := t.reader.ReadOverflow(v.Overflow, v.Length)
			if err != nil {
				return id, false, err
			}
			head, err := t.writer.WriteOverflow(data)
			if err != nil {
				return id, false, err
			}
			for _, p := range pages {
				if err := t.writer.Release(p); err != nil {
					return id, false, err
				}
			}
			n.Values[i] = Value{Overflow: head, Length: v.Length}
		}
	} else {
		for i, child := range node.Children {
			newChild, moved, err := t.relocate(child, move)
			if err != nil {
				return id, false, err
			}
			if !moved {
				continue
			}
			if err := own(); err != nil {
				return id, false, err
			}
			n.Children[i] = newChild
		}
	}

	if !changed && move(id) && !t.writer.Owned(id) {
		if err := own(); err != nil {
			return id, false, err
		}
	}
	if !changed {
		return id, false, nil
	}

	t.writer.Stage(n)
	return n.PageID, true, nil
}

func anyPage(pages []storage.PageID, pred func(storage.PageID) bool) bool {
	for _, p := range pages {
		if pred(p) {
			return true
		}
	}
	return false
}

// Stats walks the tree and returns its page and byte counts.
func (t *BPlusTree) Stats() (TreeStats, error) {
	return t.scan(false)
}

// Check walks the tree verifying key order, separator bounds, uniform leaf
// depth, node sizes and overflow chains. It returns the tree's stats or the
// first CorruptionError found.
func (t *BPlusTree) Check() (TreeStats, error) {
	return t.scan(true)
}

func (t *BPlusTree) scan(validate bool) (TreeStats, error) {
	var s TreeStats
	if t.root == InvalidPageID {
		return s, nil
	}
	leafDepth := -1
	err := t.scanNode(t.root, nil, nil, 1, true, validate, &leafDepth, &s)
	return s, err
}

func (t *BPlusTree) scanNode(id storage.PageID, lo, hi []byte, depth int, isRoot, validate bool, leafDepth *int, s *TreeStats) error {
	node, err := t.readNode(id)
	if err != nil {
		return err
	}

	s.Height = max(s.Height, depth)
	size := node.Size()
	s.MetadataBytes += storage.PageHeaderSize
	s.FragmentedBytes += uint64(t.layout.Capacity() - size)

	if validate {
		if size > t.layout.Capacity() {
			return storage.Corruptf(id, "node holds %d bytes, capacity %d", size, t.layout.Capacity())
		}
		for i, key := range node.Keys {
			if i > 0 && t.cmp(node.Keys[i-1], key) >= 0 {
				return storage.Corruptf(id, "keys out of order at index %d", i)
			}
			if lo != nil && t.cmp(key, lo) < 0 {
				return storage.Corruptf(id, "key below separator bound")
			}
			if hi != nil && t.cmp(key, hi) >= 0 {
				return storage.Corruptf(id, "key above separator bound")
			}
		}
	}

	if node.IsLeaf {
		s.LeafPages++
		if validate {
			if *leafDepth >= 0 && *leafDepth != depth {
				return storage.Corruptf(id, "leaf at depth %d, expected %d", depth, *leafDepth)
			}
			if len(node.Keys) == 0 {
				return storage.Corruptf(id, "empty leaf")
			}
		}
		*leafDepth = depth

		for i, key := range node.Keys {
			v := node.Values[i]
			s.Entries++
			s.StoredBytes += uint64(len(key)) + uint64(v.Length)
			s.MetadataBytes += leafEntryOverhead
			if !v.IsOverflow() {
				continue
			}
			s.MetadataBytes += overflowRefSize
			pages, err := t.reader.OverflowPages(v.Overflow, v.Length)
			if err != nil {
				return err
			}
			s.OverflowPages += uint64(len(pages))
			s.MetadataBytes += uint64(len(pages)) * storage.PageHeaderSize
			s.FragmentedBytes += uint64(len(pages))*uint64(t.layout.PageSize-storage.PageHeaderSize) - uint64(v.Length)
		}
		return nil
	}

	s.BranchPages++
	s.MetadataBytes += uint64(size)
	if validate && len(node.Children) != len(node.Keys)+1 {
		return storage.Corruptf(id, "branch with %d keys and %d children", len(node.Keys), len(node.Children))
	}
	if validate && len(node.Keys) == 0 {
		return storage.Corruptf(id, "branch without separators")
	}

	for i, child := range node.Children {
		clo, chi := lo, hi
		if i > 0 {
			clo = node.Keys[i-1]
		}
		if i < len(node.Keys) {
			chi = node.Keys[i]
		}
		if err := t.scanNode(child, clo, chi, depth+1, false, validate, leafDepth, s); err != nil {
			return err
		}
	}
	return nil
}

// Height returns the number of levels in the tree, 0 when empty.
func (t *BPlusTree) Height() (int, error) {
	if t.root == InvalidPageID {
		return 0, nil
	}
	height := 1
	node, err := t.readNode(t.root)
	if err != nil {
		return 0, err
	}
	for !node.IsLeaf {
		height++
		if node, err = t.readNode(node.Children[0]); err != nil {
			return 0, err
		}
	}
	return height, nil
}
