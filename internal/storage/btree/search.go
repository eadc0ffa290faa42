package btree

// Get returns a copy of the value stored under key. The boolean is false when
// the key is absent.
func (t *BPlusTree) Get(key []byte) ([]byte, bool, error) {
	if t.root == InvalidPageID {
		return nil, false, nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}

	i, found := leaf.FindKeyIndex(key, t.cmp)
	if !found {
		return nil, false, nil
	}

	value, err := t.loadValue(leaf.Values[i])
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Contains reports whether key is present without loading its value.
func (t *BPlusTree) Contains(key []byte) (bool, error) {
	if t.root == InvalidPageID {
		return false, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	_, found := leaf.FindKeyIndex(key, t.cmp)
	return found, nil
}

// findLeaf descends from the root to the leaf that may contain key.
func (t *BPlusTree) findLeaf(key []byte) (*BPlusNode, error) {
	node, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}
	for !node.IsLeaf {
		node, err = t.readNode(node.Children[node.ChildIndex(key, t.cmp)])
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// First returns the smallest key and its value.
func (t *BPlusTree) First() (key, value []byte, ok bool, err error) {
	return t.edge(false)
}

// Last returns the largest key and its value.
func (t *BPlusTree) Last() (key, value []byte, ok bool, err error) {
	return t.edge(true)
}

func (t *BPlusTree) edge(last bool) ([]byte, []byte, bool, error) {
	it := t.Range(nil, nil, last)
	if !it.Next() {
		return nil, nil, false, it.Err()
	}
	value, err := it.Value()
	if err != nil {
		return nil, nil, false, err
	}
	return it.Key(), value, true, nil
}
