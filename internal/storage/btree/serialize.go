package btree

import (
	"encoding/binary"
	"errors"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Serialization errors.
var (
	ErrNodeTooLarge = errors.New("node does not fit in a page")
)

// Value kinds in a leaf entry.
const (
	kindInline   byte = 0
	kindOverflow byte = 1
)

// EncodeNode serializes a node into a full page buffer and seals it.
//
// Leaf entry layout:
//
//	keyLen(2) kind(1) valueLen(4) key value-or-overflowHead(8)
//
// Branch layout:
//
//	child0(8) { keyLen(2) key child(8) }...
func EncodeNode(n *BPlusNode, buf []byte, txnID uint64) error {
	if storage.PageHeaderSize+n.Size() > len(buf) || len(n.Keys) > MaxFanout {
		return ErrNodeTooLarge
	}
	clear(buf)

	h := storage.PageHeader{
		Type:  storage.PageTypeBranch,
		Count: uint16(len(n.Keys)),
		TxnID: txnID,
	}
	if n.IsLeaf {
		h.Type = storage.PageTypeLeaf
	}
	if err := h.Serialize(buf); err != nil {
		return err
	}

	off := storage.PageHeaderSize
	if n.IsLeaf {
		for i, key := range n.Keys {
			v := n.Values[i]
			binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
			if v.IsOverflow() {
				buf[off+2] = kindOverflow
				binary.LittleEndian.PutUint32(buf[off+3:], v.Length)
			} else {
				buf[off+2] = kindInline
				binary.LittleEndian.PutUint32(buf[off+3:], uint32(len(v.Inline)))
			}
			off += leafEntryOverhead
			off += copy(buf[off:], key)
			if v.IsOverflow() {
				binary.LittleEndian.PutUint64(buf[off:], uint64(v.Overflow))
				off += overflowRefSize
			} else {
				off += copy(buf[off:], v.Inline)
			}
		}
	} else {
		binary.LittleEndian.PutUint64(buf[off:], uint64(n.Children[0]))
		off += branchBaseSize
		for i, key := range n.Keys {
			binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
			off += 2
			off += copy(buf[off:], key)
			binary.LittleEndian.PutUint64(buf[off:], uint64(n.Children[i+1]))
			off += 8
		}
	}

	storage.SealPage(buf)
	return nil
}

// DecodeNode verifies and decodes a tree page. Keys and inline values are
// copied out of buf, so buf may be a mapped page.
func DecodeNode(id storage.PageID, buf []byte) (*BPlusNode, error) {
	h, err := storage.OpenPage(id, buf, storage.PageTypeInvalid)
	if err != nil {
		return nil, err
	}

	n := &BPlusNode{PageID: id}
	count := int(h.Count)

	switch h.Type {
	case storage.PageTypeLeaf:
		n.IsLeaf = true
		n.Keys = make([][]byte, 0, count)
		n.Values = make([]Value, 0, count)
	case storage.PageTypeBranch:
		n.Keys = make([][]byte, 0, count)
		n.Children = make([]storage.PageID, 0, count+1)
	default:
		return nil, storage.Corruptf(id, "expected tree page, found %s", h.Type)
	}

	// One allocation for all key and value bytes of the node.
	body := append([]byte(nil), buf[storage.PageHeaderSize:]...)
	off := 0
	need := func(size int) error {
		if off+size > len(body) {
			return storage.Corruptf(id, "node entries overrun the page")
		}
		return nil
	}

	if n.IsLeaf {
		for i := 0; i < count; i++ {
			if err := need(leafEntryOverhead); err != nil {
				return nil, err
			}
			keyLen := int(binary.LittleEndian.Uint16(body[off:]))
			kind := body[off+2]
			valueLen := binary.LittleEndian.Uint32(body[off+3:])
			off += leafEntryOverhead

			if err := need(keyLen); err != nil {
				return nil, err
			}
			key := body[off : off+keyLen : off+keyLen]
			off += keyLen

			var v Value
			switch kind {
			case kindInline:
				if err := need(int(valueLen)); err != nil {
					return nil, err
				}
				v.Inline = body[off : off+int(valueLen) : off+int(valueLen)]
				v.Length = valueLen
				off += int(valueLen)
			case kindOverflow:
				if err := need(overflowRefSize); err != nil {
					return nil, err
				}
				v.Overflow = storage.PageID(binary.LittleEndian.Uint64(body[off:]))
				v.Length = valueLen
				off += overflowRefSize
				if v.Overflow == InvalidPageID {
					return nil, storage.Corruptf(id, "overflow value without chain")
				}
			default:
				return nil, storage.Corruptf(id, "unknown value kind %d", kind)
			}

			n.Keys = append(n.Keys, key)
			n.Values = append(n.Values, v)
		}
		return n, nil
	}

	if err := need(branchBaseSize); err != nil {
		return nil, err
	}
	n.Children = append(n.Children, storage.PageID(binary.LittleEndian.Uint64(body[off:])))
	off += branchBaseSize
	for i := 0; i < count; i++ {
		if err := need(2); err != nil {
			return nil, err
		}
		keyLen := int(binary.LittleEndian.Uint16(body[off:]))
		off += 2
		if err := need(keyLen + 8); err != nil {
			return nil, err
		}
		n.Keys = append(n.Keys, body[off:off+keyLen:off+keyLen])
		off += keyLen
		n.Children = append(n.Children, storage.PageID(binary.LittleEndian.Uint64(body[off:])))
		off += 8
	}
	if count == 0 {
		return nil, storage.Corruptf(id, "branch without separators")
	}
	return n, nil
}
