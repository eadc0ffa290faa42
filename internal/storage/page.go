package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Page size limits. The page size is fixed when a database file is created.
const (
	DefaultPageSize = 4096
	MinPageSize     = 1024
	MaxPageSize     = 65536
)

// PageHeaderSize is the size of the header at the start of every non-meta page.
const PageHeaderSize = 32

// PageType represents the type of a page in the database file.
type PageType uint8

const (
	// PageTypeInvalid marks a zeroed or unknown page.
	PageTypeInvalid PageType = iota
	// PageTypeMeta is one of the two metapage slots.
	PageTypeMeta
	// PageTypeBranch is a B-tree internal node.
	PageTypeBranch
	// PageTypeLeaf is a B-tree leaf node.
	PageTypeLeaf
	// PageTypeFreeList is a node of the persisted free page chain.
	PageTypeFreeList
	// PageTypeOverflow is a continuation page holding part of a large value.
	PageTypeOverflow
)

// String returns the string representation of a PageType.
func (pt PageType) String() string {
	switch pt {
	case PageTypeMeta:
		return "Meta"
	case PageTypeBranch:
		return "Branch"
	case PageTypeLeaf:
		return "Leaf"
	case PageTypeFreeList:
		return "FreeList"
	case PageTypeOverflow:
		return "Overflow"
	default:
		return "Invalid"
	}
}

// PageID is the index of a page in the file. Page 0 is a metapage slot and
// doubles as the "no page" value for roots and chain links.
type PageID uint64

// PageHeader is the common header of branch, leaf, free-list and overflow pages.
// Layout:
//   - Byte 0:      PageType (uint8)
//   - Byte 1:      Flags (uint8)
//   - Bytes 2-3:   Count (uint16) keys or ids stored in the page
//   - Bytes 4-7:   Aux (uint32) payload length for overflow pages
//   - Bytes 8-15:  Next (uint64) next page of a chain
//   - Bytes 16-23: TxnID (uint64) transaction that wrote the page
//   - Bytes 24-31: Checksum (uint64) truncated BLAKE3 of the page
type PageHeader struct {
	Type     PageType
	Flags    uint8
	Count    uint16
	Aux      uint32
	Next     PageID
	TxnID    uint64
	Checksum uint64
}

// Errors for page operations.
var (
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidPageType = errors.New("invalid page type")
	ErrCorruption      = errors.New("database corruption")
)

// CorruptionError reports a page that failed checksum or structural validation.
type CorruptionError struct {
	Page   PageID
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt page %d: %s", e.Page, e.Reason)
}

// Unwrap lets errors.Is match ErrCorruption.
func (e *CorruptionError) Unwrap() error {
	return ErrCorruption
}

// Corruptf builds a CorruptionError for the given page.
func Corruptf(page PageID, format string, args ...any) error {
	return &CorruptionError{Page: page, Reason: fmt.Sprintf(format, args...)}
}

// ValidPageSize reports whether size is a power of two within the supported range.
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// Serialize writes the PageHeader to the start of buf.
func (h *PageHeader) Serialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Count)
	binary.LittleEndian.PutUint32(buf[4:8], h.Aux)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Next))
	binary.LittleEndian.PutUint64(buf[16:24], h.TxnID)
	binary.LittleEndian.PutUint64(buf[24:32], h.Checksum)

	return nil
}

// Deserialize reads the PageHeader from the start of buf.
func (h *PageHeader) Deserialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Count = binary.LittleEndian.Uint16(buf[2:4])
	h.Aux = binary.LittleEndian.Uint32(buf[4:8])
	h.Next = PageID(binary.LittleEndian.Uint64(buf[8:16]))
	h.TxnID = binary.LittleEndian.Uint64(buf[16:24])
	h.Checksum = binary.LittleEndian.Uint64(buf[24:32])

	return nil
}

// SealPage computes the checksum of a fully encoded page and stores it in the header.
func SealPage(buf []byte) {
	binary.LittleEndian.PutUint64(buf[24:32], PageChecksum(buf))
}

// OpenPage decodes and verifies the header of a page read from the file.
// want is the expected page type, or PageTypeInvalid to accept any type.
// buf may be a read-only mapping and is never modified.
func OpenPage(id PageID, buf []byte, want PageType) (PageHeader, error) {
	var h PageHeader
	if err := h.Deserialize(buf); err != nil {
		return h, err
	}
	if PageChecksum(buf) != h.Checksum {
		return h, Corruptf(id, "checksum mismatch (type %s)", h.Type)
	}
	if want != PageTypeInvalid && h.Type != want {
		return h, Corruptf(id, "expected %s page, found %s", want, h.Type)
	}
	return h, nil
}
