package storage

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// Metapage constants.
const (
	// MetaSize is the number of meaningful bytes at the start of a metapage slot.
	MetaSize = 136

	// metaChecksumOffset is where the BLAKE3-256 of bytes [0, metaChecksumOffset) is stored.
	metaChecksumOffset = 104

	// CurrentVersion is the current file format version.
	CurrentVersion uint32 = 1

	// MetaSlots is the number of metapage slots at the start of the file.
	MetaSlots = 2
)

// Magic identifies an ObaKV database file.
var Magic = [4]byte{'O', 'B', 'K', 'V'}

// Errors for metapage validation.
var (
	ErrInvalidFormat   = errors.New("not an ObaKV database file")
	ErrVersionMismatch = errors.New("unsupported file format version")
	errMetaChecksum    = errors.New("metapage checksum mismatch")
)

// Meta is the decoded content of a metapage slot.
// Layout:
//   - Bytes 0-3:     Magic ("OBKV")
//   - Bytes 4-7:     Version (uint32)
//   - Bytes 8-11:    PageSize (uint32)
//   - Bytes 12-15:   Flags (uint32)
//   - Bytes 16-31:   FileID (UUID)
//   - Bytes 32-39:   TxnID
//   - Bytes 40-47:   CatalogRoot
//   - Bytes 48-55:   FreedRoot
//   - Bytes 56-63:   SavepointRoot
//   - Bytes 64-71:   FreeListHead
//   - Bytes 72-79:   FreeListCount
//   - Bytes 80-87:   TotalPages
//   - Bytes 88-95:   NextSavepointID
//   - Bytes 96-103:  CommitTime (unix nanoseconds)
//   - Bytes 104-135: BLAKE3-256 of bytes 0-103
type Meta struct {
	Version         uint32
	PageSize        uint32
	Flags           uint32
	FileID          uuid.UUID
	TxnID           uint64
	CatalogRoot     PageID
	FreedRoot       PageID
	SavepointRoot   PageID
	FreeListHead    PageID
	FreeListCount   uint64
	TotalPages      uint64
	NextSavepointID uint64
	CommitTime      int64
}

// NewMeta returns the metapage of an empty database.
func NewMeta(pageSize int) Meta {
	return Meta{
		Version:         CurrentVersion,
		PageSize:        uint32(pageSize),
		FileID:          uuid.New(),
		TotalPages:      MetaSlots,
		NextSavepointID: 1,
	}
}

// Serialize encodes the metapage and its checksum into buf.
func (m *Meta) Serialize(buf []byte) error {
	if len(buf) < MetaSize {
		return ErrInvalidPageSize
	}

	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], m.Version)
	binary.LittleEndian.PutUint32(buf[8:12], m.PageSize)
	binary.LittleEndian.PutUint32(buf[12:16], m.Flags)
	copy(buf[16:32], m.FileID[:])
	binary.LittleEndian.PutUint64(buf[32:40], m.TxnID)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(m.CatalogRoot))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(m.FreedRoot))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(m.SavepointRoot))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(m.FreeListHead))
	binary.LittleEndian.PutUint64(buf[72:80], m.FreeListCount)
	binary.LittleEndian.PutUint64(buf[80:88], m.TotalPages)
	binary.LittleEndian.PutUint64(buf[88:96], m.NextSavepointID)
	binary.LittleEndian.PutUint64(buf[96:104], uint64(m.CommitTime))

	sum := MetaChecksum(buf[:metaChecksumOffset])
	copy(buf[metaChecksumOffset:MetaSize], sum[:])

	return nil
}

// Deserialize decodes a metapage slot. It returns ErrInvalidFormat when the
// magic is wrong, ErrVersionMismatch for newer formats and a checksum error
// when the slot was torn or damaged.
func (m *Meta) Deserialize(buf []byte) error {
	if len(buf) < MetaSize {
		return ErrInvalidFormat
	}
	if [4]byte(buf[0:4]) != Magic {
		return ErrInvalidFormat
	}

	sum := MetaChecksum(buf[:metaChecksumOffset])
	if [32]byte(buf[metaChecksumOffset:MetaSize]) != sum {
		return errMetaChecksum
	}

	m.Version = binary.LittleEndian.Uint32(buf[4:8])
	if m.Version > CurrentVersion || m.Version == 0 {
		return ErrVersionMismatch
	}
	m.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	m.Flags = binary.LittleEndian.Uint32(buf[12:16])
	copy(m.FileID[:], buf[16:32])
	m.TxnID = binary.LittleEndian.Uint64(buf[32:40])
	m.CatalogRoot = PageID(binary.LittleEndian.Uint64(buf[40:48]))
	m.FreedRoot = PageID(binary.LittleEndian.Uint64(buf[48:56]))
	m.SavepointRoot = PageID(binary.LittleEndian.Uint64(buf[56:64]))
	m.FreeListHead = PageID(binary.LittleEndian.Uint64(buf[64:72]))
	m.FreeListCount = binary.LittleEndian.Uint64(buf[72:80])
	m.TotalPages = binary.LittleEndian.Uint64(buf[80:88])
	m.NextSavepointID = binary.LittleEndian.Uint64(buf[88:96])
	m.CommitTime = int64(binary.LittleEndian.Uint64(buf[96:104]))

	if !ValidPageSize(int(m.PageSize)) {
		return ErrInvalidFormat
	}
	return nil
}

// MetaChoice is the outcome of recovering the current metapage.
type MetaChoice struct {
	Meta     Meta
	Slot     PageID
	Fallback bool // the other slot failed validation
}

// SelectMeta picks the current metapage from the two slot images: the
// checksum-valid slot with the higher transaction id. It fails with
// ErrInvalidFormat if neither slot carries the magic, ErrVersionMismatch if a
// valid slot has a newer format, and ErrCorruption if no slot is valid.
func SelectMeta(slots [MetaSlots][]byte) (MetaChoice, error) {
	var (
		metas   [MetaSlots]Meta
		errs    [MetaSlots]error
		choice  MetaChoice
		found   bool
		formats int
	)

	for i, buf := range slots {
		errs[i] = metas[i].Deserialize(buf)
		if !errors.Is(errs[i], ErrInvalidFormat) {
			formats++
		}
		if errors.Is(errs[i], ErrVersionMismatch) {
			return choice, ErrVersionMismatch
		}
	}

	if formats == 0 {
		return choice, ErrInvalidFormat
	}

	for i := range metas {
		if errs[i] != nil {
			continue
		}
		if !found || metas[i].TxnID > choice.Meta.TxnID {
			choice.Meta = metas[i]
			choice.Slot = PageID(i)
			found = true
		}
	}
	if !found {
		return choice, Corruptf(0, "both metapages are invalid")
	}

	other := 1 - int(choice.Slot)
	if errs[other] != nil && !errors.Is(errs[other], ErrInvalidFormat) {
		choice.Fallback = true
	}
	return choice, nil
}
