package storage

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

var zeroChecksum [8]byte

// PageChecksum returns the first 8 bytes of the BLAKE3 hash of a page,
// treating the header checksum field (bytes 24-31) as zero.
func PageChecksum(buf []byte) uint64 {
	h := blake3.New()
	_, _ = h.Write(buf[:24])
	_, _ = h.Write(zeroChecksum[:])
	_, _ = h.Write(buf[PageHeaderSize:])

	var sum [32]byte
	h.Sum(sum[:0])
	return binary.LittleEndian.Uint64(sum[:8])
}

// MetaChecksum returns the BLAKE3-256 hash of the checksummed metapage prefix.
func MetaChecksum(buf []byte) [32]byte {
	return blake3.Sum256(buf)
}
