package storage

import (
	"errors"
	"math"
)

// MaxValueSize is the largest value the engine stores.
const MaxValueSize = math.MaxUint32

// ErrValueTooLarge is returned for values longer than MaxValueSize.
var ErrValueTooLarge = errors.New("value too large")

// OverflowCapacity returns the payload bytes held by one overflow page.
func OverflowCapacity(pageSize int) int {
	return pageSize - PageHeaderSize
}

// OverflowPageCount returns the number of continuation pages a value of the
// given length occupies.
func OverflowPageCount(length uint64, pageSize int) int {
	c := uint64(OverflowCapacity(pageSize))
	return int((length + c - 1) / c)
}

// WriteOverflow stores data in a freshly allocated chain of overflow pages
// and returns the head page. The pages are written immediately; they stay
// unreachable until the transaction that references them commits.
func WriteOverflow(pm *PageManager, allocate func() (PageID, error), data []byte, txnID uint64) (PageID, error) {
	if uint64(len(data)) > MaxValueSize {
		return 0, ErrValueTooLarge
	}

	n := OverflowPageCount(uint64(len(data)), pm.PageSize())
	if n == 0 {
		n = 1
	}
	ids := make([]PageID, n)
	for i := range ids {
		id, err := allocate()
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}

	capacity := OverflowCapacity(pm.PageSize())
	buf := make([]byte, pm.PageSize())
	for i, id := range ids {
		chunk := data[min(i*capacity, len(data)):min((i+1)*capacity, len(data))]

		clear(buf)
		h := PageHeader{Type: PageTypeOverflow, Aux: uint32(len(chunk)), TxnID: txnID}
		if i+1 < len(ids) {
			h.Next = ids[i+1]
		}
		if err := h.Serialize(buf); err != nil {
			return 0, err
		}
		copy(buf[PageHeaderSize:], chunk)
		SealPage(buf)

		if err := pm.WritePage(id, buf); err != nil {
			return 0, err
		}
	}
	return ids[0], nil
}

// ReadOverflow reassembles a value of the given length from its chain.
func ReadOverflow(pm *PageManager, head PageID, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	err := walkOverflow(pm, head, length, func(id PageID, payload []byte) {
		out = append(out, payload...)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OverflowPages lists the pages of a chain.
func OverflowPages(pm *PageManager, head PageID, length uint32) ([]PageID, error) {
	var ids []PageID
	err := walkOverflow(pm, head, length, func(id PageID, _ []byte) {
		ids = append(ids, id)
	})
	return ids, err
}

// walkOverflow visits every page of a chain, verifying checksums and that
// the chain length matches the recorded value length.
func walkOverflow(pm *PageManager, head PageID, length uint32, fn func(id PageID, payload []byte)) error {
	expected := OverflowPageCount(uint64(length), pm.PageSize())
	if expected == 0 {
		expected = 1
	}
	capacity := OverflowCapacity(pm.PageSize())
	var total uint64

	next := head
	for i := 0; i < expected; i++ {
		if next == 0 {
			return Corruptf(head, "overflow chain ends after %d of %d pages", i, expected)
		}
		cur := next
		err := pm.View(cur, func(page []byte) error {
			h, err := OpenPage(cur, page, PageTypeOverflow)
			if err != nil {
				return err
			}
			if int(h.Aux) > capacity {
				return Corruptf(cur, "overflow payload of %d bytes", h.Aux)
			}
			fn(cur, page[PageHeaderSize:PageHeaderSize+int(h.Aux)])
			total += uint64(h.Aux)
			next = h.Next
			return nil
		})
		if err != nil {
			return err
		}
	}

	if next != 0 {
		return Corruptf(head, "overflow chain longer than %d pages", expected)
	}
	if total != uint64(length) {
		return Corruptf(head, "overflow chain holds %d bytes, expected %d", total, length)
	}
	return nil
}
