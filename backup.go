package obakv

import (
	"bufio"
	"errors"
	"io"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// backupBufferSize is the write buffer used when streaming pages.
const backupBufferSize = 1 << 20

// WriteTo streams a copy of the snapshot to w as a complete database file.
// Both metapage slots of the copy describe the snapshot, so the copy opens
// like a cleanly closed database. Writes committed after the transaction
// began are not included.
func (r *ReadTxn) WriteTo(w io.Writer) (int64, error) {
	if err := r.live(); err != nil {
		return 0, err
	}

	db := r.db
	bw := bufio.NewWriterSize(w, backupBufferSize)
	var written int64
	emit := func(page []byte) error {
		n, err := bw.Write(page)
		written += int64(n)
		return err
	}

	meta := make([]byte, db.pm.PageSize())
	if err := r.meta.Serialize(meta); err != nil {
		return 0, err
	}
	for range storage.MetaSlots {
		if err := emit(meta); err != nil {
			return written, err
		}
	}

	zero := make([]byte, db.pm.PageSize())
	for id := storage.PageID(storage.MetaSlots); uint64(id) < r.meta.TotalPages; id++ {
		err := db.pm.View(id, emit)
		// Pages past a compacted file's end are free in every open snapshot.
		if errors.Is(err, storage.ErrPageOutOfRange) {
			err = emit(zero)
		}
		if err != nil {
			return written, err
		}
	}

	if err := bw.Flush(); err != nil {
		return written, err
	}
	db.log.WithComponent("backup").Info("backup written",
		"txn", r.meta.TxnID, "pages", r.meta.TotalPages, "bytes", written)
	return written, nil
}

// Backup writes a consistent copy of the latest committed state to w.
func (db *DB) Backup(w io.Writer) (int64, error) {
	var n int64
	err := db.View(func(r *ReadTxn) error {
		var err error
		n, err = r.WriteTo(w)
		return err
	})
	return n, err
}
