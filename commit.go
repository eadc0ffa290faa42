package obakv

import (
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// maxFreeRounds bounds the loop that records pending frees. Recording
// copies tracker pages, which frees more pages; the loop settles after a
// few rounds.
const maxFreeRounds = 64

// Commit makes the changes of the transaction visible to new read
// transactions. With DurabilityImmediate they are on stable storage when
// Commit returns.
//
// A failed commit aborts the transaction. A failure while writing to the
// file additionally stops further write transactions with ErrPreviousIO
// until the database is reopened.
func (w *WriteTxn) Commit() error {
	if err := w.live(); err != nil {
		return err
	}
	start := time.Now()

	meta, chain, stats, err := w.prepare()
	if err != nil {
		w.abort()
		w.db.log.WithComponent("commit").Warn("commit aborted", "txn", w.tx.ID, "error", err)
		return err
	}

	if err := w.flush(meta, chain); err != nil {
		w.db.txm.Poison(err)
		w.abort()
		w.db.log.WithComponent("commit").Error("commit failed, database needs to be reopened",
			"txn", w.tx.ID, "error", err)
		return err
	}

	w.publish(meta, chain)

	w.db.log.WithComponent("commit").Debug("transaction committed",
		"txn", w.tx.ID,
		"pages_written", stats.written,
		"freed", stats.freed,
		"reclaimed", stats.reclaimed,
		"free_pages", meta.FreeListCount,
		"durability", w.durability,
		"duration", time.Since(start),
	)
	return nil
}

type commitStats struct {
	written   int
	freed     int
	reclaimed int
}

// prepare builds the metapage of the new state and reserves the free-list
// chain. Nothing is written to the file yet apart from overflow pages,
// which no published state references.
func (w *WriteTxn) prepare() (storage.Meta, []storage.PageID, commitStats, error) {
	var stats commitStats
	db := w.db

	if err := w.flushTables(); err != nil {
		return storage.Meta{}, nil, stats, err
	}

	reclaimed, err := w.tracker.Reclaim(db.txm.Watermark(w.tx.ID))
	if err != nil {
		return storage.Meta{}, nil, stats, err
	}
	db.alloc.FreeAll(reclaimed)
	stats.reclaimed = len(reclaimed)

	// The previous chain is referenced by the previous state.
	for _, id := range db.chain {
		w.tx.AddFreed(id)
	}

	for round := 0; ; round++ {
		freed := w.tx.TakeFreed()
		if len(freed) == 0 {
			break
		}
		if round == maxFreeRounds {
			return storage.Meta{}, nil, stats, fmt.Errorf("pending frees did not settle after %d rounds", round)
		}
		if err := w.tracker.Record(w.tx.ID, freed); err != nil {
			return storage.Meta{}, nil, stats, err
		}
		stats.freed += len(freed)
	}

	db.alloc.TrimTail()
	pool := db.alloc.Pool()
	k := storage.FreeListPagesNeeded(pool.Count(), db.pm.PageSize())
	chain := make([]storage.PageID, 0, k)
	for range k {
		id, _ := pool.Pop()
		chain = append(chain, id)
	}

	meta := w.base
	meta.TxnID = w.tx.ID
	meta.CatalogRoot = w.catalog.Root()
	meta.FreedRoot = w.tracker.Root()
	meta.SavepointRoot = w.savepoints.Root()
	meta.FreeListHead = btree.InvalidPageID
	if len(chain) > 0 {
		meta.FreeListHead = chain[0]
	}
	meta.FreeListCount = uint64(pool.Count())
	meta.TotalPages = db.alloc.HighWater()
	meta.NextSavepointID = db.nextSavepointID
	meta.CommitTime = time.Now().UnixNano()

	stats.written = len(w.store.staged) + len(chain)
	return meta, chain, stats, nil
}

// flush writes the dirty nodes, the free-list chain and, for a durable
// commit, the metapage.
func (w *WriteTxn) flush(meta storage.Meta, chain []storage.PageID) error {
	db := w.db
	buf := make([]byte, db.pm.PageSize())

	for id, n := range w.store.staged {
		if err := btree.EncodeNode(n, buf, w.tx.ID); err != nil {
			return fmt.Errorf("encode page %d: %w", id, err)
		}
		if err := db.pm.WritePage(id, buf); err != nil {
			return err
		}
	}

	ids := db.alloc.Pool().PeekAll()
	per := storage.FreeListCapacity(db.pm.PageSize())
	for i, id := range chain {
		part := ids[min(i*per, len(ids)):min((i+1)*per, len(ids))]
		next := btree.InvalidPageID
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		if err := storage.EncodeFreeListPage(buf, part, next, w.tx.ID); err != nil {
			return err
		}
		if err := db.pm.WritePage(id, buf); err != nil {
			return err
		}
	}

	if w.durability == DurabilityImmediate {
		return db.writeMeta(meta)
	}
	return nil
}

// publish installs the new state. It cannot fail.
func (w *WriteTxn) publish(meta storage.Meta, chain []storage.PageID) {
	db := w.db

	if w.durability == DurabilityNone && !db.durablePinned {
		db.registry.Acquire(db.durable.TxnID)
		db.durablePinned = true
	}

	// Pages rewritten by this commit may still have stale cache entries
	// from an earlier life.
	for _, id := range w.tx.Allocated() {
		if n, ok := w.store.staged[id]; ok {
			db.cache.Put(id, n)
		} else {
			db.cache.Remove(id)
		}
	}
	for _, id := range chain {
		db.cache.Remove(id)
	}

	db.state.Store(&dbState{meta: meta})
	db.chain = chain
	db.txm.Commit(w.tx)

	for _, id := range w.pendingUnpins {
		db.registry.Release(id)
	}
	if w.restoredID != 0 {
		db.invalidateEphemeral(w.restoredID)
	}
}
