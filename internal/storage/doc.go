// Package storage provides the page-level components of the ObaKV engine.
//
// # Overview
//
// An ObaKV database is a single file of fixed-size pages. The first two
// pages are metapage slots; every other page is a B-tree node, a free-list
// chain page or an overflow page. This package knows how pages are laid
// out, read, written and handed out, but nothing about trees or
// transactions.
//
// # File Layout
//
//	+--------+--------+--------+--------+-----+--------+
//	| meta 0 | meta 1 | page 2 | page 3 | ... | page N |
//	+--------+--------+--------+--------+-----+--------+
//
// A metapage names the roots of the table catalog, the pending-free tree and
// the savepoint list, the head of the free-list chain and the number of
// pages in use. It is protected by a BLAKE3-256 checksum. The current state
// of the database is the valid metapage with the highest transaction id:
//
//	choice, err := storage.SelectMeta([2][]byte{slot0, slot1})
//
// Every other page starts with a 32-byte header carrying its type, the id of
// the transaction that wrote it and a truncated BLAKE3 checksum that is
// verified whenever the page is decoded.
//
// # Page Manager
//
// PageManager owns the file. Reads go through a read-only shared mapping;
// writes use positional writes on the descriptor and show up in the mapping
// without remapping:
//
//	pm, err := storage.OpenPageManager(path, storage.DefaultOptions())
//	err = pm.View(id, func(page []byte) error {
//	    // page is only valid inside the callback
//	    return nil
//	})
//	err = pm.WritePage(id, buf)
//	err = pm.Sync()
//
// The file grows in regions (at least MinGrowthPages, doubling up to
// MaxGrowthBytes per step) and is locked with flock so that only one
// read-write handle can exist.
//
// # Allocation
//
// Allocator hands out the lowest free page from the pool, or extends the
// high-water mark. The pool is persisted as a chain of free-list pages and
// reloaded with LoadFreeList. Pages freed by a committed transaction do not
// enter the pool directly; the pending-free tree in package mvcc holds them
// until no reader can see them.
//
// # Overflow Chains
//
// Values too large for a leaf are written to a chain of overflow pages with
// WriteOverflow and read back with ReadOverflow. The leaf keeps the head
// page and the value length.
package storage
