// Package mvcc keeps track of which committed snapshots are still in use and
// of the pages they may still read.
//
// # Registry
//
// Every read transaction, savepoint and unsynced durable state registers
// the id of the snapshot it holds:
//
//	reg.Acquire(txnID)
//	defer reg.Release(txnID)
//
// The oldest registered id bounds what a commit may reclaim.
//
// # Pending frees
//
// A page that a commit stops referencing cannot be reused at once: older
// snapshots may still reach it. The Tracker records such pages in a system
// B-tree keyed by the id of the transaction that freed them:
//
//	tracker.Record(txnID, pages)
//
// Once no registered snapshot is older than that transaction the pages are
// returned to the allocator:
//
//	pages, err := tracker.Reclaim(watermark)
//	alloc.FreeAll(pages)
//
// The tracker tree lives in the database file, so pending pages survive a
// crash and are reclaimed by the next commit after restart.
package mvcc
