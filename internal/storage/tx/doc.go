// Package tx implements the transaction manager of the ObaKV engine.
//
// # Overview
//
// ObaKV runs one write transaction at a time next to any number of read
// transactions. Readers never wait for the writer and the writer never
// waits for readers:
//
//   - Writers: serialized by a single lease
//   - Readers: pinned to one committed snapshot
//
// # Transaction Lifecycle
//
//	tx, err := manager.BeginWrite(ctx)
//	if err != nil {
//	    return err
//	}
//
//	// modify tables, then publish the new state and
//	err = manager.Commit(tx)
//
//	// or give up
//	err = manager.Rollback(tx)
//
// Read transactions are bracketed by BeginRead and EndRead. The snapshot id
// stays registered until EndRead, or until the transaction is garbage
// collected.
//
// # Transaction States
//
//   - Active: Transaction is in progress
//   - Committed: Changes are published (or a read transaction was closed)
//   - Aborted: Changes were discarded
//
// No other transition exists; ending a transaction twice fails with
// ErrTxNotActive.
//
// # Page Sets
//
// A write transaction tracks the pages it allocated, which it may modify in
// place, and the committed pages it stopped referencing, which become
// pending frees when it commits.
//
// # Watermark
//
// The watermark is the oldest snapshot still registered. Pending frees of
// transactions below it can be reused.
package tx
