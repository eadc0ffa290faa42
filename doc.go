// Package obakv is an embedded key-value store kept in a single file.
//
// # Overview
//
// A database holds named tables of ordered byte keys and byte values. Tables
// are copy-on-write B-trees: a write transaction never changes a page that a
// committed state still references, so readers see a fixed snapshot without
// taking locks and a crash at any point leaves the last committed state
// intact. Commits are published through two checksummed metapages; there is
// no write-ahead log.
//
//	db, err := obakv.Open("data.okv", nil)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	users := obakv.TableDefinition{Name: "users", KeyType: "string", ValueType: "json"}
//
//	err = db.Update(func(tx *obakv.WriteTxn) error {
//	    t, err := tx.OpenTable(users)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = t.Insert([]byte("alice"), []byte(`{"age":31}`))
//	    return err
//	})
//
//	err = db.View(func(tx *obakv.ReadTxn) error {
//	    t, err := tx.OpenTable(users)
//	    if err != nil {
//	        return err
//	    }
//	    for k, v := range t.Range(nil, nil).All() {
//	        fmt.Printf("%s=%s\n", k, v)
//	    }
//	    return nil
//	})
//
// # Transactions
//
// One write transaction runs at a time; BeginWrite waits for the current
// one. Read transactions never wait and may be opened from any goroutine.
// Pages freed by a commit are reused only after every reader that could
// still see them has closed.
//
// # Durability
//
// With DurabilityImmediate, the default, Commit returns after the data and
// the metapage are on stable storage. DurabilityNone skips both syncs and
// keeps the new metapage in memory; such commits become durable with the
// next durable commit or Close.
//
// # Savepoints
//
// A write transaction that has not modified anything can capture the state
// it started from as a savepoint and a later write transaction can restore
// it. Persistent savepoints are stored in the file; ephemeral ones live
// until they are released or the DB is closed.
//
// # Maintenance
//
// Compact returns free space at the end of the file to the file system,
// CheckIntegrity verifies every tree and page, and ReadTxn.WriteTo streams
// a consistent copy of a snapshot. The obakv command wraps these.
package obakv
