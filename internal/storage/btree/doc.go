// Package btree implements the copy-on-write B+ tree behind every table.
//
// # Nodes
//
// Each node occupies one page. Leaves hold sorted key/value entries; values
// too large to share a leaf are moved into an overflow chain and the leaf
// keeps the chain head and length. Branches hold separator keys and child
// page ids, with Keys[i] dividing Children[i] (keys < Keys[i]) from
// Children[i+1] (keys >= Keys[i]).
//
// Nodes split at their byte midpoint when they outgrow a page. After a
// delete a node below a quarter page is merged with a sibling when both fit
// in one page, otherwise the pair is re-split evenly.
//
// # Copy on write
//
// A tree never modifies a page reachable from a committed root. The first
// change to such a node copies it into a page allocated by the active write
// transaction and releases the original; later changes in the same
// transaction modify the copy in place. The path from the changed leaf to
// the root is rewritten the same way, so every committed root describes a
// complete, immutable snapshot.
//
// The tree itself does no I/O. Pages are read through a Reader bound to a
// snapshot and written through the Writer of the active transaction.
//
// # Iteration
//
// Range returns an Iterator over a half-open key range in either direction.
// Iterators hold the path from the root to the current leaf and load
// siblings lazily.
package btree
