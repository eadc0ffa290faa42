package tx

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// TxState represents the state of a transaction.
type TxState int

const (
	// TxActive indicates the transaction is currently active.
	TxActive TxState = iota
	// TxCommitted indicates the transaction has been successfully committed.
	// A read transaction reaches this state when it is closed.
	TxCommitted
	// TxAborted indicates the transaction has been rolled back.
	TxAborted
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Kind distinguishes read transactions from write transactions.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

func (k Kind) String() string {
	if k == KindWrite {
		return "write"
	}
	return "read"
}

// readPin is the registry entry of a read transaction. It is kept apart from
// the Transaction so that a cleanup can release it after the transaction
// itself became unreachable.
type readPin struct {
	id   uint64
	done atomic.Bool
}

// Transaction represents a database transaction.
//
// For a write transaction ID is the id of the state it produces when it
// commits. For a read transaction it is the id of the snapshot it reads.
type Transaction struct {
	// ID is the transaction identifier.
	ID uint64

	// Kind tells read and write transactions apart.
	Kind Kind

	// StartTime is when the transaction began.
	StartTime time.Time

	state TxState

	// allocated holds the pages this transaction allocated. They are not
	// reachable from any published root and may be modified in place.
	allocated map[storage.PageID]struct{}

	// freed holds committed pages this transaction stopped referencing.
	freed []storage.PageID

	pin *readPin

	mu sync.RWMutex
}

// NewTransaction creates an active transaction.
func NewTransaction(id uint64, kind Kind) *Transaction {
	tx := &Transaction{
		ID:        id,
		Kind:      kind,
		StartTime: time.Now(),
		state:     TxActive,
	}
	if kind == KindWrite {
		tx.allocated = make(map[storage.PageID]struct{})
	}
	return tx
}

// State returns the current state.
func (tx *Transaction) State() TxState {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state
}

// IsActive returns true if the transaction is still active.
func (tx *Transaction) IsActive() bool {
	return tx.State() == TxActive
}

// IsCommitted returns true if the transaction has been committed.
func (tx *Transaction) IsCommitted() bool {
	return tx.State() == TxCommitted
}

// IsAborted returns true if the transaction has been aborted.
func (tx *Transaction) IsAborted() bool {
	return tx.State() == TxAborted
}

// finish moves an active transaction to its final state.
func (tx *Transaction) finish(to TxState) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return ErrTxNotActive
	}
	tx.state = to
	return nil
}

// AddAllocated records a page allocated by this transaction.
func (tx *Transaction) AddAllocated(id storage.PageID) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.allocated[id] = struct{}{}
}

// IsAllocated reports whether this transaction allocated id.
func (tx *Transaction) IsAllocated(id storage.PageID) bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	_, ok := tx.allocated[id]
	return ok
}

// RemoveAllocated forgets a page the transaction allocated and then gave
// back. It returns false if id was not allocated by this transaction.
func (tx *Transaction) RemoveAllocated(id storage.PageID) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if _, ok := tx.allocated[id]; !ok {
		return false
	}
	delete(tx.allocated, id)
	return true
}

// Allocated returns the allocated pages in ascending order.
func (tx *Transaction) Allocated() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	ids := make([]storage.PageID, 0, len(tx.allocated))
	for id := range tx.allocated {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AddFreed records a committed page the transaction no longer references.
func (tx *Transaction) AddFreed(id storage.PageID) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.freed = append(tx.freed, id)
}

// Freed returns a copy of the freed pages.
func (tx *Transaction) Freed() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return slices.Clone(tx.freed)
}

// TakeFreed returns the freed pages and empties the list.
func (tx *Transaction) TakeFreed() []storage.PageID {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	freed := tx.freed
	tx.freed = nil
	return freed
}

// Dirty reports whether the transaction allocated or freed any page.
func (tx *Transaction) Dirty() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return len(tx.allocated) > 0 || len(tx.freed) > 0
}

// ResetPages drops the allocated and freed sets.
func (tx *Transaction) ResetPages() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	clear(tx.allocated)
	tx.freed = nil
}

// Duration returns the duration since the transaction started.
func (tx *Transaction) Duration() time.Duration {
	return time.Since(tx.StartTime)
}
