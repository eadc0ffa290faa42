package tx

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/storage/mvcc"
)

// Transaction manager errors.
var (
	ErrTxNotActive    = errors.New("transaction is not active")
	ErrWriterBusy     = errors.New("another write transaction is in progress")
	ErrPreviousIO     = errors.New("a previous commit failed to write to the file")
	ErrManagerClosed  = errors.New("transaction manager is closed")
	ErrNilTransaction = errors.New("transaction is nil")
	ErrWrongKind      = errors.New("wrong transaction kind")
)

// TxManager hands out the writer lease and tracks the snapshots in use.
//
// At most one write transaction exists at a time. Read transactions are
// registered in the registry under the id of the snapshot they read, which
// keeps the pages of that snapshot from being reclaimed.
type TxManager struct {
	// lease holds a token while a write transaction is active.
	lease chan struct{}

	// nextTxID is the id the next write transaction will commit as.
	nextTxID atomic.Uint64

	registry *mvcc.Registry
	timeout  time.Duration
	closed   atomic.Bool

	// poison is the flush error that broke the writer, if any.
	mu     sync.Mutex
	poison error
}

// NewTxManager creates a manager for a database whose last committed state
// is lastTxID. A zero timeout makes BeginWrite wait indefinitely.
func NewTxManager(lastTxID uint64, registry *mvcc.Registry, timeout time.Duration) *TxManager {
	tm := &TxManager{
		lease:    make(chan struct{}, 1),
		registry: registry,
		timeout:  timeout,
	}
	tm.nextTxID.Store(lastTxID + 1)
	return tm
}

// Registry returns the snapshot registry.
func (tm *TxManager) Registry() *mvcc.Registry {
	return tm.registry
}

// BeginWrite takes the writer lease and starts a write transaction. It
// waits until the current writer finishes, ctx ends or the configured
// timeout elapses; the last two fail with ErrWriterBusy wrapping the
// context error.
func (tm *TxManager) BeginWrite(ctx context.Context) (*Transaction, error) {
	if err := tm.usable(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && tm.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tm.timeout)
		defer cancel()
	}

	select {
	case tm.lease <- struct{}{}:
	default:
		select {
		case tm.lease <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrWriterBusy, ctx.Err())
		}
	}

	// The previous writer may have poisoned the manager while we waited.
	if err := tm.usable(); err != nil {
		<-tm.lease
		return nil, err
	}
	return NewTransaction(tm.nextTxID.Load(), KindWrite), nil
}

// AcquireLease waits for the writer lease with no timeout. It succeeds on a
// poisoned or closed manager, so shutdown can wait for the last writer.
func (tm *TxManager) AcquireLease() {
	tm.lease <- struct{}{}
}

// ReleaseLease returns a lease taken with AcquireLease.
func (tm *TxManager) ReleaseLease() {
	<-tm.lease
}

// TryBeginWrite starts a write transaction only if the lease is free.
func (tm *TxManager) TryBeginWrite() (*Transaction, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return tm.BeginWrite(ctx)
}

func (tm *TxManager) usable() error {
	if tm.closed.Load() {
		return ErrManagerClosed
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.poison != nil {
		return fmt.Errorf("%w: %w", ErrPreviousIO, tm.poison)
	}
	return nil
}

// Commit marks a write transaction committed, advances the id counter and
// releases the lease. The caller has already published the new state.
func (tm *TxManager) Commit(tx *Transaction) error {
	if err := tm.checkWriter(tx); err != nil {
		return err
	}
	if err := tx.finish(TxCommitted); err != nil {
		return err
	}
	tm.nextTxID.Store(tx.ID + 1)
	<-tm.lease
	return nil
}

// Rollback marks a write transaction aborted and releases the lease. The
// transaction id is handed to the next writer.
func (tm *TxManager) Rollback(tx *Transaction) error {
	if err := tm.checkWriter(tx); err != nil {
		return err
	}
	if err := tx.finish(TxAborted); err != nil {
		return err
	}
	tx.ResetPages()
	<-tm.lease
	return nil
}

func (tm *TxManager) checkWriter(tx *Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}
	if tx.Kind != KindWrite {
		return ErrWrongKind
	}
	return nil
}

// Poison records a failed flush. Every later BeginWrite fails with
// ErrPreviousIO.
func (tm *TxManager) Poison(err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.poison == nil {
		tm.poison = err
	}
}

// Poisoned returns the recorded flush error.
func (tm *TxManager) Poisoned() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.poison
}

// BeginRead starts a read transaction over snapshot id and registers it. A
// transaction that becomes unreachable without EndRead is deregistered when
// the garbage collector finds it.
func (tm *TxManager) BeginRead(snapshot uint64) (*Transaction, error) {
	if tm.closed.Load() {
		return nil, ErrManagerClosed
	}
	tx := NewTransaction(snapshot, KindRead)
	tx.pin = &readPin{id: snapshot}
	tm.registry.Acquire(snapshot)

	registry := tm.registry
	runtime.AddCleanup(tx, func(p *readPin) {
		if p.done.CompareAndSwap(false, true) {
			registry.Release(p.id)
		}
	}, tx.pin)
	return tx, nil
}

// EndRead closes a read transaction and deregisters its snapshot.
func (tm *TxManager) EndRead(tx *Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}
	if tx.Kind != KindRead {
		return ErrWrongKind
	}
	if err := tx.finish(TxCommitted); err != nil {
		return err
	}
	if tx.pin.done.CompareAndSwap(false, true) {
		tm.registry.Release(tx.pin.id)
	}
	return nil
}

// Watermark returns the oldest snapshot id still registered, or writerID
// when nothing older than the writer is in use. Pages freed by a state
// below the watermark are unreachable from every registered snapshot.
func (tm *TxManager) Watermark(writerID uint64) uint64 {
	oldest, ok := tm.registry.Oldest()
	if !ok || oldest > writerID {
		return writerID
	}
	return oldest
}

// NextTxID returns the id the next write transaction will commit as.
func (tm *TxManager) NextTxID() uint64 {
	return tm.nextTxID.Load()
}

// ActiveReaders returns the number of registered snapshot holders.
func (tm *TxManager) ActiveReaders() int {
	return tm.registry.Len()
}

// WriterActive reports whether the writer lease is taken.
func (tm *TxManager) WriterActive() bool {
	return len(tm.lease) > 0
}

// Close stops new transactions from starting. Transactions already running
// may still finish.
func (tm *TxManager) Close() {
	tm.closed.Store(true)
}
