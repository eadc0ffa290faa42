package obakv

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/catalog"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// File and storage errors.
var (
	ErrInvalidFormat       = storage.ErrInvalidFormat
	ErrVersionMismatch     = storage.ErrVersionMismatch
	ErrCorruption          = storage.ErrCorruption
	ErrDatabaseAlreadyOpen = storage.ErrDatabaseAlreadyOpen
	ErrStorageFull         = storage.ErrStorageFull
	ErrReadOnly            = storage.ErrReadOnly
	ErrDatabaseClosed      = errors.New("database is closed")
	ErrInvalidOptions      = errors.New("invalid options")
)

// Transaction errors.
var (
	ErrWriterBusy  = tx.ErrWriterBusy
	ErrPreviousIO  = tx.ErrPreviousIO
	ErrTxNotActive = tx.ErrTxNotActive
)

// Table errors.
var (
	ErrTableDoesNotExist = errors.New("table does not exist")
	ErrTableTypeMismatch = errors.New("table type mismatch")
	ErrTableDropped      = errors.New("table was deleted in this transaction")
	ErrInvalidTableName  = catalog.ErrInvalidName
	ErrUnknownOrder      = errors.New("unknown key order")
	ErrTreeModified      = btree.ErrTreeModified
	ErrKeyTooLarge       = btree.ErrKeyTooLarge
	ErrValueTooLarge     = storage.ErrValueTooLarge
)

// Savepoint and maintenance errors.
var (
	ErrInvalidSavepoint            = errors.New("savepoint is invalid or unknown")
	ErrTransactionDirty            = errors.New("transaction has already been modified")
	ErrPersistentSavepointModified = errors.New("persistent savepoints were modified in a transaction without durability")
	ErrCompactionBlocked           = errors.New("compaction is blocked by open transactions or savepoints")
)

// IOError wraps a failed filesystem operation on the database file.
type IOError = storage.IOError

// CorruptionError reports a page that failed checksum or structural
// validation. It matches ErrCorruption.
type CorruptionError = storage.CorruptionError

// TableTypeMismatchError reports that a table was opened with a definition
// that differs from the one it was created with.
type TableTypeMismatchError struct {
	Table     string
	Stored    string
	Requested string
}

func (e *TableTypeMismatchError) Error() string {
	return fmt.Sprintf("table %q was created as %s, opened as %s", e.Table, e.Stored, e.Requested)
}

// Unwrap lets errors.Is match ErrTableTypeMismatch.
func (e *TableTypeMismatchError) Unwrap() error {
	return ErrTableTypeMismatch
}

// validationError reports whether err was raised before a tree was touched,
// so the transaction can continue.
func validationError(err error) bool {
	return errors.Is(err, ErrKeyTooLarge) || errors.Is(err, ErrValueTooLarge)
}
