package storage

import (
	"errors"
	"fmt"
)

// ErrStorageFull is returned when the file cannot grow any further.
var ErrStorageFull = errors.New("storage is full")

// IOError wraps a failed filesystem operation on the database file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// ioErr wraps err as an IOError, classifying out-of-space conditions as
// ErrStorageFull as well.
func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	e := &IOError{Op: op, Path: path, Err: err}
	if isNoSpace(err) {
		return fmt.Errorf("%w: %w", ErrStorageFull, e)
	}
	return e
}
