package store

import (
	"github.com/pkg/errors"
)

// StorageError wraps any failure of the underlying relational store. It is
// retryable from the caller's point of view: the enclosing transaction has
// been rolled back and no partial membership update is visible.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage failure in " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// wrapStorage converts a raw gorm error into a StorageError, passing nil
// through untouched.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
