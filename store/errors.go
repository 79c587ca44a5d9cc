package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a query matches no record. It is an expected outcome.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStorage marks failures of the underlying log
	ErrStorage = errors.New("checkpoint storage failure")

	// ErrInvalidScope is returned when a scope lacks a required field
	ErrInvalidScope = errors.New("invalid checkpoint scope")

	// ErrParentNotFound is returned when a checkpoint names a parent absent from its thread
	ErrParentNotFound = errors.New("parent checkpoint not found")
)

// StorageError wraps a backend failure for a named operation
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports StorageError as ErrStorage
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Fault wraps err as a storage failure of op. A nil err returns nil.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err signals an empty result
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFault reports whether err is an infrastructure failure rather than an empty result
// or a caller error
func IsFault(err error) bool {
	if err == nil || IsNotFound(err) || errors.Is(err, ErrInvalidScope) || errors.Is(err, ErrParentNotFound) {
		return false
	}
	return true
}
