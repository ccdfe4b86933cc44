package query

import (
	"errors"
	"fmt"

	"github.com/lslebodn/assayist/traverse"
)

var (
	// ErrInvalidInput is returned when arguments fail validation. No store
	// query has been issued when it is returned.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a required anchor node does not exist.
	ErrNotFound = traverse.ErrNotFound
)

// StoreError wraps a failure of the backing store. It is never retried here.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error in %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
