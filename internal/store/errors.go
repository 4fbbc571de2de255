package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every operation on a Store after Close.
var ErrClosed = errors.New("store is closed")

// ErrResource matches any failure of the persisted backing.
var ErrResource = errors.New("storage unavailable")

// ResourceError wraps a backend failure with the store operation that hit it.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() []error {
	return []error{ErrResource, e.Err}
}

func resourceErr(op string, err error) error {
	return &ResourceError{Op: op, Err: err}
}
