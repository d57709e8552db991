package scopes

import (
	"errors"
	"fmt"
)

// NotFoundError indicates an unknown scope document name
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scope document not found: %s", e.Name)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConflictError indicates an optimistic concurrency failure on update, or a
// duplicate name on create
type ConflictError struct {
	Name     string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	if e.Expected != e.Actual {
		return fmt.Sprintf("scope document %s version conflict: expected %d, have %d", e.Name, e.Expected, e.Actual)
	}
	return fmt.Sprintf("scope document already exists: %s", e.Name)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// StoreUnavailableError indicates the backing store could not be reached.
// Resolution never treats this as "no grants" - an outage must stay
// distinguishable from a legitimate fail-closed deny.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("scope store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsStoreUnavailable reports whether err is a StoreUnavailableError
func IsStoreUnavailable(err error) bool {
	var su *StoreUnavailableError
	return errors.As(err, &su)
}
