package asyncworker

import (
	"fmt"
)

// MisuseError indicates an invalid argument to a submission operation, e.g.
// requesting atomic execution for a synchronous action, or an invalid sync
// descriptor. It is returned synchronously from the submission surface.
type MisuseError struct {
	Message string
}

// Error implements the error interface.
func (e *MisuseError) Error() string {
	if e.Message == "" {
		return "asyncworker: misuse"
	}
	return e.Message
}

// InvariantError indicates an internal assertion failed, e.g. an atomic work
// item was dequeued while an atomic window was already active. It indicates a
// programming bug and is raised via panic.
type InvariantError struct {
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Message == "" {
		return "asyncworker: invariant violated"
	}
	return e.Message
}

// PanicError wraps a value recovered from a panicking work payload.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("asyncworker: panic in work payload: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
