package fapctl

import (
	"errors"
	"fmt"
)

// Common errors returned by fapctl operations
var (
	// ErrConfiguration indicates a session could not be prepared (bad identity,
	// missing working directory, unwritable log path)
	ErrConfiguration = errors.New("fapctl: configuration")

	// ErrProcessSpawn indicates the target process could not be started
	ErrProcessSpawn = errors.New("fapctl: process spawn")

	// ErrDaemonControl indicates a service toggle failed
	ErrDaemonControl = errors.New("fapctl: daemon control")

	// ErrProfilingLocked indicates another process holds the profiling lock
	ErrProfilingLocked = errors.New("fapctl: profiling locked by another process")

	// ErrUnknownSession indicates no session is registered under a key
	ErrUnknownSession = errors.New("fapctl: unknown session")

	// ErrDuplicateKey indicates a session key is already registered
	ErrDuplicateKey = errors.New("fapctl: duplicate session key")
)

// OpError represents an error from a fapctl operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Target is the unit, path, user or command involved in the operation
	Target string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("fapctl %s %q: %v", e.Op.String(), e.Target, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
