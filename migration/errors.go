package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a job id that doesn't exist in the store
	ErrNotFound = fmt.Errorf("migration: not found")
	// ErrNoID indicates a job without an identifier
	ErrNoID = fmt.Errorf("migration: no job ID")
	// ErrInvalidTransition is returned by the state machine when a status
	// change isn't in the transition table. callers must not mutate state
	// when they receive it
	ErrInvalidTransition = fmt.Errorf("migration: invalid status transition")
	// ErrConflict indicates a concurrent writer already changed a job's
	// status out from under the caller. the store is never silently
	// overwritten
	ErrConflict = fmt.Errorf("migration: status conflict")
	// ErrRevisionRegress indicates an attempt to move lastSyncedRevision
	// backward
	ErrRevisionRegress = fmt.Errorf("migration: revision regress")
	// ErrStoreUnavailable indicates the persistence layer can't be reached.
	// the job stays in its last durable state
	ErrStoreUnavailable = fmt.Errorf("migration: store unavailable")
)

// ExecutionError wraps an error reported by the execution capability,
// carrying whether the scheduler should retry it
type ExecutionError struct {
	err       error
	retryable bool
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the underlying cause
func (e *ExecutionError) Unwrap() error {
	return e.err
}

// NewRetryableError marks err as a transient execution failure the scheduler
// may retry per policy
func NewRetryableError(err error) error {
	return &ExecutionError{err: err, retryable: true}
}

// NewFatalError marks err as unrecoverable. fatal errors bypass retry and
// fail the job immediately
func NewFatalError(err error) error {
	return &ExecutionError{err: err, retryable: false}
}

// IsRetryable returns true if err is an execution error flagged for retry
func IsRetryable(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.retryable
	}
	return false
}

// IsFatal returns true if err is an execution error flagged unrecoverable
func IsFatal(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return !ee.retryable
	}
	return false
}
