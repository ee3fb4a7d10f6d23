package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while merging.
//
// Rejected operations are never errors; they are diagnostics on the
// Outcome. RuntimeError covers failures of the engine itself.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Table and Key identify the affected row, if any.
	Table string
	Key   string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStorage indicates the log or row store failed.
	ErrCodeStorage RuntimeErrorCode = "STORAGE_FAILURE"

	// ErrCodeNondeterministic indicates two folds of the same history disagreed.
	ErrCodeNondeterministic RuntimeErrorCode = "NONDETERMINISTIC_FOLD"

	// ErrCodeStopped indicates the event loop no longer accepts events.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Table != "" || e.Key != "" {
		msg = fmt.Sprintf("%s (row=%s/%s)", msg, e.Table, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if err is a storage failure.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStorage
	}
	return false
}

// IsNondeterminismError returns true if err reports diverging folds.
func IsNondeterminismError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNondeterministic
	}
	return false
}

// NewStorageError wraps a log or row store failure for (table, key).
func NewStorageError(op, table, key string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStorage,
		Message: op,
		Table:   table,
		Key:     key,
		Err:     err,
	}
}

// NewNondeterminismError reports how many keys folded differently.
func NewNondeterminismError(mismatches int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNondeterministic,
		Message: fmt.Sprintf("%d key(s) folded differently across delivery orders", mismatches),
		Details: map[string]string{
			"mismatches": fmt.Sprintf("%d", mismatches),
		},
	}
}
