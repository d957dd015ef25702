// Package errors provides the structured error type used across the daemon.
// Every error carries a code, a category that decides how the file state
// manager and the control plane react to it, and an optional wrapped cause.
package errors

import (
	"fmt"
)

// DaemonError is the structured error type for folder-mcp.
type DaemonError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_TOO_LARGE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (validation, resource, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *DaemonError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DaemonError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *DaemonError) Is(target error) bool {
	if t, ok := target.(*DaemonError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DaemonError) WithDetail(key, value string) *DaemonError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new DaemonError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DaemonError {
	return &DaemonError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DaemonError from an existing error.
// The error's message becomes the DaemonError message.
func Wrap(code string, err error) *DaemonError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DaemonError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DaemonError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DaemonError); ok {
		return de.Retryable
	}
	return false
}

// IsCorruption checks if an error marks content as permanently unparseable.
func IsCorruption(err error) bool {
	return GetCategory(err) == CategoryCorruption
}

// GetCode extracts the error code from a DaemonError.
// Returns empty string if not a DaemonError.
func GetCode(err error) string {
	if de, ok := err.(*DaemonError); ok {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DaemonError.
// Returns empty string if not a DaemonError.
func GetCategory(err error) Category {
	if de, ok := err.(*DaemonError); ok {
		return de.Category
	}
	return ""
}
