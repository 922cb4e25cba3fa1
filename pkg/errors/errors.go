// Package errors provides structured error types for the upmirror application.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the sync daemon and the HTTP adapter
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Codes map to the failure modes of the mirror:
//   - UPSTREAM_*: the remote feed could not be reached or rejected the token
//   - PACKAGE_SYNC_FAILED: a single package failed to sync (non-fatal)
//   - STORE_UNAVAILABLE: the metadata store is unreachable
//   - NOT_FOUND: a package does not exist (a normal result for clients)
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidConfig, "missing env var %s", name)
//	if errors.Is(err, errors.ErrCodeInvalidConfig) {
//	    // Handle configuration error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeUpstreamUnavailable, origErr, "list feed %s", feed)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Upstream feed errors
	ErrCodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	ErrCodeUnauthorized        Code = "UNAUTHORIZED"

	// Per-package sync errors
	ErrCodePackageSyncFailed Code = "PACKAGE_SYNC_FAILED"
	ErrCodeMalformedVersion  Code = "MALFORMED_VERSION"

	// Store errors
	ErrCodeStoreUnavailable Code = "STORE_UNAVAILABLE"

	// Lookup misses
	ErrCodeNotFound Code = "NOT_FOUND"

	// Configuration and input errors
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeInvalidInput  Code = "INVALID_INPUT"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
