// Package errors provides structured error types for the docmerge application.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across CLI and API
//   - Machine-readable error codes for programmatic handling
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow a hierarchical naming convention:
//   - INVALID_*: Input validation failures
//   - PASSWORD_*: Encrypted-source failures
//   - EMBED_*: Output assembly failures
//   - INTERNAL_*: Unexpected internal errors
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidCrop, "crop exceeds page bounds: %v", crop)
//	if errors.Is(err, errors.ErrCodeInvalidCrop) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeEmbedFailed, origErr, "source %q", name)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidCrop     Code = "INVALID_CROP"
	ErrCodeInvalidRotation Code = "INVALID_ROTATION"
	ErrCodeInvalidTier     Code = "INVALID_TIER"
	ErrCodeInvalidPageSize Code = "INVALID_PAGE_SIZE"
	ErrCodeUnsupportedKind Code = "UNSUPPORTED_KIND"

	// Encrypted-source errors
	ErrCodePasswordRequired Code = "PASSWORD_REQUIRED"
	ErrCodePasswordInvalid  Code = "PASSWORD_INVALID"

	// Assembly errors
	ErrCodeEmbedFailed Code = "EMBED_FAILED"

	// Run-level errors
	ErrCodeTimeout  Code = "TIMEOUT"
	ErrCodeCanceled Code = "CANCELED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code, an optional source file name,
// and an optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Source  string // Name of the source file that triggered the error, if any
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = fmt.Sprintf("%s (source %q)", msg, e.Source)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSource returns a copy of the error annotated with the given source
// file name. Used by the merge orchestrator to identify the failing input.
func (e *Error) WithSource(name string) *Error {
	clone := *e
	clone.Source = name
	return &clone
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

// GetSource extracts the failing source name from an error, if available.
func GetSource(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Source
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Source != "" {
			return fmt.Sprintf("%s (source %q)", e.Message, e.Source)
		}
		return e.Message
	}
	return err.Error()
}
