// Package errors provides the typed error values reported by the session layer.
package errors

import (
	stderrors "errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that carries no domain code.
	CodeUnknown Code = "UNKNOWN"

	CodeNotFound         Code = "NOT_FOUND"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	CodeJoinDisallowed   Code = "JOIN_DISALLOWED"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeUnhandled        Code = "UNHANDLED"
)

// HTTPStatus maps a code to the status the management API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized, CodeJoinDisallowed:
		return http.StatusForbidden
	case CodeCapacityExceeded:
		return http.StatusConflict
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnhandled:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message, safe to show to clients
	Metadata map[string]string // Additional context (ids, limits)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks. They match any *Error with the same code.
var (
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized     = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrCapacityExceeded = &Error{Code: CodeCapacityExceeded, Message: "capacity exceeded"}
	ErrJoinDisallowed   = &Error{Code: CodeJoinDisallowed, Message: "joining is not allowed"}
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrUnhandled        = &Error{Code: CodeUnhandled, Message: "unhandled command"}
)

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Unhandled reports a well-formed command nobody recognised.
func Unhandled(command string) *Error {
	return WithMetadata(CodeUnhandled, "unhandled command: "+command, map[string]string{"command": command})
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
