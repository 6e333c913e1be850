// Package errors provides custom error types with error codes for the relay services.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code represents an application error code.
type Code string

// Error codes for the application.
const (
	// General errors
	CodeInternal         Code = "INTERNAL"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"

	// Exchange errors
	CodeMissingCode         Code = "MISSING_CODE"
	CodeTokenExchangeFailed Code = "TOKEN_EXCHANGE_FAILED"
	CodeProfileFetchFailed  Code = "PROFILE_FETCH_FAILED"
	CodeEmailFetchFailed    Code = "EMAIL_FETCH_FAILED"
)

// Error is the application's custom error type with code and details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"` // Underlying error, not serialized
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the target error has the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Err:     err,
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// InternalWrap creates an internal error wrapping another error.
func InternalWrap(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message)
}

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// MethodNotAllowed creates a method not allowed error.
func MethodNotAllowed(message string) *Error {
	return New(CodeMethodNotAllowed, message)
}

// Exchange error constructors

// MissingCode creates a missing authorization code error.
func MissingCode() *Error {
	return New(CodeMissingCode, "missing code")
}

// TokenExchangeFailed creates a token exchange error.
func TokenExchangeFailed(message string) *Error {
	return New(CodeTokenExchangeFailed, message)
}

// ProfileFetchFailed creates a profile fetch error.
func ProfileFetchFailed(message string) *Error {
	return New(CodeProfileFetchFailed, message)
}

// EmailFetchFailed creates an email fetch error.
func EmailFetchFailed(message string) *Error {
	return New(CodeEmailFetchFailed, message)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case CodeMissingCode, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// UpstreamDetails converts a raw upstream response body into a details value.
// Bodies that parse as JSON are passed through unchanged, anything else is
// returned as a string.
func UpstreamDetails(body []byte) any {
	if len(body) == 0 {
		return ""
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, or CodeInternal if not found.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// From returns err as an *Error, wrapping anything else as an internal error.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return InternalWrap("unexpected error", err)
}
