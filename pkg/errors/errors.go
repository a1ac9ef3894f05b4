package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes surfaced to clients
const (
	CodeAuthentication = "AUTHENTICATION_FAILED"
	CodeAccessDenied   = "ACCESS_DENIED"
	CodeValidation     = "VALIDATION_FAILED"
	CodeStateConflict  = "STATE_CONFLICT"
	CodeNotFound       = "NOT_FOUND"
	CodePersistence    = "PERSISTENCE_FAILED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithCause records the error that triggered this one
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Authentication is returned when a handshake credential is missing, invalid or belongs to a banned user
func Authentication(message string) *AppError {
	return NewError(http.StatusUnauthorized, CodeAuthentication, message)
}

// AccessDenied is returned when the caller is not a party of the exchange or call
func AccessDenied(message string) *AppError {
	return NewError(http.StatusForbidden, CodeAccessDenied, message)
}

// Validation is returned for malformed payloads
func Validation(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeValidation, message)
}

// StateConflict is returned when an entity is not in the state the operation requires
func StateConflict(message string) *AppError {
	return NewError(http.StatusConflict, CodeStateConflict, message)
}

// NotFound is returned when a referenced entity does not exist
func NotFound(message string) *AppError {
	return NewError(http.StatusNotFound, CodeNotFound, message)
}

// Persistence wraps a storage failure. The stack is captured since these are always logged.
func Persistence(message string, cause error) *AppError {
	e := NewError(http.StatusInternalServerError, CodePersistence, message).WithCause(cause)
	e.Stack = string(debug.Stack())
	return e
}

// RateLimited is returned when a connection exceeds its event budget
func RateLimited(message string) *AppError {
	return NewError(http.StatusTooManyRequests, CodeRateLimited, message)
}

// Internal is the catch-all for unexpected failures
func Internal(message string) *AppError {
	e := NewError(http.StatusInternalServerError, CodeInternal, message)
	e.Stack = string(debug.Stack())
	return e
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Is checks if err is an AppError with the same code as target
func Is(err error, target *AppError) bool {
	return target != nil && HasCode(err, target.Code)
}
