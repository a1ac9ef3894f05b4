package errors

import (
	"net/http"
)

// FromError converts a standard error to an AppError
// If the error chain already holds an AppError, that one is returned
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	return Internal("An unexpected error occurred").WithCause(err)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// PublicMessage is the text safe to hand back to a client.
// Persistence and internal failures never leak their cause.
func PublicMessage(err error) string {
	appErr, ok := As(err)
	if !ok {
		return "Internal error"
	}
	return appErr.Message
}

// IsServerSide reports whether err should be logged at error level
func IsServerSide(err error) bool {
	return GetStatusCode(err) >= http.StatusInternalServerError
}
