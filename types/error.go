package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified, user-facing error category.
type ErrorCode string

// Provider error codes
const (
	ErrBadRequest    ErrorCode = "BAD_REQUEST"
	ErrUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrForbidden     ErrorCode = "FORBIDDEN"
	ErrRateLimited   ErrorCode = "RATE_LIMITED"
	ErrServerError   ErrorCode = "SERVER_ERROR"
	ErrNetwork       ErrorCode = "NETWORK"
	ErrEmptyResponse ErrorCode = "EMPTY_RESPONSE"
	ErrUnsupported   ErrorCode = "UNSUPPORTED"
	ErrParse         ErrorCode = "PARSE_ERROR"
)

// Local error codes, raised before any network call.
const (
	ErrConfiguration ErrorCode = "CONFIGURATION"
	ErrUnsafeURL     ErrorCode = "UNSAFE_URL"
	ErrFetchTimeout  ErrorCode = "FETCH_TIMEOUT"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a classified error with code, message, and metadata.
// Provider carries the label of the provider family that produced it.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the upstream HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider sets the provider label.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// StatusFor maps an error code to the HTTP status the relay answers with.
func StatusFor(code ErrorCode) int {
	switch code {
	case ErrBadRequest, ErrUnsafeURL:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUnsupported:
		return http.StatusUnprocessableEntity
	case ErrFetchTimeout:
		return http.StatusRequestTimeout
	case ErrServerError, ErrNetwork, ErrEmptyResponse, ErrParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
