// Package errors provides structured errors that map onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error; it picks the HTTP status and log level.
type ErrorType string

const (
	TypeValidation   ErrorType = "validation"
	TypeNotFound     ErrorType = "not_found"
	TypeConflict     ErrorType = "conflict"
	TypeUnauthorized ErrorType = "unauthorized"
	TypeRateLimited  ErrorType = "rate_limited"
	TypeInternal     ErrorType = "internal"
	TypeExternal     ErrorType = "external"
)

// Machine-readable codes surfaced to API clients next to the message.
const (
	CodeWindowClosed = "WINDOW_CLOSED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenError   = "TOKEN_ERROR"
	CodeNotConnected = "NOT_CONNECTED"
	CodeAuthFailed   = "AUTH_FAILED"
)

// Error is a structured error with type, optional client code, and log context.
type Error struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for the error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error   { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error   { return newError(TypeConflict, message, nil) }

func UnauthorizedError(message string) *Error { return newError(TypeUnauthorized, message, nil) }

func RateLimitedError(message string) *Error {
	return newError(TypeRateLimited, message, nil).WithCode(CodeRateLimited)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithCode attaches a client-facing code (chainable).
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithField adds a log context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error"`
	Type  ErrorType `json:"type"`
	Code  string    `json:"code,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		OK:    false,
		Error: e.Message,
		Type:  e.Type,
		Code:  e.Code,
	}
}

// AsStructuredError returns err as *Error, wrapping unknown errors as internal.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	if structured, ok := errors.AsType[*Error](err); ok {
		return structured
	}

	return InternalError("internal server error", err)
}
