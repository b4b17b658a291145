// Package apperr defines the error taxonomy shared by every layer of orderd.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: session.ErrNotFound.
//   - The structured *Error type for anything that crosses the request
//     boundary: it carries a stable machine-readable code, the HTTP status
//     it maps to, and an optional cause.
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a stable machine-readable error code returned to clients.
type Code string

// Error codes. These are part of the client contract and must not change.
const (
	CodeUnauthenticated Code = "AUTHENTICATION_ERROR"
	CodeForbidden       Code = "AUTHORIZATION_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeRateLimited     Code = "RATE_LIMIT_EXCEEDED"
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// statusByCode maps every code to its fixed HTTP status.
var statusByCode = map[Code]int{
	CodeUnauthenticated: http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeValidation:      http.StatusBadRequest,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeExternalService: http.StatusBadGateway,
	CodeInternal:        http.StatusInternalServerError,
}

// Error is a classified application error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *Error) Is(target error) bool {
	var appErr *Error
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return errors.Is(e.Cause, target)
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether the error is caused by the client and
// should be logged at warn level rather than error level.
func (e *Error) IsClientError() bool {
	switch e.Code {
	case CodeUnauthenticated, CodeForbidden, CodeValidation,
		CodeNotFound, CodeConflict, CodeRateLimited:
		return true
	default:
		return false
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new Error wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Unauthenticated creates an AUTHENTICATION_ERROR.
func Unauthenticated(message string) *Error {
	return New(CodeUnauthenticated, message)
}

// Forbidden creates an AUTHORIZATION_ERROR.
func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

// Validation creates a VALIDATION_ERROR.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// NotFound creates a NOT_FOUND error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Conflict creates a CONFLICT error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// RateLimited creates a RATE_LIMIT_EXCEEDED error.
func RateLimited(message string) *Error {
	return New(CodeRateLimited, message)
}

// ExternalService creates an EXTERNAL_SERVICE_ERROR naming the service.
func ExternalService(service string, cause error) *Error {
	return Wrap(CodeExternalService, service+" unavailable", cause)
}

// Internal creates an INTERNAL_ERROR.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// From classifies an arbitrary error. A *Error passes through unchanged;
// anything else becomes an INTERNAL_ERROR wrapping the original.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeInternal, "unexpected error", err)
}

// Response is the JSON error body returned to clients.
type Response struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewResponse builds the client-facing response for an error.
func NewResponse(err *Error, requestID string) Response {
	return Response{
		Error:     http.StatusText(err.Status()),
		Message:   err.Message,
		Code:      string(err.Code),
		Status:    err.Status(),
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
