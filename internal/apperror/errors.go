// Package apperror provides domain-specific error types for the service.
// These errors carry an HTTP status code, a machine-readable type and a
// user-safe message. The Echo error handler maps them to HTTP responses.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error type classifiers. Clients switch on these, not on messages.
const (
	TypeValidation         = "validation_error"
	TypeBadRequest         = "bad_request"
	TypeAlreadyExists      = "already_exists"
	TypeNotFound           = "not_found"
	TypeInvalidCredentials = "invalid_credentials"
	TypeInvalidCode        = "invalid_code"
	TypeExpired            = "expired"
	TypeAlreadyUsed        = "already_used"
	TypeUnauthorized       = "unauthorized"
	TypeForbidden          = "forbidden"
	TypeNoOpChange         = "no_op_change"
	TypeRateLimited        = "rate_limited"
	TypeInternal           = "internal_error"
)

// AppError is the base error type for all domain errors.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

func newError(code int, typ, message string) *AppError {
	return &AppError{Code: code, Type: typ, Message: message}
}

// --- Constructors ---

// NewValidation creates a 400 error for malformed or out-of-range input.
func NewValidation(message string) *AppError {
	return newError(http.StatusBadRequest, TypeValidation, message)
}

// NewBadRequest creates a 400 error for requests that cannot be processed.
func NewBadRequest(message string) *AppError {
	return newError(http.StatusBadRequest, TypeBadRequest, message)
}

// NewAlreadyExists creates a 409 error for uniqueness violations.
func NewAlreadyExists(message string) *AppError {
	return newError(http.StatusConflict, TypeAlreadyExists, message)
}

// NewNotFound creates a 404 error.
func NewNotFound(message string) *AppError {
	return newError(http.StatusNotFound, TypeNotFound, message)
}

// NewInvalidCredentials creates a 401 error for a failed password check.
func NewInvalidCredentials(message string) *AppError {
	return newError(http.StatusUnauthorized, TypeInvalidCredentials, message)
}

// NewInvalidCode creates a 401 error for a one-time code that doesn't match.
func NewInvalidCode(message string) *AppError {
	return newError(http.StatusUnauthorized, TypeInvalidCode, message)
}

// NewExpired creates a 401 error for a one-time code past its lifetime.
func NewExpired(message string) *AppError {
	return newError(http.StatusUnauthorized, TypeExpired, message)
}

// NewAlreadyUsed creates a 401 error for a one-time code already redeemed.
func NewAlreadyUsed(message string) *AppError {
	return newError(http.StatusUnauthorized, TypeAlreadyUsed, message)
}

// NewUnauthorized creates a 401 error for a missing or invalid session token.
func NewUnauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, TypeUnauthorized, message)
}

// NewForbidden creates a 403 error.
func NewForbidden(message string) *AppError {
	return newError(http.StatusForbidden, TypeForbidden, message)
}

// NewNoOpChange creates a 400 error for an update that changes nothing.
func NewNoOpChange(message string) *AppError {
	return newError(http.StatusBadRequest, TypeNoOpChange, message)
}

// NewRateLimited creates a 429 error.
func NewRateLimited(message string) *AppError {
	return newError(http.StatusTooManyRequests, TypeRateLimited, message)
}

// errMissingContext is the shared internal error for nil precondition checks.
var errMissingContext = errors.New("missing required context")

// NewMissingContext creates a 500 error for handler nil-context guards
// (e.g. auth claims not set because middleware wasn't applied).
func NewMissingContext() *AppError {
	return NewInternal(errMissingContext)
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// SafeMessage returns the client-safe error message from an error. For any
// error that isn't an AppError a generic message is returned so table names
// and query structure never leak.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// Is reports whether err is an AppError of the given type.
func Is(err error, typ string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == typ
}
