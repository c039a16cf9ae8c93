// Package errors defines the typed service errors returned by the loyalty
// layer and their HTTP mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeInvalidFormat       ErrorCode = "INVALID_FORMAT"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeStorage             ErrorCode = "STORAGE_ERROR"
	CodeTimeout             ErrorCode = "STORAGE_TIMEOUT"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error carrying a code, a caller-facing message and the
// HTTP status it maps to.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns the same error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports malformed or missing input. The message names the
// violated constraint and is shown to the caller.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...interface{}) *ServiceError {
	return Validation(fmt.Sprintf(format, args...))
}

// InvalidFormat reports a value that could not be parsed.
func InvalidFormat(field, expected string) *ServiceError {
	return newError(CodeInvalidFormat, http.StatusBadRequest,
		fmt.Sprintf("Invalid %s: expected %s", field, expected), nil).WithDetails("field", field)
}

// NotFound reports a missing entity.
func NotFound(resource, id string) *ServiceError {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %q not found", resource, id)
	}
	return newError(CodeNotFound, http.StatusNotFound, msg, nil)
}

// InsufficientBalance reports a deduction that would make a balance negative.
func InsufficientBalance(available, requested int64) *ServiceError {
	return newError(CodeInsufficientBalance, http.StatusBadRequest,
		fmt.Sprintf("Insufficient points balance: available %d, requested %d", available, requested), nil).
		WithDetails("available", available).
		WithDetails("requested", requested)
}

// Storage reports a persistence failure. The message is never shown to callers.
func Storage(op string, err error) *ServiceError {
	return newError(CodeStorage, http.StatusInternalServerError, op+" failed", err)
}

// Timeout reports a storage round trip that exceeded its deadline.
func Timeout(op string, err error) *ServiceError {
	return newError(CodeTimeout, http.StatusInternalServerError, op+" timed out", err)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a bearer token that failed verification.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

// Forbidden reports an authenticated principal lacking the required role.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Insufficient permissions"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit exceeded: %d requests per %s", limit, window), nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New returns a plain error with the given text.
func New(text string) error { return errors.New(text) }

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

func hasCode(err error, codes ...ErrorCode) bool {
	se := GetServiceError(err)
	if se == nil {
		return false
	}
	for _, c := range codes {
		if se.Code == c {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation, CodeInvalidFormat)
}

// IsNotFound reports whether err is a missing entity.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsInsufficientBalance reports whether err is an overspend.
func IsInsufficientBalance(err error) bool { return hasCode(err, CodeInsufficientBalance) }

// IsStorage reports whether err is a persistence failure or timeout.
func IsStorage(err error) bool { return hasCode(err, CodeStorage, CodeTimeout) }

// IsClientError reports whether err should be echoed to the caller.
func IsClientError(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.HTTPStatus >= 400 && se.HTTPStatus < 500
}
