package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorMapper maps errors to the Warden error taxonomy
type ErrorMapper interface {
	IsRetryable(err error) bool
	Category(err error) string
	HTTPStatus(err error) int
}

// DefaultErrorMapper implements the Warden error taxonomy mapping
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// IsRetryable determines if an error should trigger a retry
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the error category name
func (m *DefaultErrorMapper) Category(err error) string {
	return Category(err)
}

// HTTPStatus returns the HTTP status code for an error
func (m *DefaultErrorMapper) HTTPStatus(err error) int {
	return HTTPStatus(err)
}

// Category returns the Warden error category for an error.
// ErrApprovalRequired is checked before ErrPermissionDenied since it matches both.
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrApprovalRequired):
		return "ErrApprovalRequired"
	case errors.Is(err, ErrPermissionDenied):
		return "ErrPermissionDenied"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrUnknownTool):
		return "ErrUnknownTool"
	case errors.Is(err, ErrInvalidSignature):
		return "ErrInvalidSignature"
	case errors.Is(err, ErrReplay):
		return "ErrReplay"
	case errors.Is(err, ErrUnauthenticated):
		return "ErrUnauthenticated"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrAlreadyResolved):
		return "ErrAlreadyResolved"
	case errors.Is(err, ErrConflict):
		return "ErrConflict"
	case errors.Is(err, ErrRateLimited):
		return "ErrRateLimited"
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps an error to the status code returned by the API surfaces.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrApprovalRequired):
		return http.StatusAccepted
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrReplay), errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTransient):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// PermissionDenied wraps error as permission denied
func PermissionDenied(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPermissionDenied)
}

// ApprovalRequired wraps error as approval required
func ApprovalRequired(message string) error {
	return fmt.Errorf("%s: %w", message, ErrApprovalRequired)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// UnknownTool wraps error as unknown tool
func UnknownTool(name string) error {
	return fmt.Errorf("tool %q: %w", name, ErrUnknownTool)
}

// AlreadyResolved wraps error as already resolved
func AlreadyResolved(message string) error {
	return fmt.Errorf("%s: %w", message, ErrAlreadyResolved)
}

// Conflict wraps error as conflict
func Conflict(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConflict)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable checks if an error is transient or rate limited
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// Unauthenticated wraps error as unauthenticated
func Unauthenticated(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUnauthenticated)
}

// RateLimited wraps error as rate limited
func RateLimited(message string) error {
	return fmt.Errorf("%s: %w", message, ErrRateLimited)
}
