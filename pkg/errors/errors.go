package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jwalitptl/account-security/internal/model"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Violations []model.Violation `json:"violations,omitempty"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code onto a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidCredentials:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrValidation, ErrPasswordReused:
		return http.StatusUnprocessableEntity
	case ErrAccountLocked:
		return http.StatusLocked
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrRateLimited
)

// Account-security error codes
const (
	ErrValidation ErrorCode = iota + 2000
	ErrPasswordReused
	ErrStorageUnavailable
	ErrPartialPersistence
	ErrAuditSink
	ErrInvalidCredentials
	ErrAccountLocked
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// NewValidation carries every policy violation so callers can show them at once.
func NewValidation(result model.ValidationResult) *AppError {
	return &AppError{
		Code:       ErrValidation,
		Message:    "password does not meet the password policy",
		Violations: result.Violations,
	}
}

func NewPasswordReused() *AppError {
	return &AppError{
		Code:    ErrPasswordReused,
		Message: "you used this password recently, please choose a different one",
	}
}

func NewStorageUnavailable(err error) *AppError {
	return &AppError{
		Code:    ErrStorageUnavailable,
		Message: "service temporarily unavailable, please try again",
		Err:     err,
	}
}

// NewPartialPersistence reports that only one of the account digest and the
// password history was written. It needs reconciliation.
func NewPartialPersistence(accountID int64, err error) *AppError {
	return &AppError{
		Code:    ErrPartialPersistence,
		Message: fmt.Sprintf("password change for account %d was only partially persisted", accountID),
		Err:     err,
	}
}

func NewAuditSink(err error) *AppError {
	return &AppError{
		Code:    ErrAuditSink,
		Message: "audit sink unavailable",
		Err:     err,
	}
}

func NewInvalidCredentials() *AppError {
	return &AppError{
		Code:    ErrInvalidCredentials,
		Message: "invalid credentials",
	}
}

func NewAccountLocked() *AppError {
	return &AppError{
		Code:    ErrAccountLocked,
		Message: "account is locked, please try again later",
	}
}

func NewRateLimited(err error) *AppError {
	return &AppError{
		Code:    ErrRateLimited,
		Message: "too many requests",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(err error) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "forbidden",
		Err:     err,
	}
}

// CodeOf returns the AppError code in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
