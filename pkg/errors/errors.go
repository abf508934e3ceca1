package errors

import (
	"errors"
	"fmt"
	"net/http"

	"groupchat/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError reports whether err carries an AppError anywhere in its chain.
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromDomain maps a domain sentinel to the AppError returned to HTTP callers.
// Errors already carrying an AppError are returned unchanged.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	// an outage behind a denial is still an outage to HTTP callers
	switch {
	case errors.Is(err, domain.ErrRepositoryUnavailable):
		return WrapError(err, ErrCodeServiceUnavailable, "membership repository unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrUnauthenticated):
		return WrapError(err, ErrCodeUnauthorized, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrMembershipDenied), errors.Is(err, domain.ErrForbidden):
		return WrapError(err, ErrCodeForbidden, "access denied", http.StatusForbidden)
	case errors.Is(err, domain.ErrUserNotFound):
		return WrapError(err, ErrCodeNotFound, "user not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrGroupNotFound):
		return WrapError(err, ErrCodeNotFound, "group not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrMembershipNotFound):
		return WrapError(err, ErrCodeNotFound, "membership not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyMember):
		return WrapError(err, ErrCodeConflict, "user is already a member", http.StatusConflict)
	case errors.Is(err, domain.ErrUserExists):
		return WrapError(err, ErrCodeConflict, "user already exists", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidGroupName),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrContentTooLong):
		return WrapError(err, ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	default:
		return WrapError(err, ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
}
