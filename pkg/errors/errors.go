package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels every AppError unwraps to, so callers can match on the kind.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrForbidden   = errors.New("forbidden")
	ErrBadRequest  = errors.New("bad request")
	ErrConflict    = errors.New("resource conflict")
	ErrInternal    = errors.New("internal server error")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")
)

// Codes returned in the API error body.
const (
	CodeNotFound    = "NOT_FOUND"
	CodeForbidden   = "FORBIDDEN"
	CodeBadRequest  = "BAD_REQUEST"
	CodeConflict    = "CONFLICT"
	CodeInternal    = "INTERNAL_ERROR"
	CodeValidation  = "VALIDATION_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError is an error the HTTP layer can render as-is.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`

	kind error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the cause and the kind sentinel.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.kind != nil && e.kind != e.Err {
		errs = append(errs, e.kind)
	}
	return errs
}

// New creates an AppError with a custom code.
func New(code string, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// Wrap attaches a cause to a new AppError.
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{Err: err, Code: code, Message: message, StatusCode: statusCode}
}

// WithDetails sets per-field details.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithCause records the underlying error without changing the kind.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func ofKind(kind error, code string, status int, message string) *AppError {
	return &AppError{kind: kind, Code: code, Message: message, StatusCode: status}
}

func NotFound(resource string) *AppError {
	return ofKind(ErrNotFound, CodeNotFound, http.StatusNotFound, resource+" not found")
}

func Forbidden(message string) *AppError {
	return ofKind(ErrForbidden, CodeForbidden, http.StatusForbidden, message)
}

func BadRequest(message string) *AppError {
	return ofKind(ErrBadRequest, CodeBadRequest, http.StatusBadRequest, message)
}

func Conflict(message string) *AppError {
	return ofKind(ErrConflict, CodeConflict, http.StatusConflict, message)
}

func Internal(message string) *AppError {
	return ofKind(ErrInternal, CodeInternal, http.StatusInternalServerError, message)
}

// Validation reports rejected input, one message per field.
func Validation(details map[string]string) *AppError {
	return ofKind(ErrValidation, CodeValidation, http.StatusBadRequest, "validation failed").WithDetails(details)
}

// Unavailable reports a dependency or deadline failure the caller may retry.
func Unavailable(message string) *AppError {
	return ofKind(ErrUnavailable, CodeUnavailable, http.StatusServiceUnavailable, message)
}

// Retryable reports whether err is worth another attempt, e.g. by
// requeueing the message that caused it.
func Retryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return appErr.StatusCode >= http.StatusInternalServerError
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
