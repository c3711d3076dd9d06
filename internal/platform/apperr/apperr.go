// Package apperr defines the error taxonomy returned by the HTTP API and the
// echo error handler that renders it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream collaborator error")
	ErrInternal     = errors.New("internal error")
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is an error with an HTTP status and a client-safe message.
type AppError struct {
	Status  int          `json:"-"`
	Code    string       `json:"code"`
	Message string       `json:"error"`
	Fields  []FieldError `json:"fields,omitempty"`
	Err     error        `json:"-"`
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

// StatusCode returns the HTTP status the error renders with.
func (e *AppError) StatusCode() int {
	return e.Status
}

// Validation creates a 400 error carrying the list of offending fields.
func Validation(fields ...FieldError) *AppError {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: "validation failed",
		Fields:  fields,
		Err:     ErrValidation,
	}
}

// BadRequest creates a 400 error for malformed requests.
func BadRequest(message string) *AppError {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
		Err:     ErrValidation,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
		Err:     ErrUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Status:  http.StatusForbidden,
		Code:    "FORBIDDEN",
		Message: message,
		Err:     ErrForbidden,
	}
}

// NotFound creates a 404 error for the named resource.
func NotFound(resource string) *AppError {
	return &AppError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Err:     ErrNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
		Err:     ErrConflict,
	}
}

// Upstream wraps a failure of an external collaborator (generative model,
// object store) as a 502. The cause is logged but never sent to the client.
func Upstream(err error) *AppError {
	return &AppError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: "upstream service failed",
		Err:     errors.Join(ErrUpstream, err),
	}
}

// Internal wraps an unexpected failure as a 500.
func Internal(err error) *AppError {
	return &AppError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
		Err:     errors.Join(ErrInternal, err),
	}
}

// From converts any error into an AppError. Errors that are already AppErrors
// are returned unchanged; ErrNotFound-wrapping errors become 404s; everything
// else is treated as internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrNotFound) {
		return &AppError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "resource not found", Err: err}
	}
	return Internal(err)
}
