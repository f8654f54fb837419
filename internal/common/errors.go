package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetails attaches details and returns the same error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest is a 400 AppError pointing at a request field.
func BadRequest(field, message string, err error) *AppError {
	appErr := NewAppError("BAD_REQUEST", message, http.StatusBadRequest, err)
	if field != "" {
		appErr.Details = map[string]string{"field": field}
	}
	return appErr
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// WriteError renders err. AppErrors keep their status and code; anything else
// becomes a 500 without leaking the cause.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
