package common

import (
	"errors"
	"net/http"
)

// Kind classifies an AppError for HTTP mapping and logging.
type Kind string

const (
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Kind       Kind
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

// WithDetails attaches details rendered in the error envelope.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation reports a user-correctable problem. The message is shown verbatim.
func Validation(code, message string, err error) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message, HTTPStatus: http.StatusBadRequest, Err: err}
}

// SignatureMismatch reports a callback whose signature could not be verified.
func SignatureMismatch(err error) *AppError {
	return &AppError{Kind: KindUpstream, Code: "INVALID_SIGNATURE", Message: "signature verification failed", HTTPStatus: http.StatusBadRequest, Err: err}
}

// Upstream reports a dependency failure. Clients only see a generic message.
func Upstream(code string, err error) *AppError {
	return &AppError{Kind: KindUpstream, Code: code, Message: "upstream service error", HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Unauthorized reports a missing or invalid session.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{Kind: KindAuth, Code: "UNAUTHORIZED", Message: message, HTTPStatus: http.StatusUnauthorized}
}

// Forbidden reports an authenticated caller lacking a role.
func Forbidden(message string) *AppError {
	return &AppError{Kind: KindAuth, Code: "FORBIDDEN", Message: message, HTTPStatus: http.StatusForbidden}
}

// NotFound reports a missing resource.
func NotFound(code, message string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code, Message: message, HTTPStatus: http.StatusNotFound}
}

// Conflict reports a state conflict such as a duplicate key.
func Conflict(code, message string, err error) *AppError {
	return &AppError{Kind: KindConflict, Code: code, Message: message, HTTPStatus: http.StatusConflict, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError extracts the first AppError in the chain.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
