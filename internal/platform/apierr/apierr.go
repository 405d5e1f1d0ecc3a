package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries an HTTP status and a stable machine-readable code alongside
// the underlying error. Services return these; the HTTP layer maps them onto
// response envelopes without inspecting error strings.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Error codes used across services.
const (
	CodeInputError    = "input_error"
	CodeNotEnrolled   = "not_enrolled"
	CodeNotFound      = "not_found"
	CodeProviderError = "provider_error"
	CodeInternalError = "internal_error"
	CodeUnauthorized  = "unauthorized"
)

func Input(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeInputError, fmt.Errorf(format, args...))
}

func NotEnrolled(format string, args ...any) *Error {
	return New(http.StatusForbidden, CodeNotEnrolled, fmt.Errorf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func Provider(err error) *Error {
	return New(http.StatusBadGateway, CodeProviderError, err)
}

// From extracts an *Error from err, or wraps it as a 500 internal error.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, CodeInternalError, err)
}
