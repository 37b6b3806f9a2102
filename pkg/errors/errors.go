// Package errors defines the coded application errors shared by the
// enrollsync services and their mapping onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrRateLimited        = NewError("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)

	// ErrUnprocessable marks input that parsed but cannot be acted upon.
	ErrUnprocessable     = NewError("UNPROCESSABLE", "unprocessable entity", http.StatusUnprocessableEntity)
	ErrInvalidTransition = NewError("INVALID_TRANSITION", "invalid state transition", http.StatusConflict)
)

// permanent codes never succeed on a retry of the same input.
var permanent = map[string]bool{
	ErrNotFound.Code:          true,
	ErrValidation.Code:        true,
	ErrUnprocessable.Code:     true,
	ErrInvalidTransition.Code: true,
}

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error

	fatal bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

// Error prefers a "message" detail over the generic Message.
func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that errors.Is(err, ErrNotFound) holds for derived errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// IsFatal tells retry loops to stop. It holds for permanent codes, for
// errors marked with Fatal, and for any fatal error in the cause chain.
func (e *Error) IsFatal() bool {
	if e.fatal || permanent[e.Code] {
		return true
	}
	var f interface{ IsFatal() bool }
	return e.Cause != nil && errors.As(e.Cause, &f) && f.IsFatal()
}

// Fatal returns a copy of e that is never retried whatever its code.
func (e *Error) Fatal() *Error {
	err := *e
	err.fatal = true
	return &err
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

// WithDetail returns a copy of e with key set; e itself is not modified.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func hasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool { return hasCode(err, ErrNotFound.Code) }

func IsConflict(err error) bool { return hasCode(err, ErrConflict.Code) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorResponse documents the body ToErrorResponse produces.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToErrorResponse renders err for a JSON response. Errors outside this
// package are reported as INTERNAL_ERROR without leaking their text.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}
	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}
	return response
}
