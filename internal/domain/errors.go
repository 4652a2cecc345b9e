package domain

import (
	"errors"
	"fmt"
)

// Code is the machine-readable class of a domain failure.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeAccountInactive   Code = "ACCOUNT_INACTIVE"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is a typed domain failure carrying a code and a human message.
type Error struct {
	Code              Code
	Message           string
	Field             string
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrLimiterBusy is returned when the rate limiter exhausted its optimistic
// retries. It is deliberately not RATE_LIMITED: the caller was not over budget.
var ErrLimiterBusy = &Error{Code: CodeConflict, Message: "Rate limiter busy, please retry"}

func Validation(field, message string) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

func InsufficientFunds(message string) *Error {
	return &Error{Code: CodeInsufficientFunds, Message: message}
}

func AccountInactiveError(message string) *Error {
	return &Error{Code: CodeAccountInactive, Message: message}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Code: CodeRateLimited, Message: "Rate limit exceeded", RetryAfterSeconds: retryAfterSeconds}
}

func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf classifies err. Anything that is not a domain error is internal.
func CodeOf(err error) Code {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return CodeInternal
}
