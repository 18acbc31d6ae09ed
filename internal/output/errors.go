package output

import (
	"errors"
	"fmt"
	"time"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ExitCode returns the exit code for this error.
func (e *Error) ExitCode() int { return ExitCodeFor(e.Code) }

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, identifier),
		HTTPStatus: 404,
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: issuesync auth login",
	}
}

func ErrForbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg, HTTPStatus: 403}
}

// ErrRateLimit reports a rejected request; retryAfter may be zero.
func ErrRateLimit(retryAfter time.Duration, cause error) *Error {
	hint := "Try again later"
	if retryAfter > 0 {
		hint = fmt.Sprintf("Try again in %s", retryAfter.Round(time.Second))
	}
	return &Error{
		Code:       CodeRateLimit,
		Message:    "Rate limited",
		Hint:       hint,
		HTTPStatus: 429,
		Retryable:  true,
		Cause:      cause,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{Code: CodeAPI, Message: msg, HTTPStatus: status}
}

// AsError returns err as an *Error, wrapping unknown errors as api_error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}

// ReportedError marks an error whose envelope has already been written.
// The CLI exits with its code without printing again.
type ReportedError struct {
	Err *Error
}

func (e *ReportedError) Error() string { return e.Err.Error() }

func (e *ReportedError) Unwrap() error { return e.Err }

// Reported wraps err as already written.
func Reported(err *Error) error {
	return &ReportedError{Err: err}
}
