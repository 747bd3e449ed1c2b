package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur during a run
type ErrorType string

const (
	// Per-card and per-image failures. These never abort a run.
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeNavigation ErrorType = "navigation"
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeDownload   ErrorType = "download"

	// The feed could not be reached, or its scroll mechanics broke.
	ErrorTypeFatalSession ErrorType = "fatal_session"

	// Transport level kinds used to decide retries.
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeNotFound    ErrorType = "not_found"
)

// Error is a typed error carrying an optional status code and cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Type) + " error"
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a type and message to an underlying error
func Wrap(t ErrorType, err error, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsType reports whether any typed error in the chain has type t
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var typed *Error
		if !stderrors.As(err, &typed) {
			return false
		}
		if typed.Type == t {
			return true
		}
		err = typed.Err
	}
	return false
}

// IsFatal reports whether the error must terminate the run
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeFatalSession)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// FromStatus maps an unsuccessful HTTP status to a typed error
func FromStatus(statusCode int, message string) *Error {
	t := ErrorTypeDownload
	switch {
	case statusCode == 429:
		t = ErrorTypeRateLimit
	case statusCode == 404:
		t = ErrorTypeNotFound
	case statusCode >= 500:
		t = ErrorTypeServerError
	}
	return &Error{Type: t, Message: message, Code: statusCode}
}
