// Package apperr defines the result kinds returned by the attendance core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindNotFound Kind = "not_found"
	KindDenied   Kind = "denied"
	KindInvalid  Kind = "invalid"
	KindStorage  Kind = "storage"
)

// Error carries a Kind, a caller-facing message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports that no identity matches.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Denied reports an identity that exists but may not check in.
func Denied(format string, args ...any) *Error {
	return &Error{Kind: KindDenied, Msg: fmt.Sprintf(format, args...)}
}

// Invalid reports malformed input.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a backend fault; callers may retry.
func Storage(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err has kind k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// Retryable reports whether repeating the call may succeed.
func Retryable(err error) bool { return Is(err, KindStorage) }

// Message returns the caller-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
