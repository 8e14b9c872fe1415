// Package errors defines the core's fixed error taxonomy. Every fallible
// core operation returns one of these kinds (or nil); callers classify
// failures with errors.Is/errors.As rather than string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification. The set is closed —
// no caller should need to handle an unlisted kind.
type Kind string

const (
	InvalidSpec          Kind = "invalid-spec"
	InvalidResource      Kind = "invalid-resource"
	ResourceNotFound     Kind = "resource-not-found"
	ResourceGone         Kind = "resource-gone"
	VersionConflict      Kind = "version-conflict"
	PreconditionFailed   Kind = "precondition-failed"
	InvalidSearchRequest Kind = "invalid-search-request"
	Timeout              Kind = "timeout"
	InternalError        Kind = "internal-error"
)

// Error is the core's error type: a Kind plus a human message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, letting
// errors.Is(err, errors.New(SomeKind, "")) style sentinel checks work
// without constructing a full message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a zero-message *Error of the given kind, suitable only
// as a target for errors.Is(err, Sentinel(SomeKind)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// KindOf extracts the Kind from err, returning InternalError if err does
// not carry one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
