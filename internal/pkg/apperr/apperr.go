// Package apperr classifies failures into the kinds the transport layer maps
// to status codes. Anything unclassified is Internal and is never shown to
// callers verbatim.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails returns a copy carrying machine-readable context for the caller.
func (e *Error) WithDetails(kv map[string]any) *Error {
	cp := *e
	cp.Details = kv
	return &cp
}

func newKind(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Err: cause}
}

func Validation(msg string) *Error      { return newKind(KindValidation, msg, nil) }
func NotFound(msg string) *Error        { return newKind(KindNotFound, msg, nil) }
func Forbidden(msg string) *Error       { return newKind(KindForbidden, msg, nil) }
func Conflict(msg string) *Error        { return newKind(KindConflict, msg, nil) }
func Unauthenticated(msg string) *Error { return newKind(KindUnauthenticated, msg, nil) }

// Wrap classifies cause under kind while keeping it reachable for errors.Is.
func Wrap(kind Kind, cause error, msg string) *Error {
	return newKind(kind, msg, cause)
}

// Internal marks an infrastructure failure.
func Internal(cause error) *Error {
	return newKind(KindInternal, "", cause)
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err; unclassified errors are Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
