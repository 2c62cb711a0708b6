package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP boundary. Handlers translate each
// kind to a fixed status code with a generic body; the wrapped message is
// for logs only and must not reach the client verbatim for Unavailable.
type Kind int

const (
	// KindUnknown is any error that was not classified.
	KindUnknown Kind = iota
	// KindInvalidArgument is bad caller input (missing or malformed identifiers).
	KindInvalidArgument
	// KindUnauthorized is a missing or invalid authenticated identity.
	KindUnauthorized
	// KindNotFound is a lookup by id that yielded nothing.
	KindNotFound
	// KindConflict is a duplicate-ownership insert or similar unique violation.
	KindConflict
	// KindUnavailable is a storage or upstream failure; propagated, never retried.
	KindUnavailable
	// KindCanceled is a caller-aborted request.
	KindCanceled
)

// Error pairs a kind with an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown if absent.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
