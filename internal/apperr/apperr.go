// Package apperr defines the error taxonomy shared by the archive, search and
// git packages. Every failure returned across a package boundary is an *Error
// whose Kind unwraps to one of the sentinels below.
package apperr

import (
	"errors"
	"strings"
)

// Sentinel kinds.
var (
	// ErrNotFound covers missing archive entries, index documents, repository
	// paths, revisions and revision-scoped files.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput covers wrong archive extensions, bad line ranges and
	// malformed revision strings.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupt covers archives that fail to open, JSON that fails to parse
	// and content that is not valid text where text is required.
	ErrCorrupt = errors.New("corrupt data")

	// ErrState is returned when an operation runs before an archive or
	// repository has been configured.
	ErrState = errors.New("not configured")
)

// Error carries the failing operation and its subject (path, revision, range)
// so callers can present a precise message.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

// New builds an *Error. kind should be one of the package sentinels or an
// error wrapping one of them.
func New(kind error, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Subject != "" {
		b.WriteString(" ")
		b.WriteString(e.Subject)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf reports the taxonomy sentinel err belongs to, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrNotFound, ErrInvalidInput, ErrCorrupt, ErrState} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// NotFound is shorthand for New(ErrNotFound, ...).
func NotFound(op, subject string, err error) *Error {
	return New(ErrNotFound, op, subject, err)
}

// InvalidInput is shorthand for New(ErrInvalidInput, ...).
func InvalidInput(op, subject string, err error) *Error {
	return New(ErrInvalidInput, op, subject, err)
}

// Corrupt is shorthand for New(ErrCorrupt, ...).
func Corrupt(op, subject string, err error) *Error {
	return New(ErrCorrupt, op, subject, err)
}

// State is shorthand for New(ErrState, ...).
func State(op, subject string) *Error {
	return New(ErrState, op, subject, nil)
}
