package identity

import (
	"errors"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("user not found")
	ErrConflict     = errors.New("already exists")
)

// Error is returned by every identity store. Field names the logical column
// on conflicts ("email"); Detail never carries secrets or raw input.
type Error struct {
	Op     string
	Kind   error
	Field  string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Field != "" {
		b.WriteString(e.Field + " ")
	}
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(" (" + e.Detail + ")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func invalid(op, detail string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Detail: detail}
}

func notFound(op string) error { return &Error{Op: op, Kind: ErrNotFound} }

func conflict(op, field string) error {
	return &Error{Op: op, Kind: ErrConflict, Field: field}
}

// IsConflictOn reports whether err is a uniqueness violation on field.
func IsConflictOn(err error, field string) bool {
	var e *Error
	return errors.As(err, &e) && errors.Is(e.Kind, ErrConflict) && e.Field == field
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
