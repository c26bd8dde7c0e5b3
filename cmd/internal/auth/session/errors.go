package session

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. Match with errors.Is;
	// the concrete error is a *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailInUse = errors.New("email already in use")

	// Token errors. The HTTP layer collapses all four into one response.
	ErrTokenMissing = errors.New("token missing")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// ErrRecordNotFound is returned by ledgers when no record matches.
	ErrRecordNotFound = errors.New("refresh record not found")

	// ErrRotationConflict is returned by Ledger.Rotate when the consumed
	// record is no longer valid, typically because a concurrent refresh won.
	ErrRotationConflict = errors.New("refresh record already consumed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Kind is the coarse class of a session error, as exposed on the wire.
type Kind string

const (
	KindNone           Kind = ""
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindToken          Kind = "token"
	KindSystem         Kind = "system"
)

// KindOf classifies err. Anything unrecognised is a system error.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrEmailInUse):
		return KindAuthentication
	case IsTokenError(err):
		return KindToken
	default:
		return KindSystem
	}
}

// IsTokenError reports whether err is one of the four token errors.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenMissing) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked)
}
