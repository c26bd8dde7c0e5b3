package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden means the actor may not create this invite.
	ErrForbidden = errors.New("forbidden")
)
