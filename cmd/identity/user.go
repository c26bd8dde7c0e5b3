package identity

import (
	"context"
	"time"
)

// User is the authenticated principal. PasswordHash is an encoded Argon2id
// hash and never leaves the server.
type User struct {
	ID           string
	Email        string
	EmailNorm    string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUserInput describes a registration that already passed validation
// and password hashing.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Now          time.Time
}

// Store is the credential persistence boundary.
//
// CreateUser fails with IsConflictOn(err, "email") when the normalized
// email is taken. Lookups return an error matching ErrNotFound when nothing matches.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
}

func (in CreateUserInput) check(op string) error {
	switch {
	case NormalizeEmail(in.Email) == "":
		return invalid(op, "email is required")
	case in.PasswordHash == "":
		return invalid(op, "password hash is required")
	}
	return nil
}
