package invite

import "context"

// CreateRecord is an invite plus the hash of its code.
type CreateRecord struct {
	Invite
	CodeHash string
}

// Store is the persistence boundary for invites.
type Store interface {
	Create(ctx context.Context, in CreateRecord) error
}
