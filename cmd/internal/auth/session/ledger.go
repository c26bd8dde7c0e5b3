package session

import (
	"context"
	"time"
)

// Revocation reasons recorded on RefreshRecords.
const (
	ReasonRotation      = "rotation"
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse_detected"
)

// Record is one issued refresh token. Only its digest is stored.
// A record is written once on issue and mutated at most once, on revocation.
type Record struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time

	RevokedAt        *time.Time
	ReplacedByID     *string
	RevocationReason *string
}

// Valid reports whether the record can still be redeemed at now.
func (r Record) Valid(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// Ledger persists refresh records.
//
// Rotate is the only compound operation and must be atomic: it succeeds only
// if consumedID is still valid at now, in which case consumedID is revoked
// with reason "rotation" and next is inserted. Otherwise it changes nothing
// and returns ErrRotationConflict.
type Ledger interface {
	Insert(ctx context.Context, rec Record) error

	// GetByHash returns ErrRecordNotFound when no record has tokenHash.
	GetByHash(ctx context.Context, tokenHash string) (Record, error)

	Rotate(ctx context.Context, now time.Time, consumedID string, next Record) error

	// Revoke revokes one record if it is not revoked yet and reports whether
	// this call did so. Unknown ids return ErrRecordNotFound.
	Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error)

	// RevokeAllForUser revokes every currently valid record of userID and
	// returns how many it revoked.
	RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int, error)
}

func ptr[T any](v T) *T { return &v }

func cloneRecord(r Record) Record {
	if r.RevokedAt != nil {
		r.RevokedAt = ptr(*r.RevokedAt)
	}
	if r.ReplacedByID != nil {
		r.ReplacedByID = ptr(*r.ReplacedByID)
	}
	if r.RevocationReason != nil {
		r.RevocationReason = ptr(*r.RevocationReason)
	}
	return r
}
