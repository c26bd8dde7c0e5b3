package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errDuplicateRecord = errors.New("session: duplicate refresh record")

// MemoryLedger keeps records in process memory. One mutex serialises every
// operation, which makes Rotate trivially atomic.
type MemoryLedger struct {
	mu     sync.Mutex
	byID   map[string]*Record
	byHash map[string]string
	byUser map[string][]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byID:   make(map[string]*Record),
		byHash: make(map[string]string),
		byUser: make(map[string][]string),
	}
}

func (l *MemoryLedger) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(rec)
}

func (l *MemoryLedger) insertLocked(rec Record) error {
	if rec.ID == "" || rec.UserID == "" || rec.TokenHash == "" {
		return errors.New("session: incomplete refresh record")
	}
	if _, ok := l.byID[rec.ID]; ok {
		return errDuplicateRecord
	}
	if _, ok := l.byHash[rec.TokenHash]; ok {
		return errDuplicateRecord
	}
	r := cloneRecord(rec)
	l.byID[r.ID] = &r
	l.byHash[r.TokenHash] = r.ID
	l.byUser[r.UserID] = append(l.byUser[r.UserID], r.ID)
	return nil
}

func (l *MemoryLedger) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byHash[tokenHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return cloneRecord(*l.byID[id]), nil
}

func (l *MemoryLedger) Rotate(ctx context.Context, now time.Time, consumedID string, next Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.byID[consumedID]
	if !ok || !old.Valid(now) {
		return ErrRotationConflict
	}
	if old.UserID != next.UserID {
		return errors.New("session: rotation across users")
	}
	if err := l.insertLocked(next); err != nil {
		return err
	}
	old.RevokedAt = ptr(now)
	old.ReplacedByID = ptr(next.ID)
	old.RevocationReason = ptr(ReasonRotation)
	return nil
}

func (l *MemoryLedger) Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.byID[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if r.RevokedAt != nil {
		return false, nil
	}
	r.RevokedAt = ptr(now)
	r.RevocationReason = ptr(reason)
	return true, nil
}

func (l *MemoryLedger) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, id := range l.byUser[userID] {
		r := l.byID[id]
		if !r.Valid(now) {
			continue
		}
		r.RevokedAt = ptr(now)
		r.RevocationReason = ptr(reason)
		n++
	}
	return n, nil
}
