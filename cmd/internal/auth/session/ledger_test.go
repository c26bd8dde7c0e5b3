package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trackr/cmd/identity/ids"
	"trackr/cmd/security/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var ledgerEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ledgerHarness struct {
	ledger  Ledger
	newUser func(t *testing.T) string
}

func newTestRecord(userID string, issued time.Time, ttl time.Duration) Record {
	id := ids.MustULID(issued)
	return Record{
		ID:        id,
		UserID:    userID,
		TokenHash: token.HashSHA256Hex("raw-" + id),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}
}

func newMiniredisLedger(t *testing.T) *RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := NewRedisLedger(rdb, WithKeyPrefix("test:refresh:"))
	if err != nil {
		t.Fatalf("NewRedisLedger: %v", err)
	}
	return l
}

func anyUser(*testing.T) string { return ids.MustULID(time.Time{}) }

func TestLedger_Memory(t *testing.T) {
	t.Parallel()
	runLedgerSuite(t, func(t *testing.T) ledgerHarness {
		return ledgerHarness{ledger: NewMemoryLedger(), newUser: anyUser}
	})
}

func TestLedger_Redis(t *testing.T) {
	t.Parallel()
	runLedgerSuite(t, func(t *testing.T) ledgerHarness {
		return ledgerHarness{ledger: newMiniredisLedger(t), newUser: anyUser}
	})
}

func runLedgerSuite(t *testing.T, setup func(t *testing.T) ledgerHarness) {
	ctx := context.Background()

	t.Run("insert and lookup", func(t *testing.T) {
		h := setup(t)
		rec := newTestRecord(h.newUser(t), ledgerEpoch, time.Hour)
		if err := h.ledger.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		got, err := h.ledger.GetByHash(ctx, rec.TokenHash)
		if err != nil {
			t.Fatalf("GetByHash: %v", err)
		}
		if got.ID != rec.ID || got.UserID != rec.UserID || got.TokenHash != rec.TokenHash {
			t.Fatalf("got %+v want %+v", got, rec)
		}
		if !got.IssuedAt.Equal(rec.IssuedAt) || !got.ExpiresAt.Equal(rec.ExpiresAt) {
			t.Fatalf("times: got %v/%v want %v/%v", got.IssuedAt, got.ExpiresAt, rec.IssuedAt, rec.ExpiresAt)
		}
		if got.RevokedAt != nil || got.ReplacedByID != nil || got.RevocationReason != nil {
			t.Fatalf("fresh record carries revocation state: %+v", got)
		}
		if !got.Valid(ledgerEpoch) {
			t.Fatal("fresh record should be valid")
		}

		if _, err := h.ledger.GetByHash(ctx, token.HashSHA256Hex("unknown")); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("unknown hash err = %v", err)
		}

		dup := newTestRecord(rec.UserID, ledgerEpoch, time.Hour)
		dup.TokenHash = rec.TokenHash
		if err := h.ledger.Insert(ctx, dup); err == nil {
			t.Fatal("duplicate token hash must be rejected")
		}
	})

	t.Run("rotate consumes exactly once", func(t *testing.T) {
		h := setup(t)
		uid := h.newUser(t)
		old := newTestRecord(uid, ledgerEpoch, time.Hour)
		if err := h.ledger.Insert(ctx, old); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		now := ledgerEpoch.Add(time.Minute)
		next := newTestRecord(uid, now, time.Hour)
		if err := h.ledger.Rotate(ctx, now, old.ID, next); err != nil {
			t.Fatalf("Rotate: %v", err)
		}

		gotOld, err := h.ledger.GetByHash(ctx, old.TokenHash)
		if err != nil {
			t.Fatalf("GetByHash old: %v", err)
		}
		if gotOld.RevokedAt == nil || !gotOld.RevokedAt.Equal(now) {
			t.Fatalf("old RevokedAt = %v", gotOld.RevokedAt)
		}
		if gotOld.ReplacedByID == nil || *gotOld.ReplacedByID != next.ID {
			t.Fatalf("old ReplacedByID = %v", gotOld.ReplacedByID)
		}
		if gotOld.RevocationReason == nil || *gotOld.RevocationReason != ReasonRotation {
			t.Fatalf("old RevocationReason = %v", gotOld.RevocationReason)
		}

		gotNext, err := h.ledger.GetByHash(ctx, next.TokenHash)
		if err != nil || !gotNext.Valid(now) {
			t.Fatalf("next = %+v, %v", gotNext, err)
		}

		again := newTestRecord(uid, now, time.Hour)
		if err := h.ledger.Rotate(ctx, now, old.ID, again); !errors.Is(err, ErrRotationConflict) {
			t.Fatalf("second Rotate err = %v", err)
		}
		if _, err := h.ledger.GetByHash(ctx, again.TokenHash); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("losing rotation must not insert its record, err = %v", err)
		}
	})

	t.Run("rotate refuses expired and unknown", func(t *testing.T) {
		h := setup(t)
		uid := h.newUser(t)
		old := newTestRecord(uid, ledgerEpoch, time.Minute)
		if err := h.ledger.Insert(ctx, old); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		late := ledgerEpoch.Add(time.Minute)
		if err := h.ledger.Rotate(ctx, late, old.ID, newTestRecord(uid, late, time.Hour)); !errors.Is(err, ErrRotationConflict) {
			t.Fatalf("Rotate expired err = %v", err)
		}
		if err := h.ledger.Rotate(ctx, ledgerEpoch, ids.MustULID(ledgerEpoch), newTestRecord(uid, ledgerEpoch, time.Hour)); !errors.Is(err, ErrRotationConflict) {
			t.Fatalf("Rotate unknown err = %v", err)
		}
	})

	t.Run("concurrent rotate has one winner", func(t *testing.T) {
		h := setup(t)
		uid := h.newUser(t)
		old := newTestRecord(uid, ledgerEpoch, time.Hour)
		if err := h.ledger.Insert(ctx, old); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		const n = 16
		now := ledgerEpoch.Add(time.Second)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = h.ledger.Rotate(ctx, now, old.ID, newTestRecord(uid, now, time.Hour))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRotationConflict):
			default:
				t.Fatalf("unexpected Rotate error: %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("winners = %d, want 1", wins)
		}
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		h := setup(t)
		rec := newTestRecord(h.newUser(t), ledgerEpoch, time.Hour)
		if err := h.ledger.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		now := ledgerEpoch.Add(time.Minute)
		ok, err := h.ledger.Revoke(ctx, now, rec.ID, ReasonLogout)
		if err != nil || !ok {
			t.Fatalf("first Revoke = %v, %v", ok, err)
		}
		ok, err = h.ledger.Revoke(ctx, now.Add(time.Minute), rec.ID, ReasonLogout)
		if err != nil || ok {
			t.Fatalf("second Revoke = %v, %v", ok, err)
		}

		got, _ := h.ledger.GetByHash(ctx, rec.TokenHash)
		if got.RevokedAt == nil || !got.RevokedAt.Equal(now) {
			t.Fatalf("RevokedAt = %v, want first revocation time", got.RevokedAt)
		}
		if got.RevocationReason == nil || *got.RevocationReason != ReasonLogout {
			t.Fatalf("RevocationReason = %v", got.RevocationReason)
		}

		if _, err := h.ledger.Revoke(ctx, now, ids.MustULID(now), ReasonLogout); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("Revoke unknown err = %v", err)
		}
	})

	t.Run("revoke all touches only valid records of the user", func(t *testing.T) {
		h := setup(t)
		uid, other := h.newUser(t), h.newUser(t)

		live := newTestRecord(uid, ledgerEpoch, time.Hour)
		expired := newTestRecord(uid, ledgerEpoch, time.Minute)
		revoked := newTestRecord(uid, ledgerEpoch, time.Hour)
		foreign := newTestRecord(other, ledgerEpoch, time.Hour)
		for _, r := range []Record{live, expired, revoked, foreign} {
			if err := h.ledger.Insert(ctx, r); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
		if _, err := h.ledger.Revoke(ctx, ledgerEpoch, revoked.ID, ReasonLogout); err != nil {
			t.Fatalf("Revoke: %v", err)
		}

		now := ledgerEpoch.Add(10 * time.Minute)
		n, err := h.ledger.RevokeAllForUser(ctx, now, uid, ReasonReuseDetected)
		if err != nil {
			t.Fatalf("RevokeAllForUser: %v", err)
		}
		if n != 1 {
			t.Fatalf("revoked %d, want 1", n)
		}

		got, _ := h.ledger.GetByHash(ctx, live.TokenHash)
		if got.RevocationReason == nil || *got.RevocationReason != ReasonReuseDetected {
			t.Fatalf("live record reason = %v", got.RevocationReason)
		}
		got, _ = h.ledger.GetByHash(ctx, revoked.TokenHash)
		if got.RevocationReason == nil || *got.RevocationReason != ReasonLogout {
			t.Fatalf("already revoked record was rewritten: %v", got.RevocationReason)
		}
		got, _ = h.ledger.GetByHash(ctx, expired.TokenHash)
		if got.RevokedAt != nil {
			t.Fatal("expired record should be left alone")
		}
		got, _ = h.ledger.GetByHash(ctx, foreign.TokenHash)
		if got.RevokedAt != nil {
			t.Fatal("other user's record was revoked")
		}
	})
}
